package camera

import (
	"context"
	"log/slog"

	"voucherscan/internal/logging"
)

// PermissionGate queries camera permission without ever failing.
type PermissionGate struct {
	querier PermissionQuerier
	logger  *slog.Logger
}

// NewPermissionGate wraps querier. A nil querier means the host has no
// permission capability.
func NewPermissionGate(querier PermissionQuerier, logger *slog.Logger) *PermissionGate {
	return &PermissionGate{
		querier: querier,
		logger:  logging.NewComponentLogger(logger, "permission"),
	}
}

// Query returns the current permission state. Hosts without a permission
// capability report prompt; a failed query reports denied.
func (g *PermissionGate) Query(ctx context.Context) PermissionState {
	if g == nil || g.querier == nil {
		return PermissionPrompt
	}
	state, err := g.querier.QueryCameraPermission(ctx)
	if err != nil {
		logging.WarnWithContext(g.logger, "camera permission query failed", "permission_query_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check device node ownership and group membership (video)"),
			logging.String(logging.FieldImpact, "camera treated as denied"),
		)
		return PermissionDenied
	}
	switch state {
	case PermissionGranted, PermissionDenied, PermissionPrompt:
		return state
	default:
		return PermissionPrompt
	}
}

// TriFromPermission derives the scanner's tri-state permission view.
func TriFromPermission(state PermissionState) Tri {
	switch state {
	case PermissionGranted:
		return TriGranted
	case PermissionDenied:
		return TriDenied
	default:
		return TriUnknown
	}
}
