package coordinator

import (
	"voucherscan/internal/camera"
	"voucherscan/internal/scanerr"
	"voucherscan/internal/scanloop"
)

// Phase is the coordinator lifecycle phase.
type Phase string

const (
	PhaseInitializing     Phase = "initializing"
	PhasePermissionDenied Phase = "permission_denied"
	PhaseReady            Phase = "ready"
	PhaseScanning         Phase = "scanning"
	PhaseRedeeming        Phase = "redeeming"
	PhaseRedeemedSuccess  Phase = "redeemed_success"
	PhaseRedeemedError    Phase = "redeemed_error"
	PhaseClosed           Phase = "closed"
)

// canStart reports whether scanning may be started from p.
func (p Phase) canStart() bool {
	switch p {
	case PhaseReady, PhaseScanning, PhaseRedeemedSuccess, PhaseRedeemedError:
		return true
	default:
		return false
	}
}

// State is the presentation view of a coordinator.
type State struct {
	Phase         Phase
	HasPermission camera.Tri
	// Error is advisory text; empty when there is nothing to show.
	Error     string
	ErrorKind scanerr.Kind

	LastScanResult   *scanloop.Result
	LastRedeemed     string
	Devices          []camera.Device
	SelectedDeviceID string
	IsRedeeming      bool
	SessionID        string
}

func (s State) clone() State {
	out := s
	if s.LastScanResult != nil {
		r := *s.LastScanResult
		out.LastScanResult = &r
	}
	if s.Devices != nil {
		out.Devices = append([]camera.Device(nil), s.Devices...)
	}
	return out
}

func (s *State) setError(err error) {
	if err == nil {
		s.Error = ""
		s.ErrorKind = scanerr.KindNone
		return
	}
	s.Error = scanerr.UserMessage(err)
	s.ErrorKind = scanerr.KindOf(err)
}
