package logging

import (
	"context"
	"log/slog"
	"strings"
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	voucherIDKey
)

// WithSessionID stores the scanning session identifier on ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	if strings.TrimSpace(id) == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext returns the session identifier stored on ctx.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

// WithVoucherID stores the voucher being redeemed on ctx.
func WithVoucherID(ctx context.Context, id string) context.Context {
	if strings.TrimSpace(id) == "" {
		return ctx
	}
	return context.WithValue(ctx, voucherIDKey, id)
}

// VoucherIDFromContext returns the voucher identifier stored on ctx.
func VoucherIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(voucherIDKey).(string)
	return id, ok && id != ""
}

// ContextFields extracts the standard attributes carried by ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if id, ok := SessionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if id, ok := VoucherIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldVoucherID, id))
	}
	return fields
}

// WithContext returns logger augmented with the fields carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
