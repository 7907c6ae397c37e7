// Package logging assembles the structured slog loggers used by voucherscan.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// field names shared by every component so scan, capture, and redemption logs
// can be correlated by session, device, and voucher. A no-op logger is
// provided for tests and wiring code that has nothing to log to.
package logging
