// Package notifications pushes scan session events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers publish unconditionally. Successful redemptions are only sent when
// the configuration opts in; failures and scan timeouts always are.
package notifications
