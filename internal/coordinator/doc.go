// Package coordinator owns the scan-to-redemption state machine.
//
// A Coordinator wires the permission gate, device catalog, scan loop and
// redemption client together. Decoded payloads are sanitized, parsed, checked
// against the session History and then redeemed at most once at a time on a
// separate goroutine, so frame decoding carries on while a call is in flight.
// State is guarded by a mutex and exposed read-only through Snapshot.
package coordinator
