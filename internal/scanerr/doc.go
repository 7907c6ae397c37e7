// Package scanerr defines the closed error taxonomy shared by the scanning
// pipeline.
//
// Every failure that crosses a component boundary (permission checks, device
// acquisition, payload parsing, dedup, the redemption endpoint, and scan
// timeouts) is converted into an *Error carrying one of the Kind values below.
// Callers classify failures with KindOf instead of inspecting messages.
package scanerr
