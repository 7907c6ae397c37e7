// Package scanloop runs the throttled decode loop over an acquired capture
// session.
//
// A Loop moves Idle -> Running -> Stopped. While running it asks the decoder
// for one frame per tick, defers ticks that fall inside the scan delay after a
// successful decode, and stops itself when no code has been decoded for the
// configured timeout. Time comes from an injected schedule.Clock so the
// throttle and timeout rules are testable without sleeping.
package scanloop
