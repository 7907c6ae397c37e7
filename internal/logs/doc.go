// Package logs reads the per-run JSON log files written by the scanner.
//
// It finds run logs in the log directory, returns the last lines of a file
// with bounded memory, follows a file as it grows, and filters records by
// session, voucher or minimum level.
package logs
