// Package config loads, normalizes, and validates voucherscan configuration.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours the VOUCHERSCAN_REDEMPTION_URL and
// VOUCHERSCAN_API_TOKEN environment fallbacks. Scanner timings are exposed as
// durations so callers never convert milliseconds themselves.
package config
