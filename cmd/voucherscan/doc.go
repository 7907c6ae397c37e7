// Package main hosts the voucherscan CLI.
//
// The Cobra command tree resolves configuration once, builds the capture,
// decode and redemption pipeline for the scan command, and exposes the
// supporting tools: payload decoding, device listing, the redemption journal,
// configuration scaffolding and a preflight status report. Pipeline logic
// lives in the internal packages; commands only wire and render.
package main
