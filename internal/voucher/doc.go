// Package voucher decodes scanned QR payloads into voucher redemption tokens.
//
// A payload is the plain text `voucher:<uuid>:buyer:<positive-int>`, optionally
// wrapped in base64. Decode validates the grammar and reports failures as
// *ParseError values whose Reason distinguishes a malformed pattern from empty
// fields, a bad buyer ID, or a voucher ID that is not an RFC 4122 UUID.
//
// Sanitize must run on untrusted scanner output before Decode: it strips
// markup characters and bounds the length so parsing cost stays predictable.
package voucher
