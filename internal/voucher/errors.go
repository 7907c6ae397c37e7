package voucher

import (
	"errors"

	"voucherscan/internal/scanerr"
)

// Reason identifies why a payload failed to decode.
type Reason string

const (
	ReasonMalformedPattern       Reason = "malformed_pattern"
	ReasonMissingFields          Reason = "missing_fields"
	ReasonInvalidBuyerID         Reason = "invalid_buyer_id"
	ReasonInvalidVoucherIDFormat Reason = "invalid_voucher_id_format"
)

// Sentinel values for errors.Is comparisons.
var (
	ErrMalformedPattern       = &ParseError{Reason: ReasonMalformedPattern}
	ErrMissingFields          = &ParseError{Reason: ReasonMissingFields}
	ErrInvalidBuyerID         = &ParseError{Reason: ReasonInvalidBuyerID}
	ErrInvalidVoucherIDFormat = &ParseError{Reason: ReasonInvalidVoucherIDFormat}
)

// ParseError reports a payload that does not encode a valid voucher token.
type ParseError struct {
	Reason Reason
	// Segment holds the offending field value when one applies.
	Segment string
}

func (e *ParseError) Error() string {
	switch e.Reason {
	case ReasonMissingFields:
		return "invalid QR code: missing voucher or buyer id"
	case ReasonInvalidBuyerID:
		return "invalid QR code: buyer id must be a positive integer"
	case ReasonInvalidVoucherIDFormat:
		return "invalid QR code: voucher id is not a valid UUID"
	default:
		return "invalid QR code format"
	}
}

// Is matches any ParseError with the same Reason.
func (e *ParseError) Is(target error) bool {
	var other *ParseError
	if !errors.As(target, &other) {
		return false
	}
	return other.Reason == e.Reason
}

// ErrorKind implements scanerr.Classifier.
func (e *ParseError) ErrorKind() string { return string(scanerr.KindParse) }

// ReasonOf returns the parse failure reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return parseErr.Reason, true
	}
	return "", false
}
