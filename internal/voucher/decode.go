package voucher

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const payloadPrefix = "voucher:"

var (
	payloadPattern = regexp.MustCompile(`^voucher:(.*):buyer:(.*)$`)
	// 8-4-4-4-12 hex with an RFC 4122 version (1-5) and variant (8, 9, a, b) nibble.
	voucherIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-5][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)
	digitsPattern    = regexp.MustCompile(`^[0-9]+$`)
)

// Decode parses a raw scanned payload into a Token.
//
// The payload may be base64 encoded. A payload that does not decode as base64
// is used literally; decoding failure never rejects a payload on its own.
func Decode(raw string) (Token, error) {
	plaintext := unwrap(strings.TrimSpace(raw))

	match := payloadPattern.FindStringSubmatch(plaintext)
	if match == nil {
		return Token{}, &ParseError{Reason: ReasonMalformedPattern}
	}
	voucherID, buyerSegment := match[1], match[2]
	if voucherID == "" || buyerSegment == "" {
		return Token{}, &ParseError{Reason: ReasonMissingFields}
	}

	buyerID, ok := parseBuyerID(buyerSegment)
	if !ok {
		return Token{}, &ParseError{Reason: ReasonInvalidBuyerID, Segment: buyerSegment}
	}
	if !ValidVoucherID(voucherID) {
		return Token{}, &ParseError{Reason: ReasonInvalidVoucherIDFormat, Segment: voucherID}
	}

	return Token{VoucherID: voucherID, BuyerID: buyerID, Format: FormatVoucher}, nil
}

// ValidVoucherID reports whether id is a canonical hyphenated RFC 4122 UUID.
func ValidVoucherID(id string) bool {
	if len(id) != 36 || !voucherIDPattern.MatchString(id) {
		return false
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return parsed.Variant() == uuid.RFC4122
}

// Encode renders a token as a base64-wrapped payload, the form printed on
// vouchers.
func Encode(token Token) string {
	return base64.StdEncoding.EncodeToString([]byte(token.String()))
}

func unwrap(raw string) string {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		decoded, err := enc.DecodeString(raw)
		if err != nil {
			continue
		}
		if !utf8.Valid(decoded) {
			continue
		}
		text := strings.TrimSpace(string(decoded))
		if strings.HasPrefix(text, payloadPrefix) {
			return text
		}
	}
	return raw
}

func parseBuyerID(segment string) (int64, bool) {
	if !digitsPattern.MatchString(segment) {
		return 0, false
	}
	value, err := strconv.ParseInt(segment, 10, 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}
