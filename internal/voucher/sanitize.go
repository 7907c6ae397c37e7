package voucher

import (
	"strings"
	"unicode/utf8"
)

// MaxPayloadLength bounds the sanitized payload, in runes.
const MaxPayloadLength = 1000

var markupStripper = strings.NewReplacer("<", "", ">", "")

// Sanitize strips angle brackets from untrusted scanner output and truncates
// it to MaxPayloadLength runes. Sanitize is idempotent.
func Sanitize(input string) string {
	cleaned := markupStripper.Replace(input)
	if utf8.RuneCountInString(cleaned) <= MaxPayloadLength {
		return cleaned
	}
	count := 0
	for i := range cleaned {
		if count == MaxPayloadLength {
			return cleaned[:i]
		}
		count++
	}
	return cleaned
}
