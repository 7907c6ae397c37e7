package logs

import (
	"encoding/json"
	"strings"

	"voucherscan/internal/logging"
)

var levelRank = map[string]int{
	"debug":   0,
	"info":    1,
	"warn":    2,
	"warning": 2,
	"error":   3,
}

// Filter selects JSON log records. Zero fields match everything.
type Filter struct {
	SessionID string
	VoucherID string
	// MinLevel drops records below this level.
	MinLevel string
}

func (f Filter) empty() bool {
	return strings.TrimSpace(f.SessionID) == "" &&
		strings.TrimSpace(f.VoucherID) == "" &&
		strings.TrimSpace(f.MinLevel) == ""
}

// Match reports whether line passes the filter. Lines that are not JSON
// objects only pass an empty filter.
func (f Filter) Match(line string) bool {
	if f.empty() {
		return true
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return false
	}
	if id := strings.TrimSpace(f.SessionID); id != "" && !strings.HasPrefix(stringField(record, logging.FieldSessionID), id) {
		return false
	}
	if id := strings.TrimSpace(f.VoucherID); id != "" && stringField(record, logging.FieldVoucherID) != id {
		return false
	}
	if floor := strings.ToLower(strings.TrimSpace(f.MinLevel)); floor != "" {
		want, ok := levelRank[floor]
		if !ok {
			return true
		}
		got, ok := levelRank[strings.ToLower(stringField(record, "level"))]
		if !ok || got < want {
			return false
		}
	}
	return true
}

func stringField(record map[string]any, key string) string {
	v, ok := record[key].(string)
	if !ok {
		return ""
	}
	return v
}
