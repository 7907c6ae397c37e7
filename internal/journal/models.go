package journal

import "time"

// Outcome classifies a journal entry.
type Outcome string

const (
	// OutcomeAttempted is written when a redemption request is issued.
	OutcomeAttempted Outcome = "attempted"
	// OutcomeRedeemed is written when the service accepted the voucher.
	OutcomeRedeemed Outcome = "redeemed"
	// OutcomeFailed is written when the service or transport rejected the request.
	OutcomeFailed Outcome = "failed"
	// OutcomeDuplicate is written when a voucher was already redeemed this session.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeRejected is written when a scanned payload failed to parse.
	OutcomeRejected Outcome = "rejected"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAttempted, OutcomeRedeemed, OutcomeFailed, OutcomeDuplicate, OutcomeRejected:
		return true
	default:
		return false
	}
}

// Entry is one journal row.
type Entry struct {
	ID         int64
	SessionID  string
	VoucherID  string
	BuyerID    int64
	Outcome    Outcome
	ErrorKind  string
	Message    string
	RecordedAt time.Time
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	SessionID string
	VoucherID string
	Outcomes  []Outcome
	Since     time.Time
	Limit     int
}
