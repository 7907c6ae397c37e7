package coordinator

import "time"

// EventType names an observer notification.
type EventType string

const (
	EventRedeemed     EventType = "redeemed"
	EventRedeemFailed EventType = "redeem_failed"
	EventRejected     EventType = "rejected"
	EventDuplicate    EventType = "duplicate"
	EventTimeout      EventType = "timeout"
	EventCameraError  EventType = "camera_error"
)

// Event is delivered to the Observer after the state change it describes.
type Event struct {
	Type      EventType
	VoucherID string
	BuyerID   int64
	Message   string
	Err       error
	At        time.Time
}

// Observer receives events. It is called without coordinator locks held and
// may call Snapshot but should return quickly.
type Observer func(Event)
