package logging

const (
	// FieldComponent names the component that emitted a record.
	FieldComponent = "component"
	// FieldSessionID identifies one scanning session (one process run).
	FieldSessionID = "session_id"
	// FieldVoucherID identifies the voucher a record refers to.
	FieldVoucherID = "voucher_id"
	// FieldBuyerID identifies the buyer encoded in a voucher payload.
	FieldBuyerID = "buyer_id"
	// FieldDevice identifies a capture device or constraint.
	FieldDevice = "device"
	// FieldPhase is the coordinator phase at the time of the record.
	FieldPhase = "phase"
	// FieldEventType classifies a record for filtering.
	FieldEventType = "event_type"
	// FieldErrorKind carries the scanerr kind of a failure.
	FieldErrorKind = "error_kind"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags records that should stand out.
	FieldAlert = "alert"
)
