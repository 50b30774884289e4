package missedcall

import "time"

// Entry is one missed inbound call.
type Entry struct {
	// At is when the call was abandoned, in UTC.
	At time.Time `json:"at" db:"at"`

	// Number is the caller's address: an E.164 number for PSTN callers,
	// an account id otherwise.
	Number string `json:"number" db:"number"`

	Reason Reason `json:"reason" db:"reason"`
}

// Reason explains why the inbound call was missed.
type Reason string

const (
	// ReasonBusy means the call was auto-rejected because another inbound
	// call was already pending.
	ReasonBusy Reason = "BUSY"

	// ReasonTimeout means the caller gave up or the alerting window expired.
	ReasonTimeout Reason = "TIMEOUT"
)
