package domain

import "time"

// InboundEvent is a decrypted, authenticated text message from a chat
// platform. Immutable once constructed by an envelope codec.
type InboundEvent struct {
	Platform   string
	SenderID   string
	MessageID  string
	Text       string
	ReceivedAt time.Time
}

// StatusFilter selects which execution results the inspection job reports on.
// The numeric values are the wire codes passed to the job process.
type StatusFilter int

const (
	StatusSuccess StatusFilter = 0
	StatusFailure StatusFilter = 1
	StatusAll     StatusFilter = 2
)

func (s StatusFilter) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusAll:
		return "all"
	}
	return "unknown"
}

// JobParameters is the validated parameter bundle assembled by the
// conversation engine. Dates are canonical YYYY-MM-DD strings; an empty
// date means no bound on that side.
type JobParameters struct {
	StartDate       string       `json:"start_date,omitempty"`
	EndDate         string       `json:"end_date,omitempty"`
	Status          StatusFilter `json:"status"`
	IntegrationFlow string       `json:"integration_flow"`
}
