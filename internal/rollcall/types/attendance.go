package types

import "strconv"

type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeDenied   Outcome = "denied"
)

// Method tags where an attendance event came from.
type Method string

const (
	MethodBadgeRead         Method = "badge-read"
	MethodManagementConsole Method = "management-console"
)

// UnknownName is the resolved name recorded when no user record matches.
const UnknownName = "(unknown)"

// AttendanceEvent is one reconciled scan. Timestamp is seconds since boot.
type AttendanceEvent struct {
	Timestamp uint64
	UID       string
	Name      string
	Method    Method
	Outcome   Outcome
}

// LiveEvent is the message pushed to dashboard sessions.
type LiveEvent struct {
	Timestamp string `json:"timestamp"`
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Result    string `json:"result"`
}

func NewLiveEvent(ev AttendanceEvent) LiveEvent {
	return LiveEvent{
		Timestamp: strconv.FormatUint(ev.Timestamp, 10),
		UID:       ev.UID,
		Name:      ev.Name,
		Result:    string(ev.Outcome),
	}
}
