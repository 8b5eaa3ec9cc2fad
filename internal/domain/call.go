package domain

import "time"

type (
	CallID  string
	GroupID string
)

// CallStatus is the lifecycle state of one call session.
type CallStatus int

const (
	CallIdle CallStatus = iota
	CallOutgoing
	CallIncoming
	CallRinging
	CallConnecting
	CallConnected
	CallDeclined
	CallEnded
	CallFailed
)

var callStatusNames = map[CallStatus]string{
	CallIdle:       "idle",
	CallOutgoing:   "outgoing",
	CallIncoming:   "incoming",
	CallRinging:    "ringing",
	CallConnecting: "connecting",
	CallConnected:  "connected",
	CallDeclined:   "declined",
	CallEnded:      "ended",
	CallFailed:     "failed",
}

func (s CallStatus) String() string {
	if n, ok := callStatusNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether no transition may leave this status.
// A new call requires a new session.
func (s CallStatus) Terminal() bool {
	return s == CallDeclined || s == CallEnded || s == CallFailed
}

// Call holds session identity and lifecycle meta. The call id is assigned
// by the call-initiation service and never changes for the session.
type Call struct {
	ID        CallID        `json:"id"`
	Group     GroupID       `json:"group_id"`
	Self      ParticipantID `json:"self_id"`
	Status    CallStatus    `json:"-"`
	StartedAt time.Time     `json:"started_at"`
}
