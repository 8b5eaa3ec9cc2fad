package core

// Handler processes the decoded payload of one inbound signaling event.
type Handler func(data []byte)

// SignalChannel abstracts the out-of-band signaling transport.
// Owned by the adapter; the adapter must Close() it.
//
// Send is fire-and-forget: the channel gives no delivery guarantee and the
// call core must stay correct when messages are dropped or duplicated.
// A (re)initialization of the core must Off() the events it owns before
// subscribing again, so handlers are never doubled.
type SignalChannel interface {
	Send(event string, payload any) error
	On(event string, h Handler)
	Off(event string)
	Connected() bool
}

// Signaling event names consumed/produced by the call core.
const (
	EventJoin              = "join"
	EventLeave             = "leave"
	EventOffer             = "offer"
	EventAnswer            = "answer"
	EventCandidate         = "ice-candidate"
	EventParticipantJoined = "participant-joined"
	EventParticipantLeft   = "participant-left"
	EventCallEnded         = "call-ended"
)
