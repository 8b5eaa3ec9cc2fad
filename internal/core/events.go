package core

import (
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// SessionEvents is the callback surface toward the presentation layer.
// Any field may be nil. Callbacks fire on signaling/transport goroutines
// and must not call back into the session synchronously.
type SessionEvents struct {
	OnStatus            func(domain.CallStatus)
	OnParticipantJoined func(domain.Participant)
	OnParticipantLeft   func(domain.ParticipantID)
	// OnRemoteTrack publishes the remote media for one participant.
	OnRemoteTrack func(domain.ParticipantID, *webrtc.TrackRemote)
	OnLinkState   func(domain.ParticipantID, ConnectionState)
	// OnLinkError reports a per-participant fatal after retries are
	// exhausted. Other links are unaffected.
	OnLinkError func(domain.ParticipantID, error)
	// OnSessionError carries the human-readable message for a fatal
	// session-level failure, alongside the status transition.
	OnSessionError func(msg string)
}

func (e *SessionEvents) EmitStatus(s domain.CallStatus) {
	if e != nil && e.OnStatus != nil {
		e.OnStatus(s)
	}
}

func (e *SessionEvents) EmitParticipantJoined(p domain.Participant) {
	if e != nil && e.OnParticipantJoined != nil {
		e.OnParticipantJoined(p)
	}
}

func (e *SessionEvents) EmitParticipantLeft(pid domain.ParticipantID) {
	if e != nil && e.OnParticipantLeft != nil {
		e.OnParticipantLeft(pid)
	}
}

func (e *SessionEvents) EmitRemoteTrack(pid domain.ParticipantID, t *webrtc.TrackRemote) {
	if e != nil && e.OnRemoteTrack != nil {
		e.OnRemoteTrack(pid, t)
	}
}

func (e *SessionEvents) EmitLinkState(pid domain.ParticipantID, s ConnectionState) {
	if e != nil && e.OnLinkState != nil {
		e.OnLinkState(pid, s)
	}
}

func (e *SessionEvents) EmitLinkError(pid domain.ParticipantID, err error) {
	if e != nil && e.OnLinkError != nil {
		e.OnLinkError(pid, err)
	}
}

func (e *SessionEvents) EmitSessionError(msg string) {
	if e != nil && e.OnSessionError != nil {
		e.OnSessionError(msg)
	}
}
