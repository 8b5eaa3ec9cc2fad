package core

import "github.com/dkeye/meshcall/internal/domain"

// Wire payloads for the signaling event surface. Field names are part of
// the channel contract with the signaling server.

type JoinSignal struct {
	CallID domain.CallID  `json:"call_id"`
	Group  domain.GroupID `json:"group_id"`
}

type LeaveSignal struct {
	CallID domain.CallID  `json:"call_id"`
	Group  domain.GroupID `json:"group_id"`
}

// DescriptionSignal carries an SDP offer or answer. Target is set on
// outbound messages, From on inbound ones.
type DescriptionSignal struct {
	CallID domain.CallID        `json:"call_id"`
	Group  domain.GroupID       `json:"group_id,omitempty"`
	Target domain.ParticipantID `json:"target,omitempty"`
	From   domain.ParticipantID `json:"from,omitempty"`
	SDP    string               `json:"sdp"`
}

type CandidateSignal struct {
	CallID    domain.CallID        `json:"call_id"`
	Group     domain.GroupID       `json:"group_id,omitempty"`
	Target    domain.ParticipantID `json:"target,omitempty"`
	From      domain.ParticipantID `json:"from,omitempty"`
	Candidate Candidate            `json:"candidate"`
}

type ParticipantJoinedSignal struct {
	CallID      domain.CallID      `json:"call_id"`
	Participant domain.Participant `json:"participant"`
}

type ParticipantLeftSignal struct {
	CallID        domain.CallID        `json:"call_id"`
	ParticipantID domain.ParticipantID `json:"participant_id"`
}

type CallEndedSignal struct {
	CallID  domain.CallID        `json:"call_id"`
	Reason  string               `json:"reason"`
	EndedBy domain.ParticipantID `json:"ended_by"`
}
