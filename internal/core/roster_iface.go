package core

import (
	"context"

	"github.com/dkeye/meshcall/internal/domain"
)

// CallDetail is the authoritative view of a call held by the roster service.
type CallDetail struct {
	ID           domain.CallID        `json:"id"`
	Group        domain.GroupID       `json:"group_id"`
	Participants []domain.Participant `json:"participants"`
}

// RosterService is the external roster authority. All operations are
// best-effort and must never block the signaling-driven state machine.
type RosterService interface {
	CallDetail(ctx context.Context, id domain.CallID) (*CallDetail, error)
	Join(ctx context.Context, id domain.CallID) error
	UpdateStatus(ctx context.Context, id domain.CallID, pid domain.ParticipantID, flags domain.MediaFlags) error
	Remove(ctx context.Context, id domain.CallID, pid domain.ParticipantID) error
}
