// Package domain contains entities without logic, just meta-data
package domain

import "errors"

const MaxDisplayNameLen = 36

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrParticipantIDEmpty = errors.New("participant id empty")
)

type ParticipantID string

// MediaFlags is advisory mute/video metadata reported by the remote
// authority. Not owned here; the peer link is the source of truth for
// link health.
type MediaFlags struct {
	Muted        bool `json:"muted"`
	VideoEnabled bool `json:"video_enabled"`
}

type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"display_name"`
	Flags       MediaFlags    `json:"flags"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id ParticipantID, displayName string) (*Participant, error) {
	if id == "" {
		return nil, ErrParticipantIDEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &Participant{ID: id, DisplayName: displayName}, nil
}
