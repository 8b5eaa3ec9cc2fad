package core

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// Media acquisition failure causes. Fatal to session start; each maps to a
// specific user-facing message.
var (
	ErrMediaPermission = errors.New("media permission denied")
	ErrMediaBusy       = errors.New("media device busy")
	ErrMediaAbsent     = errors.New("media device not found")
	ErrMediaInsecure   = errors.New("media requires a secure context")
)

// MediaSource supplies the local capture tracks shared by every peer link.
// The source is the long-lived owner of the tracks; links only hold
// use-references. Only the session toggles enablement - no link may
// independently disable a shared track.
type MediaSource interface {
	// Tracks returns the local tracks to attach to new peer links.
	Tracks() []webrtc.TrackLocal
	SetAudioEnabled(bool)
	SetVideoEnabled(bool)
	AudioEnabled() bool
	VideoEnabled() bool
	// Stop halts capture and releases the tracks. Must run only after all
	// links released their references.
	Stop()
}

// MediaFactory acquires a MediaSource for one session. Acquisition failure
// is fatal to session start.
type MediaFactory func() (MediaSource, error)
