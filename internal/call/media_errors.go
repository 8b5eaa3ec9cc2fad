package call

import (
	"errors"

	"github.com/dkeye/meshcall/internal/core"
)

// describeMediaError turns a media acquisition failure into the specific,
// actionable message surfaced to the user.
func describeMediaError(err error) string {
	switch {
	case errors.Is(err, core.ErrMediaPermission):
		return "Microphone/camera access was denied. Allow access and try again."
	case errors.Is(err, core.ErrMediaBusy):
		return "Your microphone or camera is in use by another application."
	case errors.Is(err, core.ErrMediaAbsent):
		return "No microphone or camera was found on this device."
	case errors.Is(err, core.ErrMediaInsecure):
		return "Calls require a secure connection (HTTPS)."
	default:
		return "Could not access your microphone or camera."
	}
}
