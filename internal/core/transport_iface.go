package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/meshcall/internal/domain"
)

// NegotiationState mirrors the offer/answer handshake phase of a peer
// transport, distinct from its live connectivity state.
type NegotiationState int

const (
	NegotiationStable NegotiationState = iota
	NegotiationHaveLocalOffer
	NegotiationHaveRemoteOffer
	NegotiationClosed
)

func (s NegotiationState) String() string {
	switch s {
	case NegotiationStable:
		return "stable"
	case NegotiationHaveLocalOffer:
		return "have-local-offer"
	case NegotiationHaveRemoteOffer:
		return "have-remote-offer"
	case NegotiationClosed:
		return "closed"
	}
	return "unknown"
}

// ConnectionState is the live connectivity state of a peer transport.
type ConnectionState int

const (
	ConnNew ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnNew:
		return "new"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// Candidate is a network path descriptor exchanged during connection
// establishment.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

// PeerTransport abstracts one media transport link to a single remote
// participant. Owned by the link registry; the registry must Close() it.
//
// Every negotiation step may suspend internally; callers re-validate
// NegotiationState after each call instead of trusting a prior check.
type PeerTransport interface {
	// CreateOffer sets the local description and returns the offer SDP.
	// iceRestart requests new ICE credentials on the existing link.
	CreateOffer(iceRestart bool) (string, error)
	// ApplyOfferAndCreateAnswer sets the remote offer, produces and sets
	// a local answer and returns its SDP.
	ApplyOfferAndCreateAnswer(sdp string) (string, error)
	// ApplyAnswer sets the remote answer on a link with a pending local offer.
	ApplyAnswer(sdp string) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(Candidate) error
	HasRemoteDescription() bool
	NegotiationState() NegotiationState
	// AddLocalTrack attaches a local track to the underlying connection.
	AddLocalTrack(track webrtc.TrackLocal) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(Candidate))
	// OnTrack sets a callback that will be invoked when a remote track arrives.
	OnTrack(func(track *webrtc.TrackRemote))
	// OnConnectionStateChange sets a callback for connectivity transitions.
	OnConnectionStateChange(func(ConnectionState))
	Close()
}

// TransportFactory builds a fresh PeerTransport toward one remote
// participant.
type TransportFactory func(pid domain.ParticipantID) (PeerTransport, error)
