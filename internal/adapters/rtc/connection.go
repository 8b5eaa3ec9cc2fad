// Package rtc adapts pion peer connections to the core.PeerTransport
// contract consumed by the call core.
package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

type Transport struct {
	pc  *webrtc.PeerConnection
	pid domain.ParticipantID
}

func WebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: iceServers},
		},
	}
}

// NewTransport creates one transport link toward pid.
func NewTransport(cfg webrtc.Configuration, pid domain.ParticipantID) (*Transport, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &Transport{pc: pc, pid: pid}, nil
}

// Factory returns a core.TransportFactory over a shared configuration.
func Factory(cfg webrtc.Configuration) core.TransportFactory {
	return func(pid domain.ParticipantID) (core.PeerTransport, error) {
		return NewTransport(cfg, pid)
	}
}

func (t *Transport) CreateOffer(iceRestart bool) (string, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := t.pc.CreateOffer(opts)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local offer: %w", err)
	}
	return offer.SDP, nil
}

// ApplyOfferAndCreateAnswer runs the answering half of the handshake.
// Candidates trickle separately via OnICECandidate.
func (t *Transport) ApplyOfferAndCreateAnswer(sdp string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local answer: %w", err)
	}
	return answer.SDP, nil
}

func (t *Transport) ApplyAnswer(sdp string) error {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (t *Transport) AddICECandidate(c core.Candidate) error {
	ci := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		mid := c.SDPMid
		ci.SDPMid = &mid
	}
	idx := c.SDPMLineIndex
	ci.SDPMLineIndex = &idx
	return t.pc.AddICECandidate(ci)
}

func (t *Transport) HasRemoteDescription() bool {
	return t.pc.RemoteDescription() != nil
}

func (t *Transport) NegotiationState() core.NegotiationState {
	switch t.pc.SignalingState() {
	case webrtc.SignalingStateStable:
		return core.NegotiationStable
	case webrtc.SignalingStateHaveLocalOffer, webrtc.SignalingStateHaveRemotePranswer:
		return core.NegotiationHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer, webrtc.SignalingStateHaveLocalPranswer:
		return core.NegotiationHaveRemoteOffer
	case webrtc.SignalingStateClosed:
		return core.NegotiationClosed
	}
	return core.NegotiationClosed
}

func (t *Transport) AddLocalTrack(track webrtc.TrackLocal) error {
	if _, err := t.pc.AddTrack(track); err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	return nil
}

func (t *Transport) OnICECandidate(fn func(core.Candidate)) {
	t.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		c := core.Candidate{Candidate: ci.Candidate}
		if ci.SDPMid != nil {
			c.SDPMid = *ci.SDPMid
		}
		if ci.SDPMLineIndex != nil {
			c.SDPMLineIndex = *ci.SDPMLineIndex
		}
		fn(c)
	})
}

func (t *Transport) OnTrack(fn func(*webrtc.TrackRemote)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("pid", string(t.pid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		fn(track)
	})
}

func (t *Transport) OnConnectionStateChange(fn func(core.ConnectionState)) {
	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("pid", string(t.pid)).
			Str("peer_connection_state", s.String()).Msg("peer state")
		fn(mapConnState(s))
	})
}

func (t *Transport) Close() {
	if t.pc == nil {
		return
	}
	if err := t.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("pid", string(t.pid)).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("pid", string(t.pid)).Msg("closed")
	}
}

func mapConnState(s webrtc.PeerConnectionState) core.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return core.ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return core.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return core.ConnClosed
	}
	return core.ConnNew
}
