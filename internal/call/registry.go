package call

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

// LinkRegistry owns the one-to-one map from participant id to PeerLink and
// its full lifecycle: creation, offer/answer exchange, candidate routing,
// bounded reconnection and teardown.
type LinkRegistry struct {
	callID domain.CallID
	group  domain.GroupID
	self   domain.ParticipantID

	sig     core.SignalChannel
	media   core.MediaSource
	factory core.TransportFactory
	queue   *candidateQueue
	tun     Tunables
	events  *core.SessionEvents

	mu       sync.Mutex
	links    map[domain.ParticipantID]*PeerLink
	failures map[domain.ParticipantID]int
	closed   bool
}

func NewLinkRegistry(
	call domain.Call,
	sig core.SignalChannel,
	media core.MediaSource,
	factory core.TransportFactory,
	tun Tunables,
	events *core.SessionEvents,
) *LinkRegistry {
	return &LinkRegistry{
		callID:   call.ID,
		group:    call.Group,
		self:     call.Self,
		sig:      sig,
		media:    media,
		factory:  factory,
		queue:    newCandidateQueue(tun.QueueCap),
		tun:      tun.withDefaults(),
		events:   events,
		links:    make(map[domain.ParticipantID]*PeerLink),
		failures: make(map[domain.ParticipantID]int),
	}
}

// CreateLink constructs a fresh transport link for pid and attaches every
// current local track. Fails with ErrDuplicateLink while a link exists -
// the caller must close the old one first.
func (r *LinkRegistry) CreateLink(pid domain.ParticipantID) (*PeerLink, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if _, ok := r.links[pid]; ok {
		r.mu.Unlock()
		return nil, ErrDuplicateLink
	}
	r.mu.Unlock()

	t, err := r.factory(pid)
	if err != nil {
		return nil, fmt.Errorf("create transport for %s: %w", pid, err)
	}
	link := newPeerLink(pid, t)

	for _, track := range r.media.Tracks() {
		if err := t.AddLocalTrack(track); err != nil {
			log.Error().Err(err).Str("module", "call.registry").Str("pid", string(pid)).
				Msg("attach local track")
		}
	}

	// Observers re-read registry state when they fire; a link torn down in
	// the meantime makes them no-ops.
	t.OnICECandidate(func(c core.Candidate) {
		r.sendCandidate(pid, c)
	})
	t.OnTrack(func(track *webrtc.TrackRemote) {
		r.onRemoteTrack(pid, track)
	})
	t.OnConnectionStateChange(func(s core.ConnectionState) {
		r.onConnectionState(pid, s)
	})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		link.close()
		return nil, ErrSessionClosed
	}
	if _, ok := r.links[pid]; ok {
		r.mu.Unlock()
		link.close()
		return nil, ErrDuplicateLink
	}
	r.links[pid] = link
	r.mu.Unlock()

	log.Info().Str("module", "call.registry").Str("pid", string(pid)).Msg("link created")
	return link, nil
}

// CreateOffer is valid only while the link negotiation is stable; an
// out-of-state call indicates a logic race and is rejected.
func (r *LinkRegistry) CreateOffer(pid domain.ParticipantID) error {
	link := r.link(pid)
	if link == nil {
		return ErrNoLink
	}
	if st := link.NegotiationState(); st != core.NegotiationStable {
		log.Error().Str("module", "call.registry").Str("pid", string(pid)).
			Str("state", st.String()).Msg("offer attempted while not stable")
		return ErrInvalidNegotiationState
	}
	sdp, err := link.transport.CreateOffer(false)
	if err != nil {
		return fmt.Errorf("create offer for %s: %w", pid, err)
	}
	r.sendDescription(core.EventOffer, pid, sdp)
	link.armStallTimer(r.tun.SignalStall, func() { r.onSignalStall(pid) })
	return nil
}

// HandleOffer applies a remote offer, answers it and flushes any queued
// candidates for the sender.
func (r *LinkRegistry) HandleOffer(pid domain.ParticipantID, sdp string) error {
	link := r.link(pid)
	if link == nil {
		return ErrNoLink
	}
	if st := link.NegotiationState(); st != core.NegotiationStable {
		log.Warn().Str("module", "call.registry").Str("pid", string(pid)).
			Str("state", st.String()).Msg("offer in unexpected state, aborted")
		return ErrInvalidNegotiationState
	}
	answer, err := link.transport.ApplyOfferAndCreateAnswer(sdp)
	if err != nil {
		return fmt.Errorf("apply offer from %s: %w", pid, err)
	}
	r.sendDescription(core.EventAnswer, pid, answer)
	r.flushCandidates(pid)
	return nil
}

// HandleAnswer applies a remote answer. A repeat of an already-applied
// answer, or an answer arriving after the link went back to stable
// (duplicate delivery), is a logged no-op - never a fault.
func (r *LinkRegistry) HandleAnswer(pid domain.ParticipantID, sdp string) error {
	link := r.link(pid)
	if link == nil {
		// Teardown raced the answer; drop it silently.
		log.Debug().Str("module", "call.registry").Str("pid", string(pid)).
			Msg("answer for unknown link, dropped")
		return nil
	}
	fp := answerFingerprint(sdp)
	if link.isDupAnswer(fp) {
		log.Debug().Str("module", "call.registry").Str("pid", string(pid)).
			Msg("duplicate answer, dropped")
		return nil
	}
	if st := link.NegotiationState(); st != core.NegotiationHaveLocalOffer {
		log.Warn().Str("module", "call.registry").Str("pid", string(pid)).
			Str("state", st.String()).Msg("stale answer, ignored")
		return nil
	}
	if err := link.transport.ApplyAnswer(sdp); err != nil {
		return fmt.Errorf("apply answer from %s: %w", pid, err)
	}
	link.markAnswer(fp)
	link.stopStallTimer()
	r.flushCandidates(pid)
	return nil
}

// HandleCandidate applies a remote candidate, or buffers it while the link
// or its remote description does not exist yet.
func (r *LinkRegistry) HandleCandidate(pid domain.ParticipantID, c core.Candidate) {
	link := r.link(pid)
	if link == nil || !link.transport.HasRemoteDescription() {
		r.queue.Enqueue(pid, c)
		return
	}
	if err := link.transport.AddICECandidate(c); err != nil {
		log.Error().Err(err).Str("module", "call.registry").Str("pid", string(pid)).
			Msg("add ice candidate")
	}
}

// CloseLink is idempotent and safe on an absent id. It closes the
// transport, releases track references and discards queued candidates.
func (r *LinkRegistry) CloseLink(pid domain.ParticipantID) {
	r.mu.Lock()
	link, ok := r.links[pid]
	if ok {
		delete(r.links, pid)
	}
	r.mu.Unlock()

	r.queue.Drop(pid)
	if !ok {
		return
	}
	link.close()
	log.Info().Str("module", "call.registry").Str("pid", string(pid)).Msg("link closed")
}

// CloseAll tears down every link and discards all queued candidates. The
// registry accepts no new links afterwards.
func (r *LinkRegistry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	links := r.links
	r.links = make(map[domain.ParticipantID]*PeerLink)
	r.mu.Unlock()

	for _, link := range links {
		link.close()
	}
	r.queue.Reset()
}

func (r *LinkRegistry) Has(pid domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.links[pid]
	return ok
}

func (r *LinkRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.links)
}

func (r *LinkRegistry) link(pid domain.ParticipantID) *PeerLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.links[pid]
}

func (r *LinkRegistry) flushCandidates(pid domain.ParticipantID) {
	link := r.link(pid)
	if link == nil || !link.transport.HasRemoteDescription() {
		return
	}
	if n := r.queue.Flush(pid, link.transport.AddICECandidate); n > 0 {
		log.Debug().Str("module", "call.registry").Str("pid", string(pid)).
			Int("applied", n).Msg("flushed queued candidates")
	}
}

func (r *LinkRegistry) sendDescription(event string, pid domain.ParticipantID, sdp string) {
	if !r.sig.Connected() {
		log.Warn().Str("module", "call.registry").Str("event", event).Str("pid", string(pid)).
			Msg("signaling channel down, message dropped")
		return
	}
	err := r.sig.Send(event, core.DescriptionSignal{
		CallID: r.callID,
		Group:  r.group,
		Target: pid,
		From:   r.self,
		SDP:    sdp,
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "call.registry").Str("event", event).
			Str("pid", string(pid)).Msg("send description")
	}
}

func (r *LinkRegistry) sendCandidate(pid domain.ParticipantID, c core.Candidate) {
	if !r.sig.Connected() {
		log.Warn().Str("module", "call.registry").Str("pid", string(pid)).
			Msg("signaling channel down, candidate dropped")
		return
	}
	err := r.sig.Send(core.EventCandidate, core.CandidateSignal{
		CallID:    r.callID,
		Group:     r.group,
		Target:    pid,
		From:      r.self,
		Candidate: c,
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "call.registry").Str("pid", string(pid)).
			Msg("send candidate")
	}
}

func (r *LinkRegistry) onRemoteTrack(pid domain.ParticipantID, track *webrtc.TrackRemote) {
	link := r.link(pid)
	if link == nil {
		return
	}
	log.Info().Str("module", "call.registry").Str("pid", string(pid)).Msg("remote track received")
	r.events.EmitRemoteTrack(pid, track)
	r.flushCandidates(pid)
}

// onConnectionState drives the reconnection policy. Every branch re-reads
// current registry state; the transition that scheduled a timer may be
// long gone by the time it fires.
func (r *LinkRegistry) onConnectionState(pid domain.ParticipantID, s core.ConnectionState) {
	link := r.link(pid)
	if link == nil {
		return
	}
	link.setConnState(s)
	log.Info().Str("module", "call.registry").Str("pid", string(pid)).
		Str("state", s.String()).Msg("link state")
	r.events.EmitLinkState(pid, s)

	switch s {
	case core.ConnConnected:
		r.mu.Lock()
		delete(r.failures, pid)
		r.mu.Unlock()
		link.stopGraceTimer()
		link.stopRestartTimer()
	case core.ConnDisconnected:
		link.armGraceTimer(r.tun.DisconnectGrace, func() { r.onGraceExpired(pid) })
	case core.ConnFailed:
		r.onLinkFailed(pid)
	}
}

// onGraceExpired fires after DisconnectGrace. A link that recovered in the
// meantime is left alone; one still disconnected gets a cheap ICE restart
// before being considered dead.
func (r *LinkRegistry) onGraceExpired(pid domain.ParticipantID) {
	link := r.link(pid)
	if link == nil || link.ConnState() != core.ConnDisconnected {
		return
	}
	log.Warn().Str("module", "call.registry").Str("pid", string(pid)).
		Msg("still disconnected after grace, restarting ice")
	r.restartICE(pid)
	link.armRestartTimer(r.tun.RestartWindow, func() { r.onRestartWindowExpired(pid) })
}

func (r *LinkRegistry) onLinkFailed(pid domain.ParticipantID) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.failures[pid]++
	n := r.failures[pid]
	r.mu.Unlock()

	if n > r.tun.MaxLinkRetries {
		log.Error().Str("module", "call.registry").Str("pid", string(pid)).
			Int("retries", n-1).Msg("link retries exhausted")
		r.CloseLink(pid)
		r.events.EmitLinkError(pid, ErrRetriesExhausted)
		return
	}

	link := r.link(pid)
	if link == nil {
		return
	}
	log.Warn().Str("module", "call.registry").Str("pid", string(pid)).
		Int("attempt", n).Int("max", r.tun.MaxLinkRetries).Msg("link failed, restarting ice")
	r.restartICE(pid)
	link.armRestartTimer(r.tun.RestartWindow, func() { r.onRestartWindowExpired(pid) })
}

// onRestartWindowExpired recycles a link whose ICE restart did not clear
// the failure within the bounded window: full close and a fresh
// offer/answer cycle.
func (r *LinkRegistry) onRestartWindowExpired(pid domain.ParticipantID) {
	link := r.link(pid)
	if link == nil || link.ConnState() == core.ConnConnected {
		return
	}
	log.Warn().Str("module", "call.registry").Str("pid", string(pid)).
		Msg("ice restart did not clear, recreating link")
	r.CloseLink(pid)
	if _, err := r.CreateLink(pid); err != nil {
		log.Error().Err(err).Str("module", "call.registry").Str("pid", string(pid)).
			Msg("recreate link")
		return
	}
	if err := r.CreateOffer(pid); err != nil {
		log.Error().Err(err).Str("module", "call.registry").Str("pid", string(pid)).
			Msg("offer on recreated link")
	}
}

func (r *LinkRegistry) restartICE(pid domain.ParticipantID) {
	link := r.link(pid)
	if link == nil {
		return
	}
	sdp, err := link.transport.CreateOffer(true)
	if err != nil {
		log.Error().Err(err).Str("module", "call.registry").Str("pid", string(pid)).
			Msg("ice restart offer")
		return
	}
	r.sendDescription(core.EventOffer, pid, sdp)
}

// onSignalStall marks a link failed when an offer stayed unanswered past
// SignalStall - the remote likely never received it.
func (r *LinkRegistry) onSignalStall(pid domain.ParticipantID) {
	link := r.link(pid)
	if link == nil || link.NegotiationState() != core.NegotiationHaveLocalOffer {
		return
	}
	log.Warn().Str("module", "call.registry").Str("pid", string(pid)).
		Msg("offer unanswered past stall timeout")
	r.onConnectionState(pid, core.ConnFailed)
}
