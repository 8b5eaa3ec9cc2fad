// Package call implements the mesh call core: one session owning a full
// mesh of peer links to the call's participants, driven by roster and
// signaling events. It is deliberately standalone - coupling to transports
// and services goes through the interfaces in internal/core only.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

// rosterOpTimeout bounds fire-and-forget calls to the roster service so
// they never hold a goroutine hostage.
const rosterOpTimeout = 10 * time.Second

// Deps are the external collaborators of one session. All are injected;
// the core holds no ambient globals.
type Deps struct {
	Signal    core.SignalChannel
	Media     core.MediaFactory
	Roster    core.RosterService
	Transport core.TransportFactory
	Events    *core.SessionEvents
	Tunables  Tunables
}

// Session is the top-level state machine for one group call. Exactly one
// session is active per call id on a client; terminal states are never
// left - a new call needs a new session.
type Session struct {
	sig     core.SignalChannel
	mediaFn core.MediaFactory
	roster  core.RosterService
	factory core.TransportFactory
	events  *core.SessionEvents
	tun     Tunables

	mu           sync.Mutex
	call         domain.Call
	participants map[domain.ParticipantID]domain.Participant
	media        core.MediaSource
	registry     *LinkRegistry
	left         bool
	refreshStop  context.CancelFunc
}

// NewOutgoing creates a session for a call initiated locally.
func NewOutgoing(d Deps, id domain.CallID, group domain.GroupID, self domain.ParticipantID) *Session {
	return newSession(d, id, group, self, domain.CallOutgoing)
}

// NewIncoming creates a session for a call signaled by a remote party.
func NewIncoming(d Deps, id domain.CallID, group domain.GroupID, self domain.ParticipantID) *Session {
	return newSession(d, id, group, self, domain.CallIncoming)
}

func newSession(d Deps, id domain.CallID, group domain.GroupID, self domain.ParticipantID, status domain.CallStatus) *Session {
	return &Session{
		sig:     d.Signal,
		mediaFn: d.Media,
		roster:  d.Roster,
		factory: d.Transport,
		events:  d.Events,
		tun:     d.Tunables.withDefaults(),
		call: domain.Call{
			ID:     id,
			Group:  group,
			Self:   self,
			Status: status,
		},
		participants: make(map[domain.ParticipantID]domain.Participant),
	}
}

// Ring marks the session as ringing (invite delivered / user being
// alerted). Presentation-driven; no resources are touched.
func (s *Session) Ring() {
	s.setStatus(domain.CallRinging)
}

// Join brings the session up: acquire media, subscribe and announce on the
// signaling channel, register with the roster authority, then connect to
// every participant already present. The joining party always offers first
// to existing members; that tie-break keeps a full mesh free of duplicate
// simultaneous offers.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.left || s.call.Status.Terminal() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	media, err := s.mediaFn()
	if err != nil {
		msg := describeMediaError(err)
		log.Error().Err(err).Str("module", "call.session").Str("call", string(s.call.ID)).
			Msg("media acquisition failed")
		s.teardown(domain.CallFailed, msg)
		return err
	}

	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		media.Stop()
		return ErrSessionClosed
	}
	s.media = media
	s.registry = NewLinkRegistry(s.call, s.sig, media, s.factory, s.tun, s.events)
	s.mu.Unlock()

	s.subscribe()
	s.setStatus(domain.CallConnecting)

	if err := s.sig.Send(core.EventJoin, core.JoinSignal{CallID: s.call.ID, Group: s.call.Group}); err != nil {
		log.Warn().Err(err).Str("module", "call.session").Msg("announce join")
	}

	refreshCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.refreshStop = cancel
	s.mu.Unlock()
	go s.refreshLoop(refreshCtx)

	// Connected is entered on the roster authority's join ack, not on any
	// single link's health. A failed ack stays in Connecting and the
	// refresh loop keeps retrying.
	if err := s.roster.Join(ctx, s.call.ID); err != nil {
		log.Warn().Err(err).Str("module", "call.session").Str("call", string(s.call.ID)).
			Msg("roster join not acknowledged yet")
		return nil
	}
	s.markConnected()
	s.syncRoster(ctx)
	return nil
}

// Leave tears the session down. Idempotent: a UI action and a server
// pushed call-ended may both land here and all teardown effects run once.
func (s *Session) Leave() {
	s.teardown(domain.CallEnded, "")
}

// Decline rejects an incoming call before joining it.
func (s *Session) Decline() {
	s.teardown(domain.CallDeclined, "")
}

// ToggleMute flips the local audio track and reports the new flag to the
// roster authority. Returns the new muted state.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	media := s.media
	gone := s.left
	s.mu.Unlock()
	if gone || media == nil {
		return false
	}
	media.SetAudioEnabled(!media.AudioEnabled())
	muted := !media.AudioEnabled()
	s.reportFlags()
	return muted
}

// ToggleVideo flips the local video track. Returns the new enabled state.
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	media := s.media
	gone := s.left
	s.mu.Unlock()
	if gone || media == nil {
		return false
	}
	media.SetVideoEnabled(!media.VideoEnabled())
	s.reportFlags()
	return media.VideoEnabled()
}

func (s *Session) Status() domain.CallStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call.Status
}

func (s *Session) Info() domain.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

func (s *Session) Participants() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out
}

// subscribe registers the session's signaling handlers. Prior handlers for
// the owned events are cleared first so a re-initialization never doubles
// subscriptions.
func (s *Session) subscribe() {
	for _, ev := range s.ownedEvents() {
		s.sig.Off(ev)
	}
	s.sig.On(core.EventParticipantJoined, s.onParticipantJoined)
	s.sig.On(core.EventParticipantLeft, s.onParticipantLeft)
	s.sig.On(core.EventOffer, s.onOffer)
	s.sig.On(core.EventAnswer, s.onAnswer)
	s.sig.On(core.EventCandidate, s.onCandidate)
	s.sig.On(core.EventCallEnded, s.onCallEnded)
}

func (s *Session) unsubscribe() {
	for _, ev := range s.ownedEvents() {
		s.sig.Off(ev)
	}
}

func (s *Session) ownedEvents() []string {
	return []string{
		core.EventParticipantJoined,
		core.EventParticipantLeft,
		core.EventOffer,
		core.EventAnswer,
		core.EventCandidate,
		core.EventCallEnded,
	}
}

func (s *Session) onParticipantJoined(data []byte) {
	var sig core.ParticipantJoinedSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		log.Error().Err(err).Str("module", "call.session").Msg("bad participant-joined payload")
		return
	}
	if sig.CallID != s.call.ID || sig.Participant.ID == s.call.Self {
		return
	}
	// The newcomer initiates per the tie-break rule; we only get ready to
	// answer their offer.
	s.admit(sig.Participant, false)
}

func (s *Session) onParticipantLeft(data []byte) {
	var sig core.ParticipantLeftSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		log.Error().Err(err).Str("module", "call.session").Msg("bad participant-left payload")
		return
	}
	if sig.CallID != s.call.ID {
		return
	}
	s.removeParticipant(sig.ParticipantID)
}

func (s *Session) onOffer(data []byte) {
	var sig core.DescriptionSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		log.Error().Err(err).Str("module", "call.session").Msg("bad offer payload")
		return
	}
	if sig.CallID != s.call.ID || sig.From == "" {
		return
	}
	s.mu.Lock()
	gone := s.left
	reg := s.registry
	s.mu.Unlock()
	if gone || reg == nil {
		return
	}
	// An offer may outrun the participant-joined event; admit the sender
	// on the spot so a link exists to answer on.
	if _, known := s.participant(sig.From); !known {
		s.admit(domain.Participant{ID: sig.From}, false)
	} else if !reg.Has(sig.From) {
		s.admit(domain.Participant{ID: sig.From}, false)
	}
	if err := reg.HandleOffer(sig.From, sig.SDP); err != nil {
		if errors.Is(err, ErrInvalidNegotiationState) {
			return
		}
		log.Error().Err(err).Str("module", "call.session").Str("pid", string(sig.From)).
			Msg("handle offer")
	}
}

func (s *Session) onAnswer(data []byte) {
	var sig core.DescriptionSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		log.Error().Err(err).Str("module", "call.session").Msg("bad answer payload")
		return
	}
	if sig.CallID != s.call.ID || sig.From == "" {
		return
	}
	s.mu.Lock()
	gone := s.left
	reg := s.registry
	s.mu.Unlock()
	if gone || reg == nil {
		return
	}
	if err := reg.HandleAnswer(sig.From, sig.SDP); err != nil {
		log.Error().Err(err).Str("module", "call.session").Str("pid", string(sig.From)).
			Msg("handle answer")
	}
}

func (s *Session) onCandidate(data []byte) {
	var sig core.CandidateSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		log.Error().Err(err).Str("module", "call.session").Msg("bad candidate payload")
		return
	}
	if sig.CallID != s.call.ID || sig.From == "" {
		return
	}
	s.mu.Lock()
	gone := s.left
	reg := s.registry
	s.mu.Unlock()
	if gone || reg == nil {
		return
	}
	// A candidate from a participant we have not seen yet is buffered by
	// the registry under the sender id until the link materializes.
	reg.HandleCandidate(sig.From, sig.Candidate)
}

func (s *Session) onCallEnded(data []byte) {
	var sig core.CallEndedSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		log.Error().Err(err).Str("module", "call.session").Msg("bad call-ended payload")
		return
	}
	if sig.CallID != s.call.ID {
		return
	}
	log.Info().Str("module", "call.session").Str("call", string(sig.CallID)).
		Str("reason", sig.Reason).Str("ended_by", string(sig.EndedBy)).Msg("call ended remotely")
	s.teardown(domain.CallEnded, "")
}

// admit adds a participant to the roster (idempotent) and makes sure a
// link exists. With initiate set, this side also sends the first offer -
// used when we are the later joiner connecting to existing members.
func (s *Session) admit(p domain.Participant, initiate bool) {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return
	}
	_, known := s.participants[p.ID]
	if known && p.DisplayName == "" {
		// Implicit admit from an early offer; keep the richer meta.
		p = s.participants[p.ID]
	}
	s.participants[p.ID] = p
	reg := s.registry
	s.mu.Unlock()

	if !known {
		log.Info().Str("module", "call.session").Str("pid", string(p.ID)).Msg("participant joined")
		s.events.EmitParticipantJoined(p)
	}
	if reg == nil || reg.Has(p.ID) {
		return
	}
	if _, err := reg.CreateLink(p.ID); err != nil {
		if !errors.Is(err, ErrDuplicateLink) && !errors.Is(err, ErrSessionClosed) {
			log.Error().Err(err).Str("module", "call.session").Str("pid", string(p.ID)).
				Msg("create link")
		}
		return
	}
	if initiate {
		if err := reg.CreateOffer(p.ID); err != nil {
			log.Error().Err(err).Str("module", "call.session").Str("pid", string(p.ID)).
				Msg("initial offer")
		}
	}
}

func (s *Session) removeParticipant(pid domain.ParticipantID) {
	s.mu.Lock()
	_, known := s.participants[pid]
	delete(s.participants, pid)
	reg := s.registry
	s.mu.Unlock()

	if reg != nil {
		reg.CloseLink(pid)
	}
	if known {
		log.Info().Str("module", "call.session").Str("pid", string(pid)).Msg("participant left")
		s.events.EmitParticipantLeft(pid)
	}
}

func (s *Session) participant(pid domain.ParticipantID) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[pid]
	return p, ok
}

// refreshLoop reconciles against the authoritative roster while the call
// is up. Roster-change signals are best-effort, so missed joins and leaves
// are repaired here. While the join ack is still outstanding the loop
// retries it instead.
func (s *Session) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tun.RosterRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			status := s.call.Status
			gone := s.left
			s.mu.Unlock()
			if gone {
				return
			}
			switch status {
			case domain.CallConnecting:
				if err := s.roster.Join(ctx, s.call.ID); err != nil {
					log.Warn().Err(err).Str("module", "call.session").Msg("roster join retry")
					continue
				}
				s.markConnected()
				s.syncRoster(ctx)
			case domain.CallConnected:
				s.syncRoster(ctx)
			}
		}
	}
}

// syncRoster diffs the authoritative roster against local state.
// Remote-only participants are treated as joins (we initiate, having no
// link to them), local-only ones as leaves. Healthy links are never torn
// down and rebuilt.
func (s *Session) syncRoster(ctx context.Context) {
	detail, err := s.roster.CallDetail(ctx, s.call.ID)
	if err != nil {
		log.Warn().Err(err).Str("module", "call.session").Str("call", string(s.call.ID)).
			Msg("roster fetch")
		return
	}

	remote := make(map[domain.ParticipantID]struct{}, len(detail.Participants))
	for _, p := range detail.Participants {
		if p.ID == s.call.Self {
			continue
		}
		remote[p.ID] = struct{}{}
		s.admit(p, true)
	}

	s.mu.Lock()
	var gone []domain.ParticipantID
	for pid := range s.participants {
		if _, ok := remote[pid]; !ok {
			gone = append(gone, pid)
		}
	}
	s.mu.Unlock()
	for _, pid := range gone {
		s.removeParticipant(pid)
	}
}

func (s *Session) markConnected() {
	s.mu.Lock()
	if s.left || s.call.Status.Terminal() || s.call.Status == domain.CallConnected {
		s.mu.Unlock()
		return
	}
	s.call.Status = domain.CallConnected
	s.call.StartedAt = time.Now()
	s.mu.Unlock()
	log.Info().Str("module", "call.session").Str("call", string(s.call.ID)).Msg("connected")
	s.events.EmitStatus(domain.CallConnected)
}

func (s *Session) setStatus(status domain.CallStatus) {
	s.mu.Lock()
	if s.call.Status.Terminal() || s.call.Status == status {
		s.mu.Unlock()
		return
	}
	s.call.Status = status
	s.mu.Unlock()
	log.Info().Str("module", "call.session").Str("call", string(s.call.ID)).
		Str("status", status.String()).Msg("status")
	s.events.EmitStatus(status)
}

// teardown runs all session teardown effects exactly once, whatever the
// trigger. Links are released before the media source stops so no track is
// stopped while still attached.
func (s *Session) teardown(status domain.CallStatus, msg string) {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return
	}
	s.left = true
	cancel := s.refreshStop
	s.refreshStop = nil
	reg := s.registry
	media := s.media
	s.participants = make(map[domain.ParticipantID]domain.Participant)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if reg != nil {
		reg.CloseAll()
	}
	if err := s.sig.Send(core.EventLeave, core.LeaveSignal{CallID: s.call.ID, Group: s.call.Group}); err != nil {
		log.Warn().Err(err).Str("module", "call.session").Msg("announce leave")
	}
	s.unsubscribe()
	if media != nil {
		media.Stop()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), rosterOpTimeout)
		defer cancel()
		if err := s.roster.Remove(ctx, s.call.ID, s.call.Self); err != nil {
			log.Debug().Err(err).Str("module", "call.session").Msg("roster remove")
		}
	}()

	s.setStatus(status)
	if msg != "" {
		s.events.EmitSessionError(msg)
	}
	log.Info().Str("module", "call.session").Str("call", string(s.call.ID)).
		Str("status", status.String()).Msg("session torn down")
}

// reportFlags pushes the current mute/video flags to the roster authority.
// Failure leaves other clients with a stale flag - cosmetic, never fatal.
func (s *Session) reportFlags() {
	s.mu.Lock()
	media := s.media
	s.mu.Unlock()
	if media == nil {
		return
	}
	flags := domain.MediaFlags{
		Muted:        !media.AudioEnabled(),
		VideoEnabled: media.VideoEnabled(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), rosterOpTimeout)
		defer cancel()
		if err := s.roster.UpdateStatus(ctx, s.call.ID, s.call.Self, flags); err != nil {
			log.Warn().Err(err).Str("module", "call.session").Msg("report media flags")
		}
	}()
}
