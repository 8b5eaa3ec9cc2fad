package call

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

// fakeTransport is a scripted PeerTransport. Tests drive connectivity
// transitions through fire().
type fakeTransport struct {
	mu sync.Mutex

	negState   core.NegotiationState
	remoteDesc bool
	closed     bool

	offers      int
	iceRestarts int
	answers     []string
	candidates  []core.Candidate
	tracks      int

	candidateErr error

	onCandidate func(core.Candidate)
	onTrack     func(*webrtc.TrackRemote)
	onConnState func(core.ConnectionState)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{negState: core.NegotiationStable}
}

func (t *fakeTransport) CreateOffer(iceRestart bool) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offers++
	if iceRestart {
		t.iceRestarts++
	} else {
		t.negState = core.NegotiationHaveLocalOffer
	}
	return "v=0 offer", nil
}

func (t *fakeTransport) ApplyOfferAndCreateAnswer(sdp string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteDesc = true
	t.negState = core.NegotiationStable
	return "v=0 answer", nil
}

func (t *fakeTransport) ApplyAnswer(sdp string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.answers = append(t.answers, sdp)
	t.remoteDesc = true
	t.negState = core.NegotiationStable
	return nil
}

func (t *fakeTransport) AddICECandidate(c core.Candidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.candidateErr != nil {
		return t.candidateErr
	}
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *fakeTransport) HasRemoteDescription() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteDesc
}

func (t *fakeTransport) NegotiationState() core.NegotiationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.negState
}

func (t *fakeTransport) setNegotiationState(s core.NegotiationState) {
	t.mu.Lock()
	t.negState = s
	t.mu.Unlock()
}

func (t *fakeTransport) AddLocalTrack(webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks++
	return nil
}

func (t *fakeTransport) OnICECandidate(fn func(core.Candidate)) {
	t.mu.Lock()
	t.onCandidate = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnTrack(fn func(*webrtc.TrackRemote)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnConnectionStateChange(fn func(core.ConnectionState)) {
	t.mu.Lock()
	t.onConnState = fn
	t.mu.Unlock()
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	t.closed = true
	t.negState = core.NegotiationClosed
	t.mu.Unlock()
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) offerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offers
}

func (t *fakeTransport) restartCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.iceRestarts
}

func (t *fakeTransport) appliedCandidates() []core.Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.Candidate(nil), t.candidates...)
}

func (t *fakeTransport) appliedAnswers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.answers...)
}

// fire simulates a connectivity transition from the network.
func (t *fakeTransport) fire(s core.ConnectionState) {
	t.mu.Lock()
	fn := t.onConnState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// transportBank hands out fakeTransports and remembers them per pid so
// tests can inspect each generation of a recycled link.
type transportBank struct {
	mu   sync.Mutex
	made map[domain.ParticipantID][]*fakeTransport
}

func newTransportBank() *transportBank {
	return &transportBank{made: make(map[domain.ParticipantID][]*fakeTransport)}
}

func (b *transportBank) factory() core.TransportFactory {
	return func(pid domain.ParticipantID) (core.PeerTransport, error) {
		t := newFakeTransport()
		b.mu.Lock()
		b.made[pid] = append(b.made[pid], t)
		b.mu.Unlock()
		return t, nil
	}
}

func (b *transportBank) latest(pid domain.ParticipantID) *fakeTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts := b.made[pid]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

func (b *transportBank) count(pid domain.ParticipantID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.made[pid])
}

type sentMessage struct {
	event   string
	payload any
}

// fakeSignal is an in-memory SignalChannel. deliver() plays a server
// push through the registered handler, round-tripping through JSON the
// way the wire would.
type fakeSignal struct {
	mu        sync.Mutex
	sent      []sentMessage
	handlers  map[string]core.Handler
	connected bool
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{
		handlers:  make(map[string]core.Handler),
		connected: true,
	}
}

func (f *fakeSignal) Send(event string, payload any) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{event: event, payload: payload})
	f.mu.Unlock()
	return nil
}

func (f *fakeSignal) On(event string, h core.Handler) {
	f.mu.Lock()
	f.handlers[event] = h
	f.mu.Unlock()
}

func (f *fakeSignal) Off(event string) {
	f.mu.Lock()
	delete(f.handlers, event)
	f.mu.Unlock()
}

func (f *fakeSignal) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSignal) setConnected(on bool) {
	f.mu.Lock()
	f.connected = on
	f.mu.Unlock()
}

func (f *fakeSignal) deliver(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	h := f.handlers[event]
	f.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (f *fakeSignal) sentByEvent(event string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.event == event {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSignal) offersTo(pid domain.ParticipantID) int {
	n := 0
	for _, m := range f.sentByEvent(core.EventOffer) {
		if d, ok := m.payload.(core.DescriptionSignal); ok && d.Target == pid {
			n++
		}
	}
	return n
}

// fakeRoster is an in-memory RosterService with a swappable detail view.
type fakeRoster struct {
	mu      sync.Mutex
	detail  *core.CallDetail
	joinErr error
	joins   int
	removed []domain.ParticipantID
	flags   []domain.MediaFlags
}

func newFakeRoster(detail *core.CallDetail) *fakeRoster {
	return &fakeRoster{detail: detail}
}

func (r *fakeRoster) CallDetail(_ context.Context, _ domain.CallID) (*core.CallDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.detail
	cp.Participants = append([]domain.Participant(nil), r.detail.Participants...)
	return &cp, nil
}

func (r *fakeRoster) Join(_ context.Context, _ domain.CallID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins++
	return r.joinErr
}

func (r *fakeRoster) UpdateStatus(_ context.Context, _ domain.CallID, _ domain.ParticipantID, flags domain.MediaFlags) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags = append(r.flags, flags)
	return nil
}

func (r *fakeRoster) Remove(_ context.Context, _ domain.CallID, pid domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, pid)
	return nil
}

func (r *fakeRoster) setJoinErr(err error) {
	r.mu.Lock()
	r.joinErr = err
	r.mu.Unlock()
}

func (r *fakeRoster) setParticipants(ps ...domain.Participant) {
	r.mu.Lock()
	r.detail.Participants = ps
	r.mu.Unlock()
}

func (r *fakeRoster) removedIDs() []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ParticipantID(nil), r.removed...)
}

func (r *fakeRoster) lastFlags() (domain.MediaFlags, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.flags) == 0 {
		return domain.MediaFlags{}, false
	}
	return r.flags[len(r.flags)-1], true
}

// fakeMedia is a no-track MediaSource tracking toggle and stop calls.
type fakeMedia struct {
	mu      sync.Mutex
	audioOn bool
	videoOn bool
	stops   int
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{audioOn: true, videoOn: true}
}

func (m *fakeMedia) Tracks() []webrtc.TrackLocal { return nil }

func (m *fakeMedia) SetAudioEnabled(on bool) {
	m.mu.Lock()
	m.audioOn = on
	m.mu.Unlock()
}

func (m *fakeMedia) SetVideoEnabled(on bool) {
	m.mu.Lock()
	m.videoOn = on
	m.mu.Unlock()
}

func (m *fakeMedia) AudioEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioOn
}

func (m *fakeMedia) VideoEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoOn
}

func (m *fakeMedia) Stop() {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
}

func (m *fakeMedia) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// eventRecorder captures SessionEvents callbacks for assertions.
type eventRecorder struct {
	mu         sync.Mutex
	statuses   []domain.CallStatus
	joined     []domain.Participant
	left       []domain.ParticipantID
	linkErrors map[domain.ParticipantID]error
	sessionMsg string
}

func newEventRecorder() (*eventRecorder, *core.SessionEvents) {
	r := &eventRecorder{linkErrors: make(map[domain.ParticipantID]error)}
	ev := &core.SessionEvents{
		OnStatus: func(s domain.CallStatus) {
			r.mu.Lock()
			r.statuses = append(r.statuses, s)
			r.mu.Unlock()
		},
		OnParticipantJoined: func(p domain.Participant) {
			r.mu.Lock()
			r.joined = append(r.joined, p)
			r.mu.Unlock()
		},
		OnParticipantLeft: func(pid domain.ParticipantID) {
			r.mu.Lock()
			r.left = append(r.left, pid)
			r.mu.Unlock()
		},
		OnLinkError: func(pid domain.ParticipantID, err error) {
			r.mu.Lock()
			r.linkErrors[pid] = err
			r.mu.Unlock()
		},
		OnSessionError: func(msg string) {
			r.mu.Lock()
			r.sessionMsg = msg
			r.mu.Unlock()
		},
	}
	return r, ev
}

func (r *eventRecorder) linkError(pid domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.linkErrors[pid]
}

func (r *eventRecorder) sessionError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionMsg
}

func (r *eventRecorder) leftIDs() []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ParticipantID(nil), r.left...)
}
