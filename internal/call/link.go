package call

import (
	"sync"
	"time"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

// answerFingerprintLen is how much of an answer SDP goes into the
// duplicate-suppression fingerprint. The channel gives no delivery-once
// guarantee, so repeats must be recognized cheaply.
const answerFingerprintLen = 64

func answerFingerprint(sdp string) string {
	if len(sdp) > answerFingerprintLen {
		return sdp[:answerFingerprintLen]
	}
	return sdp
}

// PeerLink is the one media link to a single remote participant. Exactly
// one may exist per participant at any time; the registry enforces that.
//
// The link holds use-references on the shared local tracks; the media
// source stays the owner. Closing the link releases the references and
// discards the participant's queued candidates.
type PeerLink struct {
	pid       domain.ParticipantID
	transport core.PeerTransport

	mu         sync.Mutex
	conn       core.ConnectionState
	answerSeen map[string]struct{}
	closed     bool

	graceTimer   *time.Timer
	restartTimer *time.Timer
	stallTimer   *time.Timer
}

func newPeerLink(pid domain.ParticipantID, t core.PeerTransport) *PeerLink {
	return &PeerLink{
		pid:        pid,
		transport:  t,
		conn:       core.ConnNew,
		answerSeen: make(map[string]struct{}),
	}
}

func (l *PeerLink) ParticipantID() domain.ParticipantID { return l.pid }

// NegotiationState reads the current handshake phase from the transport.
// Callers must re-read after every suspension point instead of caching it.
func (l *PeerLink) NegotiationState() core.NegotiationState {
	return l.transport.NegotiationState()
}

func (l *PeerLink) ConnState() core.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *PeerLink) setConnState(s core.ConnectionState) {
	l.mu.Lock()
	l.conn = s
	l.mu.Unlock()
}

// isDupAnswer reports whether this answer was already applied.
func (l *PeerLink) isDupAnswer(fp string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.answerSeen[fp]
	return ok
}

// markAnswer records a fingerprint once the answer was applied successfully.
func (l *PeerLink) markAnswer(fp string) {
	l.mu.Lock()
	l.answerSeen[fp] = struct{}{}
	l.mu.Unlock()
}

func (l *PeerLink) armGraceTimer(d time.Duration, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	stopTimer(l.graceTimer)
	l.graceTimer = time.AfterFunc(d, fn)
}

func (l *PeerLink) stopGraceTimer() {
	l.mu.Lock()
	stopTimer(l.graceTimer)
	l.graceTimer = nil
	l.mu.Unlock()
}

func (l *PeerLink) armRestartTimer(d time.Duration, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	stopTimer(l.restartTimer)
	l.restartTimer = time.AfterFunc(d, fn)
}

func (l *PeerLink) stopRestartTimer() {
	l.mu.Lock()
	stopTimer(l.restartTimer)
	l.restartTimer = nil
	l.mu.Unlock()
}

func (l *PeerLink) armStallTimer(d time.Duration, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	stopTimer(l.stallTimer)
	l.stallTimer = time.AfterFunc(d, fn)
}

func (l *PeerLink) stopStallTimer() {
	l.mu.Lock()
	stopTimer(l.stallTimer)
	l.stallTimer = nil
	l.mu.Unlock()
}

// close is idempotent. Pending timer callbacks that already fired find the
// link gone from the registry and no-op.
func (l *PeerLink) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.conn = core.ConnClosed
	stopTimer(l.graceTimer)
	stopTimer(l.restartTimer)
	stopTimer(l.stallTimer)
	l.mu.Unlock()

	l.transport.Close()
}

func (l *PeerLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
