package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

var (
	alice = domain.Participant{ID: "alice", DisplayName: "Alice"}
	bob   = domain.Participant{ID: "bob", DisplayName: "Bob"}
	self  = domain.Participant{ID: "self", DisplayName: "Me"}
)

type sessionHarness struct {
	sess   *Session
	sig    *fakeSignal
	bank   *transportBank
	roster *fakeRoster
	media  *fakeMedia
	rec    *eventRecorder
}

func makeSession(t *testing.T, tun Tunables, present ...domain.Participant) *sessionHarness {
	t.Helper()
	sig := newFakeSignal()
	bank := newTransportBank()
	media := newFakeMedia()
	rec, events := newEventRecorder()
	roster := newFakeRoster(&core.CallDetail{
		ID:           "call-1",
		Group:        "group-1",
		Participants: append([]domain.Participant{self}, present...),
	})

	sess := NewOutgoing(Deps{
		Signal:    sig,
		Media:     func() (core.MediaSource, error) { return media, nil },
		Roster:    roster,
		Transport: bank.factory(),
		Events:    events,
		Tunables:  tun,
	}, "call-1", "group-1", self.ID)

	t.Cleanup(sess.Leave)
	return &sessionHarness{sess: sess, sig: sig, bank: bank, roster: roster, media: media, rec: rec}
}

func TestJoinConnectsToExistingParticipants(t *testing.T) {
	h := makeSession(t, slowTunables(), alice, bob)

	require.NoError(t, h.sess.Join(context.Background()))
	assert.Equal(t, domain.CallConnected, h.sess.Status())

	// The joining side announces itself and offers first to everyone
	// already in the call.
	require.Len(t, h.sig.sentByEvent(core.EventJoin), 1)
	assert.Equal(t, 1, h.sig.offersTo(alice.ID))
	assert.Equal(t, 1, h.sig.offersTo(bob.ID))
	assert.Equal(t, 1, h.bank.count(alice.ID))
	assert.Equal(t, 1, h.bank.count(bob.ID))
	assert.Len(t, h.sess.Participants(), 2)
}

func TestJoinFailsWhenMediaUnavailable(t *testing.T) {
	sig := newFakeSignal()
	rec, events := newEventRecorder()
	roster := newFakeRoster(&core.CallDetail{ID: "call-1", Group: "group-1"})

	sess := NewOutgoing(Deps{
		Signal:    sig,
		Media:     func() (core.MediaSource, error) { return nil, core.ErrMediaPermission },
		Roster:    roster,
		Transport: newTransportBank().factory(),
		Events:    events,
		Tunables:  slowTunables(),
	}, "call-1", "group-1", self.ID)

	require.ErrorIs(t, sess.Join(context.Background()), core.ErrMediaPermission)
	assert.Equal(t, domain.CallFailed, sess.Status())
	assert.NotEmpty(t, rec.sessionError())

	// A failed join is terminal; retrying on the same session is refused.
	require.ErrorIs(t, sess.Join(context.Background()), ErrSessionClosed)
}

func TestNewcomerInitiatesNotUs(t *testing.T) {
	h := makeSession(t, slowTunables())
	require.NoError(t, h.sess.Join(context.Background()))

	h.sig.deliver(core.EventParticipantJoined, core.ParticipantJoinedSignal{
		CallID:      "call-1",
		Participant: alice,
	})

	// A link is prepared to answer on, but the newcomer sends the first
	// offer, not us.
	assert.Equal(t, 1, h.bank.count(alice.ID))
	assert.Zero(t, h.sig.offersTo(alice.ID))
	assert.Len(t, h.sess.Participants(), 1)
}

func TestOwnJoinEchoIsIgnored(t *testing.T) {
	h := makeSession(t, slowTunables())
	require.NoError(t, h.sess.Join(context.Background()))

	h.sig.deliver(core.EventParticipantJoined, core.ParticipantJoinedSignal{
		CallID:      "call-1",
		Participant: self,
	})
	assert.Empty(t, h.sess.Participants())
	assert.Zero(t, h.bank.count(self.ID))
}

func TestOfferBeforeParticipantJoinedIsAnswered(t *testing.T) {
	h := makeSession(t, slowTunables())
	require.NoError(t, h.sess.Join(context.Background()))

	h.sig.deliver(core.EventOffer, core.DescriptionSignal{
		CallID: "call-1",
		From:   alice.ID,
		SDP:    "v=0 early offer",
	})

	answers := h.sig.sentByEvent(core.EventAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, alice.ID, answers[0].payload.(core.DescriptionSignal).Target)

	// The implicit admit is upgraded once the real join event lands.
	h.sig.deliver(core.EventParticipantJoined, core.ParticipantJoinedSignal{
		CallID:      "call-1",
		Participant: alice,
	})
	ps := h.sess.Participants()
	require.Len(t, ps, 1)
	assert.Equal(t, "Alice", ps[0].DisplayName)
}

func TestCandidateBeforeOfferIsBufferedThenApplied(t *testing.T) {
	h := makeSession(t, slowTunables())
	require.NoError(t, h.sess.Join(context.Background()))

	h.sig.deliver(core.EventCandidate, core.CandidateSignal{
		CallID:    "call-1",
		From:      alice.ID,
		Candidate: core.Candidate{Candidate: "early-0"},
	})
	h.sig.deliver(core.EventOffer, core.DescriptionSignal{
		CallID: "call-1",
		From:   alice.ID,
		SDP:    "v=0 offer",
	})

	applied := h.bank.latest(alice.ID).appliedCandidates()
	require.Len(t, applied, 1)
	assert.Equal(t, "early-0", applied[0].Candidate)
}

func TestLeaveTearsDownOnce(t *testing.T) {
	h := makeSession(t, slowTunables(), alice)
	require.NoError(t, h.sess.Join(context.Background()))
	tr := h.bank.latest(alice.ID)

	h.sess.Leave()
	h.sess.Leave()

	assert.Equal(t, domain.CallEnded, h.sess.Status())
	assert.True(t, tr.isClosed())
	assert.Equal(t, 1, h.media.stopCount())
	assert.Len(t, h.sig.sentByEvent(core.EventLeave), 1)
	assert.Empty(t, h.sess.Participants())

	require.Eventually(t, func() bool {
		ids := h.roster.removedIDs()
		return len(ids) == 1 && ids[0] == self.ID
	}, time.Second, 5*time.Millisecond)
}

func TestRemoteCallEndedTearsDown(t *testing.T) {
	h := makeSession(t, slowTunables(), alice)
	require.NoError(t, h.sess.Join(context.Background()))

	h.sig.deliver(core.EventCallEnded, core.CallEndedSignal{
		CallID:  "call-1",
		Reason:  "host ended",
		EndedBy: alice.ID,
	})

	assert.Equal(t, domain.CallEnded, h.sess.Status())
	assert.Equal(t, 1, h.media.stopCount())
}

func TestDeclineIsTerminal(t *testing.T) {
	h := makeSession(t, slowTunables())
	h.sess.Decline()
	assert.Equal(t, domain.CallDeclined, h.sess.Status())
	require.ErrorIs(t, h.sess.Join(context.Background()), ErrSessionClosed)
}

func TestAnswerAfterLeaveIsDropped(t *testing.T) {
	h := makeSession(t, slowTunables(), alice)
	require.NoError(t, h.sess.Join(context.Background()))
	tr := h.bank.latest(alice.ID)

	h.sess.Leave()
	h.sig.deliver(core.EventAnswer, core.DescriptionSignal{
		CallID: "call-1",
		From:   alice.ID,
		SDP:    "v=0 late answer",
	})

	assert.Empty(t, tr.appliedAnswers())
}

func TestParticipantLeftClosesLink(t *testing.T) {
	h := makeSession(t, slowTunables(), alice)
	require.NoError(t, h.sess.Join(context.Background()))
	tr := h.bank.latest(alice.ID)

	h.sig.deliver(core.EventParticipantLeft, core.ParticipantLeftSignal{
		CallID:        "call-1",
		ParticipantID: alice.ID,
	})

	assert.True(t, tr.isClosed())
	assert.Empty(t, h.sess.Participants())
	assert.Equal(t, []domain.ParticipantID{alice.ID}, h.rec.leftIDs())
}

func TestToggleMuteReportsFlags(t *testing.T) {
	h := makeSession(t, slowTunables())
	require.NoError(t, h.sess.Join(context.Background()))

	assert.True(t, h.sess.ToggleMute())
	require.Eventually(t, func() bool {
		flags, ok := h.roster.lastFlags()
		return ok && flags.Muted
	}, time.Second, 5*time.Millisecond)

	assert.False(t, h.sess.ToggleMute())
	require.Eventually(t, func() bool {
		flags, ok := h.roster.lastFlags()
		return ok && !flags.Muted
	}, time.Second, 5*time.Millisecond)
}

func TestToggleVideoReportsFlags(t *testing.T) {
	h := makeSession(t, slowTunables())
	require.NoError(t, h.sess.Join(context.Background()))

	assert.False(t, h.sess.ToggleVideo())
	require.Eventually(t, func() bool {
		flags, ok := h.roster.lastFlags()
		return ok && !flags.VideoEnabled
	}, time.Second, 5*time.Millisecond)
}

func TestTogglesAfterLeaveAreNoops(t *testing.T) {
	h := makeSession(t, slowTunables())
	require.NoError(t, h.sess.Join(context.Background()))
	h.sess.Leave()

	assert.False(t, h.sess.ToggleMute())
	assert.False(t, h.sess.ToggleVideo())
}

func TestRosterRefreshReconcilesDrift(t *testing.T) {
	tun := slowTunables()
	tun.RosterRefresh = 20 * time.Millisecond
	h := makeSession(t, tun, alice)
	require.NoError(t, h.sess.Join(context.Background()))
	aliceTr := h.bank.latest(alice.ID)

	// Authority now says alice is gone and bob arrived; neither signal
	// was delivered.
	h.roster.setParticipants(self, bob)

	require.Eventually(t, func() bool {
		ps := h.sess.Participants()
		return len(ps) == 1 && ps[0].ID == bob.ID
	}, time.Second, 5*time.Millisecond)
	assert.True(t, aliceTr.isClosed())

	// Refresh-discovered members get an offer from us; there is no
	// joiner on the other side to initiate.
	require.Eventually(t, func() bool {
		return h.sig.offersTo(bob.ID) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRefreshDoesNotChurnHealthyLinks(t *testing.T) {
	tun := slowTunables()
	tun.RosterRefresh = 20 * time.Millisecond
	h := makeSession(t, tun, alice)
	require.NoError(t, h.sess.Join(context.Background()))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.bank.count(alice.ID), "stable roster must not recreate links")
	assert.Equal(t, 1, h.sig.offersTo(alice.ID))
}

func TestJoinRetriesRosterAckInBackground(t *testing.T) {
	tun := slowTunables()
	tun.RosterRefresh = 20 * time.Millisecond
	h := makeSession(t, tun, alice)

	h.roster.setJoinErr(context.DeadlineExceeded)
	require.NoError(t, h.sess.Join(context.Background()))
	assert.Equal(t, domain.CallConnecting, h.sess.Status())

	h.roster.setJoinErr(nil)
	require.Eventually(t, func() bool {
		return h.sess.Status() == domain.CallConnected
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return h.sig.offersTo(alice.ID) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEventsForOtherCallsAreIgnored(t *testing.T) {
	h := makeSession(t, slowTunables())
	require.NoError(t, h.sess.Join(context.Background()))

	h.sig.deliver(core.EventParticipantJoined, core.ParticipantJoinedSignal{
		CallID:      "some-other-call",
		Participant: alice,
	})
	h.sig.deliver(core.EventCallEnded, core.CallEndedSignal{CallID: "some-other-call"})

	assert.Empty(t, h.sess.Participants())
	assert.Equal(t, domain.CallConnected, h.sess.Status())
}

func TestRingPrecedesJoin(t *testing.T) {
	h := makeSession(t, slowTunables())
	h.sess.Ring()
	assert.Equal(t, domain.CallRinging, h.sess.Status())

	require.NoError(t, h.sess.Join(context.Background()))
	assert.Equal(t, domain.CallConnected, h.sess.Status())
}
