package call

import "time"

// Defaults for the reconnect and refresh knobs. These are tunables, not
// mandated constants; deployments override them through configuration.
const (
	DefaultDisconnectGrace = 4 * time.Second
	DefaultRestartWindow   = 4 * time.Second
	DefaultMaxLinkRetries  = 3
	DefaultSignalStall     = 30 * time.Second
	DefaultRosterRefresh   = 5 * time.Second
)

// Tunables groups the timing and bound knobs of the call core.
type Tunables struct {
	// DisconnectGrace is how long a link may sit in Disconnected before
	// an ICE restart is attempted.
	DisconnectGrace time.Duration
	// RestartWindow bounds how long a post-failure ICE restart may take
	// before the link is recycled from scratch.
	RestartWindow time.Duration
	// MaxLinkRetries caps automatic recoveries per participant before a
	// fatal per-participant error is surfaced.
	MaxLinkRetries int
	// SignalStall marks a link failed when an offer stays unanswered this
	// long, covering a signaling channel that never delivered it.
	SignalStall time.Duration
	// QueueCap bounds the per-participant ICE candidate buffer.
	QueueCap int
	// RosterRefresh is the reconcile period against the roster authority.
	RosterRefresh time.Duration
}

func (t Tunables) withDefaults() Tunables {
	if t.DisconnectGrace <= 0 {
		t.DisconnectGrace = DefaultDisconnectGrace
	}
	if t.RestartWindow <= 0 {
		t.RestartWindow = DefaultRestartWindow
	}
	if t.MaxLinkRetries <= 0 {
		t.MaxLinkRetries = DefaultMaxLinkRetries
	}
	if t.SignalStall <= 0 {
		t.SignalStall = DefaultSignalStall
	}
	if t.QueueCap <= 0 {
		t.QueueCap = DefaultQueueCap
	}
	if t.RosterRefresh <= 0 {
		t.RosterRefresh = DefaultRosterRefresh
	}
	return t
}
