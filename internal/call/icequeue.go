package call

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

// DefaultQueueCap bounds the per-participant candidate buffer under
// signaling storms. Beyond the cap the oldest candidate is dropped.
const DefaultQueueCap = 100

// candidateQueue absorbs the race between "remote candidates begin
// arriving" and "remote description set". Candidates whose sender has no
// peer link yet are buffered under the sender id all the same and flushed
// once the link materializes; teardown discards everything.
//
// Order is FIFO per participant. No ordering across participants.
type candidateQueue struct {
	mu  sync.Mutex
	cap int
	buf map[domain.ParticipantID][]core.Candidate
}

func newCandidateQueue(capPerPeer int) *candidateQueue {
	if capPerPeer <= 0 {
		capPerPeer = DefaultQueueCap
	}
	return &candidateQueue{
		cap: capPerPeer,
		buf: make(map[domain.ParticipantID][]core.Candidate),
	}
}

func (q *candidateQueue) Enqueue(pid domain.ParticipantID, c core.Candidate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	buf := q.buf[pid]
	if len(buf) >= q.cap {
		buf = buf[1:]
		log.Warn().Str("module", "call.icequeue").Str("pid", string(pid)).
			Int("cap", q.cap).Msg("candidate buffer full, dropping oldest")
	}
	q.buf[pid] = append(buf, c)
}

// Flush applies every buffered candidate for pid in enqueue order, then
// clears the buffer. A failing candidate is reported and skipped - one bad
// candidate must not block the rest. Returns the number applied.
func (q *candidateQueue) Flush(pid domain.ParticipantID, apply func(core.Candidate) error) int {
	q.mu.Lock()
	buf := q.buf[pid]
	delete(q.buf, pid)
	q.mu.Unlock()

	applied := 0
	for _, c := range buf {
		if err := apply(c); err != nil {
			log.Error().Err(err).Str("module", "call.icequeue").Str("pid", string(pid)).
				Msg("apply queued candidate")
			continue
		}
		applied++
	}
	return applied
}

func (q *candidateQueue) Drop(pid domain.ParticipantID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.buf, pid)
}

func (q *candidateQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = make(map[domain.ParticipantID][]core.Candidate)
}

func (q *candidateQueue) Len(pid domain.ParticipantID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf[pid])
}

func (q *candidateQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, buf := range q.buf {
		if len(buf) > 0 {
			return false
		}
	}
	return true
}
