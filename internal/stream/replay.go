package stream

import "sync"

type replayEntry struct {
	seq  int64
	data []byte
}

// replayRing keeps the last N envelopes of one channel so a reconnecting
// client can backfill a gap by channel_seq.
type replayRing struct {
	mu   sync.RWMutex
	buf  []replayEntry
	pos  int
	full bool
}

func newReplayRing(capacity int) *replayRing {
	if capacity <= 0 {
		capacity = DefaultReplaySize
	}
	return &replayRing{buf: make([]replayEntry, capacity)}
}

func (r *replayRing) push(seq int64, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.pos] = replayEntry{seq: seq, data: data}
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 {
		r.full = true
	}
}

// rangeSeq returns envelopes with seq in [from, to], oldest first.
func (r *replayRing) rangeSeq(from, to int64) [][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, start := r.pos, 0
	if r.full {
		n, start = len(r.buf), r.pos
	}
	var out [][]byte
	for i := 0; i < n; i++ {
		e := r.buf[(start+i)%len(r.buf)]
		if e.seq >= from && e.seq <= to {
			out = append(out, e.data)
		}
	}
	return out
}

func (r *replayRing) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.buf)
	}
	return r.pos
}
