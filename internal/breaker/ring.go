package breaker

import "time"

// ring is a fixed-capacity buffer of event timestamps with O(1) eviction.
// Pushing onto a full ring overwrites the oldest entry.
type ring struct {
	buf  []time.Time
	head int
	size int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{buf: make([]time.Time, capacity)}
}

func (r *ring) push(t time.Time) {
	r.buf[r.head] = t
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// countSince counts entries at or after the cutoff.
func (r *ring) countSince(cutoff time.Time) int {
	count := 0
	for i := 0; i < r.size; i++ {
		idx := (r.head - 1 - i + 2*len(r.buf)) % len(r.buf)
		if r.buf[idx].Before(cutoff) {
			// Entries are pushed in time order; once one is too old the
			// rest behind it are too.
			break
		}
		count++
	}
	return count
}

func (r *ring) len() int {
	return r.size
}
