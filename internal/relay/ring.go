package relay

import "sync"

// ring is a fixed-capacity byte ring holding the most recent terminal
// output for replay to late-joining viewers.
type ring struct {
	mu    sync.Mutex
	buf   []byte
	start int
	n     int
}

func newRing(size int) *ring {
	if size <= 0 {
		size = DefaultSnapshotBytes
	}
	return &ring{buf: make([]byte, size)}
}

// Write appends p, discarding the oldest bytes once the ring is full.
func (r *ring) Write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := len(r.buf)
	if len(p) >= size {
		copy(r.buf, p[len(p)-size:])
		r.start = 0
		r.n = size
		return
	}

	end := (r.start + r.n) % size
	first := copy(r.buf[end:], p)
	copy(r.buf, p[first:])

	r.n += len(p)
	if r.n > size {
		r.start = (r.start + r.n - size) % size
		r.n = size
	}
}

// Snapshot returns the buffered bytes oldest-first.
func (r *ring) Snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]byte, r.n)
	first := copy(out, r.buf[r.start:min(r.start+r.n, len(r.buf))])
	copy(out[first:], r.buf[:r.n-first])
	return out
}
