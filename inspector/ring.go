package inspector

import (
	"sync"

	"github.com/aukilabs/eihwaz/models"
	"github.com/aukilabs/eihwaz/wire"
)

const DefaultRingCapacity = 300

// Ring keeps the most recent frame statistics in a fixed-size buffer.
// Recording happens on the simulation goroutine; history reads can come from
// any serving goroutine.
type Ring struct {
	mutex sync.RWMutex
	buf   []wire.FrameStats
	next  int
	count int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{buf: make([]wire.FrameStats, capacity)}
}

// Record stores one snapshot, evicting the oldest once the buffer is full.
func (r *Ring) Record(s wire.FrameStats) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *Ring) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.count
}

// Last returns the most recent snapshot.
func (r *Ring) Last() (wire.FrameStats, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.count == 0 {
		return wire.FrameStats{}, false
	}
	return r.buf[(r.next-1+len(r.buf))%len(r.buf)], true
}

// History returns the buffered snapshots ordered oldest to newest.
func (r *Ring) History() []wire.FrameStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]wire.FrameStats, 0, r.count)
	start := r.next - r.count
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i+len(r.buf))%len(r.buf)])
	}
	return out
}

// Observe records one snapshot per frame until the returned cancel runs.
func (r *Ring) Observe(scene *models.Scene) (cancel func()) {
	return scene.HandleFrame(func() {
		r.Record(scene.FrameStatsMessage())
	})
}
