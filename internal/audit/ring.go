package audit

import "sync"

// DefaultRingSize is the default in-memory event capacity.
const DefaultRingSize = 4096

// ring is a fixed-capacity circular buffer of events. When full, the next
// append overwrites the oldest event. All methods are safe for concurrent
// use.
type ring struct {
	mu    sync.Mutex
	data  []Event
	next  int
	total uint64
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &ring{data: make([]Event, 0, capacity)}
}

// append stores an event, evicting the oldest if the buffer is full.
func (r *ring) append(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.data) < cap(r.data) {
		r.data = append(r.data, e)
	} else {
		r.data[r.next] = e
		r.next = (r.next + 1) % cap(r.data)
	}
	r.total++
}

// snapshot returns the buffered events in append order, oldest first.
func (r *ring) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.data))
	out = append(out, r.data[r.next:]...)
	out = append(out, r.data[:r.next]...)
	return out
}

// len reports how many events are currently buffered.
func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}
