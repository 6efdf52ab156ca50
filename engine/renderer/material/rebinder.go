package material

import "sync"

// Rebinder collects materials invalidated by target recreation until every
// frame slot of each has been rewritten.
type Rebinder struct {
	mu    sync.Mutex
	queue []*Material
}

func NewRebinder() *Rebinder {
	return &Rebinder{}
}

func (r *Rebinder) Enqueue(m *Material) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.queue {
		if q == m {
			return
		}
	}
	r.queue = append(r.queue, m)
}

// Flush rewrites frame slot frame of every queued material and drops the
// materials that are now clean in every slot.
func (r *Rebinder) Flush(frame int) int {
	r.mu.Lock()
	queue := r.queue
	r.queue = nil
	r.mu.Unlock()

	var keep []*Material
	for _, m := range queue {
		m.Prepare(frame)
		if !m.clean() {
			keep = append(keep, m)
		}
	}

	r.mu.Lock()
	r.queue = append(keep, r.queue...)
	r.mu.Unlock()
	return len(queue)
}

// Pending returns the number of queued materials.
func (r *Rebinder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Rebinder) remove(m *Material) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, q := range r.queue {
		if q == m {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}
