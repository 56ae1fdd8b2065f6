package progress

import (
	"sort"
	"sync"
)

// Registry maps filing ids to trackers. Trackers created through it share
// the registry's observers.
type Registry struct {
	mu        sync.RWMutex
	trackers  map[string]*Tracker
	observers []Observer
	opts      []Option
}

func NewRegistry(opts ...Option) *Registry {
	return &Registry{trackers: make(map[string]*Tracker), opts: opts}
}

// Observe adds an observer to every tracker created afterwards.
func (r *Registry) Observe(o Observer) {
	if o == nil {
		return
	}
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

// Create returns the tracker for filingID, creating it when missing.
func (r *Registry) Create(filingID string, totalSections int) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trackers[filingID]; ok {
		return t
	}
	opts := append(append([]Option(nil), r.opts...), WithObservers(r.observers...))
	t := NewTracker(filingID, totalSections, opts...)
	r.trackers[filingID] = t
	return t
}

func (r *Registry) Get(filingID string) (*Tracker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trackers[filingID]
	return t, ok
}

func (r *Registry) Remove(filingID string) {
	r.mu.Lock()
	delete(r.trackers, filingID)
	r.mu.Unlock()
}

// States returns a snapshot of every tracked filing ordered by filing id.
func (r *Registry) States() []State {
	r.mu.RLock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.mu.RUnlock()

	out := make([]State, 0, len(trackers))
	for _, t := range trackers {
		out = append(out, t.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilingID < out[j].FilingID })
	return out
}
