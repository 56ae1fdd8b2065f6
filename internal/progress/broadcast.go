package progress

import (
	"context"
	"sync"
)

const defaultSubscriberCapacity = 64

// Subscription is a live feed of one filing's events.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close ends the subscription and closes Events.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Broadcaster fans tracker events out to per-filing subscribers. Slow
// subscribers lose their oldest buffered event, except that a final event is
// never the one dropped.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[string]map[*subscriber]struct{}
	capacity int
}

func NewBroadcaster(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &Broadcaster{subs: make(map[string]map[*subscriber]struct{}), capacity: capacity}
}

// Subscribe registers for events of filingID.
func (b *Broadcaster) Subscribe(filingID string) Subscription {
	sub := &subscriber{ch: make(chan Event, b.capacity)}
	b.mu.Lock()
	if b.subs[filingID] == nil {
		b.subs[filingID] = make(map[*subscriber]struct{})
	}
	b.subs[filingID][sub] = struct{}{}
	b.mu.Unlock()

	return Subscription{
		Events: sub.ch,
		cancel: func() { b.remove(filingID, sub) },
	}
}

// Subscribers counts live subscriptions for filingID.
func (b *Broadcaster) Subscribers(filingID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[filingID])
}

func (b *Broadcaster) OnStatusUpdate(_ context.Context, ev Event) error {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs[ev.FilingID]))
	for s := range b.subs[ev.FilingID] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	for _, s := range subs {
		s.deliver(ev)
	}
	return nil
}

func (b *Broadcaster) remove(filingID string, sub *subscriber) {
	b.mu.Lock()
	if subs := b.subs[filingID]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subs, filingID)
		}
	}
	b.mu.Unlock()
	sub.close()
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *subscriber) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case oldest := <-s.ch:
		if oldest.Type == EventFilingFinished {
			s.ch <- oldest
			return
		}
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
