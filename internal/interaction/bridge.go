package interaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

type outcome struct {
	result Result
	err    error
}

type waiter struct {
	req  Request
	done chan outcome
}

// Bridge holds at most one pending request per filing. Further requests for
// the same filing wait in FIFO order behind it.
type Bridge struct {
	mu      sync.Mutex
	queues  map[string][]*waiter
	closed  bool
	history HistoryStore
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Bridge.
type Option func(*Bridge)

func WithHistory(h HistoryStore) Option {
	return func(b *Bridge) {
		if h != nil {
			b.history = h
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBridge returns a bridge recording history in memory unless another
// store is supplied.
func NewBridge(opts ...Option) *Bridge {
	b := &Bridge{
		queues:  make(map[string][]*waiter),
		history: NewMemoryHistory(),
		logger:  logging.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Request registers req for filingID and blocks until an operator resolves
// it, ctx is done, or the bridge is cancelled. There is no timeout.
func (b *Bridge) Request(ctx context.Context, filingID string, req Request) (Result, error) {
	if filingID == "" {
		return Result{}, errors.New("interaction: filing id required")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.FilingID = filingID
	if req.CreatedAt.IsZero() {
		req.CreatedAt = b.now()
	}
	w := &waiter{req: req, done: make(chan outcome, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Result{}, ErrBridgeClosed
	}
	b.queues[filingID] = append(b.queues[filingID], w)
	position := len(b.queues[filingID])
	b.mu.Unlock()

	if position == 1 {
		b.logger.Info("interaction pending", "filing_id", filingID, "section", req.Section, "request_id", req.ID)
	} else {
		b.logger.Info("interaction queued", "filing_id", filingID, "section", req.Section, "position", position)
	}

	select {
	case out := <-w.done:
		return out.result, out.err
	case <-ctx.Done():
		if b.withdraw(filingID, w) {
			return Result{}, ctx.Err()
		}
		// Already resolved or cancelled; the outcome is on its way.
		out := <-w.done
		return out.result, out.err
	}
}

// withdraw removes w from its queue and reports whether it was still there.
func (b *Bridge) withdraw(filingID string, w *waiter) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[filingID]
	for i, cur := range q {
		if cur == w {
			b.setQueue(filingID, append(q[:i:i], q[i+1:]...))
			return true
		}
	}
	return false
}

func (b *Bridge) setQueue(filingID string, q []*waiter) {
	if len(q) == 0 {
		delete(b.queues, filingID)
		return
	}
	b.queues[filingID] = q
}

// Resolve answers the pending request for filingID. It returns false with no
// error when nothing is pending. An answer that fails ValidateResult returns
// an error wrapping ErrInvalidResult and leaves the request pending.
func (b *Bridge) Resolve(ctx context.Context, filingID string, res Result) (bool, error) {
	b.mu.Lock()
	q := b.queues[filingID]
	if len(q) == 0 {
		b.mu.Unlock()
		return false, nil
	}
	w := q[0]
	if err := ValidateResult(w.req, res); err != nil {
		b.mu.Unlock()
		b.logger.Warn("interaction result rejected", "filing_id", filingID, "request_id", w.req.ID, "error", err)
		return false, err
	}
	b.setQueue(filingID, q[1:])
	next := len(q) > 1
	b.mu.Unlock()

	rec := Record{Request: w.req, Result: res, ResolvedAt: b.now()}
	rec.Request.ScreenshotPNG = nil
	if err := b.history.Append(ctx, filingID, rec); err != nil {
		b.logger.Error("failed to record interaction history", "filing_id", filingID, "request_id", w.req.ID, "error", err)
	}

	w.done <- outcome{result: res}
	b.logger.Info("interaction resolved", "filing_id", filingID, "request_id", w.req.ID, "fields", len(res.Values))
	if next {
		b.logger.Info("next queued interaction pending", "filing_id", filingID)
	}
	return true, nil
}

// Pending returns the request currently awaiting an answer for filingID.
func (b *Bridge) Pending(filingID string) (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[filingID]
	if len(q) == 0 {
		return Request{}, false
	}
	return q[0].req, true
}

// Queued counts the pending request plus those waiting behind it.
func (b *Bridge) Queued(filingID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[filingID])
}

// History returns the resolved interactions for filingID, oldest first.
func (b *Bridge) History(ctx context.Context, filingID string) ([]Record, error) {
	recs, err := b.history.List(ctx, filingID)
	if err != nil {
		return nil, fmt.Errorf("interaction: list history: %w", err)
	}
	return recs, nil
}

// Cancel unblocks every waiter for filingID with ErrBridgeClosed.
func (b *Bridge) Cancel(filingID string) int {
	b.mu.Lock()
	q := b.queues[filingID]
	delete(b.queues, filingID)
	b.mu.Unlock()
	for _, w := range q {
		w.done <- outcome{err: ErrBridgeClosed}
	}
	return len(q)
}

// Close cancels every filing and rejects new requests.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	all := b.queues
	b.queues = make(map[string][]*waiter)
	b.mu.Unlock()
	for _, q := range all {
		for _, w := range q {
			w.done <- outcome{err: ErrBridgeClosed}
		}
	}
}
