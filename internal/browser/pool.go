package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("browser: session pool closed")

// PooledDriver is a Driver the pool can recycle.
type PooledDriver interface {
	Driver
	ID() string
	Close(ctx context.Context) error
}

// Opener creates a new browser session.
type Opener func(ctx context.Context) (PooledDriver, error)

// ClientOpener adapts a sidecar Client to an Opener.
func ClientOpener(c *Client) Opener {
	return func(ctx context.Context) (PooledDriver, error) {
		return c.OpenSession(ctx)
	}
}

type idleSession struct {
	driver PooledDriver
	since  time.Time
}

// Pool hands out browser sessions exclusively. At most max sessions are
// checked out at once; idle sessions are closed after idleTimeout.
type Pool struct {
	open        Opener
	slots       chan struct{}
	idleTimeout time.Duration
	logger      *logging.Logger
	now         func() time.Time

	mu     sync.Mutex
	idle   []idleSession
	inUse  map[string]PooledDriver
	closed bool

	stop chan struct{}
	done chan struct{}
}

// NewPool starts a pool. A janitor goroutine runs when idleTimeout > 0.
func NewPool(open Opener, max int, idleTimeout time.Duration, logger *logging.Logger) *Pool {
	if open == nil {
		panic("browser: session opener cannot be nil")
	}
	if max <= 0 {
		max = 1
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Pool{
		open:        open,
		slots:       make(chan struct{}, max),
		idleTimeout: idleTimeout,
		logger:      logger,
		now:         time.Now,
		inUse:       make(map[string]PooledDriver),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if idleTimeout > 0 {
		go p.janitor()
	} else {
		close(p.done)
	}
	return p
}

// Acquire checks out a session, reusing an idle one when available. It blocks
// while all slots are taken.
func (p *Pool) Acquire(ctx context.Context) (PooledDriver, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		d := p.idle[n-1].driver
		p.idle = p.idle[:n-1]
		p.inUse[d.ID()] = d
		p.mu.Unlock()
		return d, nil
	}
	p.mu.Unlock()

	d, err := p.open(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		<-p.slots
		p.closeAsync(d)
		return nil, ErrPoolClosed
	}
	p.inUse[d.ID()] = d
	return d, nil
}

// Release returns a session. Unhealthy sessions are closed instead of reused.
func (p *Pool) Release(d PooledDriver, healthy bool) {
	if d == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.inUse[d.ID()]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.inUse, d.ID())
	if healthy && !p.closed {
		p.idle = append(p.idle, idleSession{driver: d, since: p.now()})
	} else {
		p.closeAsync(d)
	}
	p.mu.Unlock()
	<-p.slots
}

// Stats reports idle and checked-out session counts.
func (p *Pool) Stats() (idle, inUse int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle), len(p.inUse)
}

// Close stops the janitor and closes idle sessions. Checked-out sessions are
// closed when released.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.stop)
	<-p.done

	var errs []error
	for _, s := range idle {
		if err := s.driver.Close(ctx); err != nil && !errors.Is(err, ErrSessionGone) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) janitor() {
	defer close(p.done)
	interval := p.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.reap()
		}
	}
}

// reap closes sessions idle for longer than idleTimeout.
func (p *Pool) reap() {
	cutoff := p.now().Add(-p.idleTimeout)

	p.mu.Lock()
	kept := p.idle[:0]
	var expired []PooledDriver
	for _, s := range p.idle {
		if s.since.Before(cutoff) {
			expired = append(expired, s.driver)
			continue
		}
		kept = append(kept, s)
	}
	p.idle = kept
	p.mu.Unlock()

	for _, d := range expired {
		p.logger.Debug("recycling idle browser session", "session_id", d.ID())
		p.closeAsync(d)
	}
}

func (p *Pool) closeAsync(d PooledDriver) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.Close(ctx); err != nil && !errors.Is(err, ErrSessionGone) {
			p.logger.Warn("failed to close browser session", "session_id", d.ID(), "error", err)
		}
	}()
}
