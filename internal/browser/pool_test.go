package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	Driver
	id     string
	closed atomic.Bool
}

func (s *stubSession) ID() string { return s.id }

func (s *stubSession) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

type stubOpener struct {
	mu       sync.Mutex
	sessions []*stubSession
	err      error
}

func (o *stubOpener) open(context.Context) (PooledDriver, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	s := &stubSession{id: fmt.Sprintf("s%d", len(o.sessions)+1)}
	o.sessions = append(o.sessions, s)
	return s, nil
}

func (o *stubOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

func TestPoolReusesReleasedSessions(t *testing.T) {
	op := &stubOpener{}
	p := NewPool(op.open, 2, 0, nil)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(a, true)

	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID())
	assert.Equal(t, 1, op.count())

	idle, inUse := p.Stats()
	assert.Equal(t, 0, idle)
	assert.Equal(t, 1, inUse)
}

func TestPoolNeverSharesASession(t *testing.T) {
	op := &stubOpener{}
	p := NewPool(op.open, 2, 0, nil)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan PooledDriver)
	go func() {
		d, _ := p.Acquire(ctx)
		done <- d
	}()
	p.Release(b, true)
	select {
	case d := <-done:
		assert.Equal(t, b.ID(), d.ID())
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestPoolDiscardsUnhealthySessions(t *testing.T) {
	op := &stubOpener{}
	p := NewPool(op.open, 1, 0, nil)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(a, false)
	assert.Eventually(t, func() bool { return a.(*stubSession).closed.Load() }, time.Second, 5*time.Millisecond)

	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestPoolDoubleReleaseIsIgnored(t *testing.T) {
	p := NewPool((&stubOpener{}).open, 1, 0, nil)
	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(a, true)
	p.Release(a, true)

	idle, inUse := p.Stats()
	assert.Equal(t, 1, idle)
	assert.Equal(t, 0, inUse)
}

func TestPoolReapsIdleSessions(t *testing.T) {
	op := &stubOpener{}
	p := NewPool(op.open, 2, time.Hour, nil)
	defer p.Close(context.Background())

	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	p.mu.Lock()
	p.now = func() time.Time { return now }
	p.mu.Unlock()

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(a, true)

	now = now.Add(2 * time.Hour)
	p.reap()

	idle, _ := p.Stats()
	assert.Equal(t, 0, idle)
	assert.Eventually(t, func() bool { return a.(*stubSession).closed.Load() }, time.Second, 5*time.Millisecond)
}

func TestPoolClose(t *testing.T) {
	op := &stubOpener{}
	p := NewPool(op.open, 2, time.Minute, nil)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(a, true)

	require.NoError(t, p.Close(ctx))
	assert.True(t, a.(*stubSession).closed.Load())

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)

	p.Release(b, true)
	assert.Eventually(t, func() bool { return b.(*stubSession).closed.Load() }, time.Second, 5*time.Millisecond)
}

func TestPoolOpenFailureFreesSlot(t *testing.T) {
	op := &stubOpener{err: errors.New("sidecar down")}
	p := NewPool(op.open, 1, 0, nil)
	_, err := p.Acquire(context.Background())
	require.Error(t, err)

	op.mu.Lock()
	op.err = nil
	op.mu.Unlock()
	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
}
