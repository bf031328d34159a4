package nntp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sergeschumacher/hermes/internal/domain"
	"github.com/sergeschumacher/hermes/internal/infra/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("", logger.LevelError, false)
	require.NoError(t, err)
	return log
}

// stubDial hands out authenticated connections backed by an in-memory pipe
// with a fake server on the far end, counting how many it opened.
type stubDial struct {
	count atomic.Int64
	fail  atomic.Bool
}

func (d *stubDial) dial(_ context.Context, p domain.Provider, timeout time.Duration) (*Conn, error) {
	if d.fail.Load() {
		return nil, errors.New("dial refused")
	}
	d.count.Add(1)

	client, server := net.Pipe()
	go newFakeServer().serve(server)

	c := NewConn(client, p, timeout)
	if err := c.Handshake(); err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

func newTestPool(t *testing.T, maxConns int, opts PoolOptions) (*Pool, *stubDial) {
	t.Helper()

	d := &stubDial{}
	opts.Dial = d.dial

	p := testProvider()
	p.MaxConnection = maxConns

	pool := NewPool(p, testLogger(t), opts)
	return pool, d
}

func TestPool_Init(t *testing.T) {
	pool, d := newTestPool(t, 4, PoolOptions{})
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	available, live := pool.Stats()
	assert.Equal(t, 4, available)
	assert.Equal(t, 4, live)
	assert.Equal(t, int64(4), d.count.Load())
}

func TestPool_InitAllFail(t *testing.T) {
	pool, d := newTestPool(t, 3, PoolOptions{})
	d.fail.Store(true)

	err := pool.Init(context.Background())
	require.ErrorIs(t, err, ErrPoolInit)
}

func TestPool_AcquireRelease(t *testing.T) {
	pool, _ := newTestPool(t, 2, PoolOptions{})
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	c, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c)

	available, live := pool.Stats()
	assert.Equal(t, 1, available)
	assert.Equal(t, 2, live)

	pool.Release(c)
	available, _ = pool.Stats()
	assert.Equal(t, 2, available)
}

func TestPool_NeverExceedsMax(t *testing.T) {
	const maxConns = 3
	const workers = 20

	pool, d := newTestPool(t, maxConns, PoolOptions{AcquireTimeout: 5 * time.Second})
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	var inUse, peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			c, err := pool.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}

			n := inUse.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inUse.Add(-1)

			pool.Release(c)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(maxConns))
	assert.Equal(t, int64(maxConns), d.count.Load(), "no connections opened beyond the cap")

	_, live := pool.Stats()
	assert.Equal(t, maxConns, live)
}

func TestPool_AcquireTimeout(t *testing.T) {
	pool, _ := newTestPool(t, 1, PoolOptions{AcquireTimeout: 50 * time.Millisecond})
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	c, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	_, err = pool.Acquire(context.Background())
	require.ErrorIs(t, err, ErrPoolTimeout)

	pool.Release(c)
}

func TestPool_WaitersServedFIFO(t *testing.T) {
	pool, _ := newTestPool(t, 1, PoolOptions{AcquireTimeout: 5 * time.Second})
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	order := make(chan int, 2)
	ready := make(chan struct{}, 2)

	waiter := func(id int) {
		ready <- struct{}{}
		c, err := pool.Acquire(context.Background())
		if err != nil {
			t.Errorf("waiter %d: %v", id, err)
			return
		}
		order <- id
		time.Sleep(10 * time.Millisecond)
		pool.Release(c)
	}

	go waiter(1)
	<-ready
	time.Sleep(20 * time.Millisecond) // waiter 1 is queued before waiter 2 starts
	go waiter(2)
	<-ready
	time.Sleep(20 * time.Millisecond)

	pool.Release(held)

	assert.Equal(t, 1, <-order)
	assert.Equal(t, 2, <-order)
}

func TestPool_ReleaseHandsDirectlyToWaiter(t *testing.T) {
	pool, _ := newTestPool(t, 1, PoolOptions{AcquireTimeout: 5 * time.Second})
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan *Conn, 1)
	go func() {
		c, err := pool.Acquire(context.Background())
		if err == nil {
			got <- c
		}
	}()

	// Wait for the acquirer to queue up, then hand the connection back.
	require.Eventually(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.waiters) == 1
	}, time.Second, 5*time.Millisecond)

	pool.Release(held)

	select {
	case c := <-got:
		assert.Same(t, held, c, "waiter receives the released connection itself")
		available, _ := pool.Stats()
		assert.Equal(t, 0, available, "handoff bypasses the available list")
		pool.Release(c)
	case <-time.After(time.Second):
		t.Fatal("waiter never received the connection")
	}
}

func TestPool_HandoffCommittedDuringTimeout(t *testing.T) {
	pool, _ := newTestPool(t, 1, PoolOptions{AcquireTimeout: 100 * time.Millisecond})
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	type result struct {
		c   *Conn
		err error
	}
	got := make(chan result, 1)
	go func() {
		c, err := pool.Acquire(context.Background())
		got <- result{c, err}
	}()

	require.Eventually(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.waiters) == 1
	}, time.Second, time.Millisecond)

	// Pop the waiter the way Release does, then stall past the acquire
	// timeout before sending. The waiter's timer wins the select, finds
	// itself already popped and must consume the committed handoff
	// instead of reporting a timeout and stranding the connection.
	pool.mu.Lock()
	w := pool.waiters[0]
	pool.waiters = pool.waiters[1:]
	pool.mu.Unlock()

	time.Sleep(250 * time.Millisecond)
	w <- held

	select {
	case r := <-got:
		require.NoError(t, r.err)
		assert.Same(t, held, r.c, "the in-flight handoff reaches the acquirer")
		pool.Release(r.c)
	case <-time.After(time.Second):
		t.Fatal("acquirer neither timed out nor received the connection")
	}

	_, live := pool.Stats()
	assert.Equal(t, 1, live, "no connection leaked out of the live count")
}

func TestPool_DeadReleaseRedialsForWaiter(t *testing.T) {
	pool, d := newTestPool(t, 1, PoolOptions{AcquireTimeout: 5 * time.Second})
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan *Conn, 1)
	go func() {
		c, err := pool.Acquire(context.Background())
		if err == nil {
			got <- c
		}
	}()

	require.Eventually(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.waiters) == 1
	}, time.Second, 5*time.Millisecond)

	// Releasing a dead connection while someone is queued dials a
	// replacement instead of leaving the waiter to run out the clock.
	held.dead = true
	pool.Release(held)

	select {
	case c := <-got:
		assert.True(t, c.Alive())
		assert.NotSame(t, held, c, "waiter gets a fresh connection, not the dead one")
		assert.Equal(t, int64(2), d.count.Load())
		pool.Release(c)
	case <-time.After(time.Second):
		t.Fatal("waiter starved after a dead connection was released")
	}

	_, live := pool.Stats()
	assert.Equal(t, 1, live)
}

func TestPool_DeadConnectionReplaced(t *testing.T) {
	pool, d := newTestPool(t, 1, PoolOptions{AcquireTimeout: 100 * time.Millisecond})
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	c, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	c.dead = true
	pool.Release(c)

	_, live := pool.Stats()
	assert.Equal(t, 0, live, "dead connection leaves the pool on release")

	// The next acquire dials a replacement under the cap.
	c2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, c2.Alive())
	assert.Equal(t, int64(2), d.count.Load())
	pool.Release(c2)
}

func TestPool_DeadConnectionDiscardedOnAcquire(t *testing.T) {
	pool, d := newTestPool(t, 2, PoolOptions{})
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	// Kill both parked connections behind the pool's back.
	pool.mu.Lock()
	for _, c := range pool.available {
		c.dead = true
	}
	pool.mu.Unlock()

	c, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, c.Alive(), "acquire never returns a dead connection")
	assert.Equal(t, int64(3), d.count.Load(), "both were discarded, one replacement dialed")
	pool.Release(c)
}

func TestPool_AcquireAfterClose(t *testing.T) {
	pool, _ := newTestPool(t, 1, PoolOptions{})
	require.NoError(t, pool.Init(context.Background()))
	pool.Close()

	_, err := pool.Acquire(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_CloseRejectsWaiters(t *testing.T) {
	pool, _ := newTestPool(t, 1, PoolOptions{AcquireTimeout: 5 * time.Second})
	require.NoError(t, pool.Init(context.Background()))

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background())
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.waiters) == 1
	}, time.Second, 5*time.Millisecond)

	pool.Close()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was not rejected on close")
	}

	// Releasing after close just disconnects.
	pool.Release(held)
}

func TestPool_AcquireContextCancelled(t *testing.T) {
	pool, _ := newTestPool(t, 1, PoolOptions{AcquireTimeout: 5 * time.Second})
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(ctx)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return len(pool.waiters) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled acquirer never returned")
	}
}
