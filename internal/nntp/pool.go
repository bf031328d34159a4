package nntp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sergeschumacher/hermes/internal/domain"
	"github.com/sergeschumacher/hermes/internal/infra/logger"
)

// DialFunc opens one connection to a provider. Swapped out in tests.
type DialFunc func(ctx context.Context, p domain.Provider, timeout time.Duration) (*Conn, error)

// Pool is a bounded set of connections to one provider. Connections are
// exclusively owned between Acquire and Release; callers that find the pool
// drained queue up and are served FIFO as connections come back.
//
// Invariant: live (available + checked out) never exceeds MaxConnection.
type Pool struct {
	provider       domain.Provider
	log            *logger.Logger
	dial           DialFunc
	cmdTimeout     time.Duration
	acquireTimeout time.Duration

	mu        sync.Mutex
	available []*Conn
	waiters   []chan *Conn
	live      int
	closed    bool
}

// PoolOptions carries the pool tunables from config.
type PoolOptions struct {
	CommandTimeout time.Duration
	AcquireTimeout time.Duration
	Dial           DialFunc
}

func NewPool(p domain.Provider, log *logger.Logger, opts PoolOptions) *Pool {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Second
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 30 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = Connect
	}

	return &Pool{
		provider:       p,
		log:            log,
		dial:           opts.Dial,
		cmdTimeout:     opts.CommandTimeout,
		acquireTimeout: opts.AcquireTimeout,
	}
}

// Provider returns the endpoint this pool serves.
func (p *Pool) Provider() domain.Provider { return p.provider }

// Init opens up to MaxConnection connections in parallel. Partial success is
// tolerated; a pool with zero usable connections is a hard failure.
func (p *Pool) Init(ctx context.Context) error {
	n := p.provider.MaxConnection

	var wg sync.WaitGroup
	conns := make([]*Conn, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			c, err := p.dial(ctx, p.provider, p.cmdTimeout)
			if err != nil {
				p.log.Warn("provider %s: connection %d failed to open: %v", p.provider.ID, slot+1, err)
				return
			}
			conns[slot] = c
		}(i)
	}
	wg.Wait()

	p.mu.Lock()
	for _, c := range conns {
		if c != nil {
			p.available = append(p.available, c)
			p.live++
		}
	}
	opened := p.live
	p.mu.Unlock()

	if opened == 0 {
		return ErrPoolInit
	}

	if opened < n {
		p.log.Warn("provider %s: pool opened %d/%d connections", p.provider.ID, opened, n)
	} else {
		p.log.Debug("provider %s: pool opened %d connections", p.provider.ID, opened)
	}

	return nil
}

// probeMessageID is deliberately unknown; a 430 proves the server is
// answering article commands, which is all the probe cares about.
const probeMessageID = "<hermes-probe@invalid>"

// Ping checks out a connection and runs a STAT against a throwaway
// message-id to verify the session can service article commands.
func (p *Pool) Ping(ctx context.Context) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(c)

	if _, err := c.Stat(probeMessageID); err != nil && !errors.Is(err, ErrArticleNotFound) {
		return err
	}
	return nil
}

// Acquire hands out an exclusive connection. Dead connections found in the
// available list are discarded on the spot; while the pool is under its cap
// a replacement dial is attempted before queueing. If nothing is available
// the caller waits FIFO for a Release, up to the acquire timeout.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	// Bounded loop, not recursion: drain dead connections off the top.
	for len(p.available) > 0 {
		n := len(p.available)
		c := p.available[n-1]
		p.available = p.available[:n-1]

		if c.Alive() {
			p.mu.Unlock()
			return c, nil
		}

		p.live--
		p.mu.Unlock()
		c.Quit()
		p.mu.Lock()
	}

	canDial := p.live < p.provider.MaxConnection
	if canDial {
		p.live++ // reserve the slot before dropping the lock
	}
	p.mu.Unlock()

	if canDial {
		c, err := p.dial(ctx, p.provider, p.cmdTimeout)
		if err == nil {
			return c, nil
		}
		p.log.Debug("provider %s: replacement dial failed: %v", p.provider.ID, err)
		p.mu.Lock()
		if !p.closed {
			p.live--
		}
		p.mu.Unlock()
	}

	return p.wait(ctx)
}

func (p *Pool) wait(ctx context.Context) (*Conn, error) {
	w := make(chan *Conn, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case c, ok := <-w:
		if !ok {
			return nil, ErrPoolClosed
		}
		return c, nil

	case <-timer.C:
		if p.removeWaiter(w) {
			return nil, ErrPoolTimeout
		}
		// A release or close popped us before the timer won; the handoff
		// is committed, so the channel must be received from or the
		// connection is stranded with live still counting it.
		c, ok := <-w
		if !ok {
			return nil, ErrPoolClosed
		}
		return c, nil

	case <-ctx.Done():
		if !p.removeWaiter(w) {
			if c, ok := <-w; ok {
				p.Release(c)
			}
		}
		return nil, ctx.Err()
	}
}

// removeWaiter takes w back off the queue. A false return means a release
// or close already popped it, committing a send or close on w that the
// caller must consume.
func (p *Pool) removeWaiter(w chan *Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Release returns a connection to the pool. Dead connections are discarded.
// A live connection goes straight to the oldest waiter if one is queued,
// bypassing the available list; otherwise it is parked as available.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}

	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		c.Quit()
		return
	}

	if !c.Alive() {
		p.live--
		// Waiters queued against a now-reduced pool would sit out the
		// full acquire timeout; dial them a replacement. The slot is
		// reserved before the lock drops.
		redial := len(p.waiters) > 0 && p.live < p.provider.MaxConnection
		if redial {
			p.live++
		}
		p.mu.Unlock()
		c.Quit()
		if redial {
			go p.redialForWaiter()
		}
		return
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		w <- c
		return
	}

	p.available = append(p.available, c)
	p.mu.Unlock()
}

// redialForWaiter replaces a dead connection that was released while
// callers were queued. On success the fresh connection goes through
// Release, which hands it to the oldest waiter; on failure the reserved
// slot is given back.
func (p *Pool) redialForWaiter() {
	ctx, cancel := context.WithTimeout(context.Background(), p.acquireTimeout)
	defer cancel()

	c, err := p.dial(ctx, p.provider, p.cmdTimeout)
	if err != nil {
		p.log.Debug("provider %s: replacement dial failed: %v", p.provider.ID, err)
		p.mu.Lock()
		if !p.closed {
			p.live--
		}
		p.mu.Unlock()
		return
	}
	p.Release(c)
}

// Close rejects every queued waiter with ErrPoolClosed, then disconnects all
// parked connections best-effort. Checked-out connections are cleaned up
// when their owners release them.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	waiters := p.waiters
	conns := p.available
	p.waiters = nil
	p.available = nil
	p.live = 0
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	for _, c := range conns {
		c.Quit()
	}
}

// Stats reports the pool's current occupancy, for diagnostics.
func (p *Pool) Stats() (available, live int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available), p.live
}
