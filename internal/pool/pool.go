// Package pool bounds concurrent use of expensive connections.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kailas-cloud/vecrank/internal/domain"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("pool closed")

var errPanicked = errors.New("panic while holding connection")

// Config bounds the pool.
type Config struct {
	Resource       string // name reported in ResourceExhaustedError
	Min            int
	Max            int
	AcquireTimeout time.Duration
	IdleTimeout    time.Duration // 0 keeps idle connections forever
	// Discard reports whether an error returned while holding a connection means the
	// connection is broken. Nil discards on any error.
	Discard func(error) bool
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Max      int    `json:"max"`
	Size     int    `json:"size"`
	InUse    int    `json:"in_use"`
	Idle     int    `json:"idle"`
	Waits    uint64 `json:"waits"`
	Timeouts uint64 `json:"timeouts"`
	Dropped  uint64 `json:"dropped"`
}

type idleConn[C any] struct {
	conn  C
	since time.Time
}

// Pool hands out at most Max connections. Size == InUse + Idle at all times.
type Pool[C any] struct {
	cfg     Config
	dial    func(ctx context.Context) (C, error)
	closeFn func(C)
	sem     *semaphore.Weighted
	now     func() time.Time

	mu       sync.Mutex
	idle     []idleConn[C]
	inUse    int
	waits    uint64
	timeouts uint64
	dropped  uint64
	closed   bool
}

// New creates a pool. dial opens a connection, closeFn closes one.
func New[C any](cfg Config, dial func(ctx context.Context) (C, error), closeFn func(C)) (*Pool[C], error) {
	if cfg.Max <= 0 {
		return nil, fmt.Errorf("pool max must be positive, got %d", cfg.Max)
	}
	if cfg.Min < 0 || cfg.Min > cfg.Max {
		return nil, fmt.Errorf("pool min must be in [0, %d], got %d", cfg.Max, cfg.Min)
	}
	if cfg.AcquireTimeout <= 0 {
		return nil, errors.New("pool acquire timeout must be positive")
	}
	if cfg.Resource == "" {
		cfg.Resource = "connections"
	}
	return &Pool[C]{
		cfg:     cfg,
		dial:    dial,
		closeFn: closeFn,
		sem:     semaphore.NewWeighted(int64(cfg.Max)),
		now:     time.Now,
	}, nil
}

// Warm opens Min idle connections.
func (p *Pool[C]) Warm(ctx context.Context) error {
	for i := 0; i < p.cfg.Min; i++ {
		c, err := p.dial(ctx)
		if err != nil {
			return fmt.Errorf("warm pool: %w", err)
		}
		p.mu.Lock()
		p.idle = append(p.idle, idleConn[C]{conn: c, since: p.now()})
		p.mu.Unlock()
	}
	return nil
}

// Acquire blocks until a connection is free, the acquire timeout elapses or ctx is done.
// The timeout yields *domain.ResourceExhaustedError; caller cancellation yields ctx.Err().
func (p *Pool[C]) Acquire(ctx context.Context) (C, error) {
	var zero C

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrClosed
	}
	p.mu.Unlock()

	start := p.now()
	if !p.sem.TryAcquire(1) {
		p.mu.Lock()
		p.waits++
		p.mu.Unlock()

		wctx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		err := p.sem.Acquire(wctx, 1)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			p.mu.Lock()
			p.timeouts++
			p.mu.Unlock()
			return zero, &domain.ResourceExhaustedError{Resource: p.cfg.Resource, Waited: p.now().Sub(start)}
		}
	}

	if c, ok := p.popIdle(); ok {
		return c, nil
	}

	c, err := p.dial(ctx)
	if err != nil {
		p.sem.Release(1)
		return zero, fmt.Errorf("dial: %w", err)
	}
	p.mu.Lock()
	p.inUse++
	p.mu.Unlock()
	return c, nil
}

// popIdle takes the most recently used idle connection, closing expired ones on the way.
func (p *Pool[C]) popIdle() (C, bool) {
	var zero C
	var expired []C

	p.mu.Lock()
	now := p.now()
	for len(p.idle) > 0 {
		last := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.cfg.IdleTimeout > 0 && now.Sub(last.since) >= p.cfg.IdleTimeout {
			expired = append(expired, last.conn)
			p.dropped++
			continue
		}
		p.inUse++
		p.mu.Unlock()
		p.closeAll(expired)
		return last.conn, true
	}
	p.mu.Unlock()
	p.closeAll(expired)
	return zero, false
}

// Release returns a connection. A non-nil err that Discard classifies as broken closes it instead.
func (p *Pool[C]) Release(c C, err error) {
	broken := err != nil
	if broken && p.cfg.Discard != nil {
		broken = p.cfg.Discard(err)
	}

	p.mu.Lock()
	p.inUse--
	keep := !broken && !p.closed
	if keep {
		p.idle = append(p.idle, idleConn[C]{conn: c, since: p.now()})
	} else {
		p.dropped++
	}
	p.mu.Unlock()

	if !keep {
		p.closeFn(c)
	}
	p.sem.Release(1)
}

// With runs fn with an acquired connection and releases it on every exit path, panics included.
func (p *Pool[C]) With(ctx context.Context, fn func(C) error) (err error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	released := false
	defer func() {
		if r := recover(); r != nil {
			if !released {
				p.Release(c, errPanicked)
			}
			panic(r)
		}
	}()
	err = fn(c)
	released = true
	p.Release(c, err)
	return err
}

// Stats returns a snapshot.
func (p *Pool[C]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Max:      p.cfg.Max,
		Size:     p.inUse + len(p.idle),
		InUse:    p.inUse,
		Idle:     len(p.idle),
		Waits:    p.waits,
		Timeouts: p.timeouts,
		Dropped:  p.dropped,
	}
}

// Close closes idle connections; in-use ones are closed when released.
func (p *Pool[C]) Close() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, ic := range idle {
		p.closeFn(ic.conn)
	}
}

func (p *Pool[C]) closeAll(cs []C) {
	for _, c := range cs {
		p.closeFn(c)
	}
}
