package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/soaringjerry/Mindwell/internal/metrics"
)

const DefaultAutosaveDelay = 800 * time.Millisecond

// ErrCoalescerClosed is returned by Submit after Close.
var ErrCoalescerClosed = errors.New("autosave coalescer closed")

// WriteFunc performs one persisted write.
type WriteFunc func(ctx context.Context) error

type pendingWrite struct {
	timer *time.Timer
	write WriteFunc
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds or
// waits for it. The zero value is ready to use.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// Lock blocks until key is free and returns the matching unlock.
func (m *keyedMutex) Lock(key string) (unlock func()) {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = map[string]*keyLock{}
	}
	kl := m.locks[key]
	if kl == nil {
		kl = &keyLock{}
		m.locks[key] = kl
	}
	kl.refs++
	m.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		m.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// Coalescer debounces writes per key. Only the newest write submitted within
// the delay window runs; superseded writes are dropped. Writes for the same
// key never overlap, and a running write is never aborted.
type Coalescer struct {
	delay   time.Duration
	onError func(key string, err error)

	mu      sync.Mutex
	pending map[string]*pendingWrite
	keys    keyedMutex
	closed  bool
	fired   sync.WaitGroup
}

// NewCoalescer returns a coalescer that waits delay after the last Submit for
// a key. onError receives failures of timer-fired writes and may be nil.
func NewCoalescer(delay time.Duration, onError func(key string, err error)) *Coalescer {
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	return &Coalescer{
		delay:   delay,
		onError: onError,
		pending: map[string]*pendingWrite{},
	}
}

// Submit replaces any pending write for key and re-arms its timer.
func (c *Coalescer) Submit(key string, write WriteFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCoalescerClosed
	}
	if prev, ok := c.pending[key]; ok {
		prev.timer.Stop()
		metrics.AutosaveWrites.WithLabelValues("superseded").Inc()
	}
	p := &pendingWrite{write: write}
	p.timer = time.AfterFunc(c.delay, func() { c.fire(key, p) })
	c.pending[key] = p
	return nil
}

// Pending reports whether a write is waiting for key.
func (c *Coalescer) Pending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// Flush runs the pending write for key now and returns its error. It is a
// no-op when nothing is pending.
func (c *Coalescer) Flush(ctx context.Context, key string) error {
	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		p.timer.Stop()
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.run(ctx, key, p.write)
}

// Cancel drops the pending write for key. It reports whether one was dropped.
func (c *Coalescer) Cancel(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(c.pending, key)
	return true
}

// Close flushes every pending write, waits for timer-fired writes and rejects
// further submissions.
func (c *Coalescer) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	drained := c.pending
	c.pending = map[string]*pendingWrite{}
	for _, p := range drained {
		p.timer.Stop()
	}
	c.mu.Unlock()

	var errs []error
	for key, p := range drained {
		if err := c.run(ctx, key, p.write); err != nil {
			errs = append(errs, err)
		}
	}
	c.fired.Wait()
	return errors.Join(errs...)
}

func (c *Coalescer) fire(key string, p *pendingWrite) {
	c.mu.Lock()
	if c.pending[key] != p {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	c.fired.Add(1)
	c.mu.Unlock()
	defer c.fired.Done()

	if err := c.run(context.Background(), key, p.write); err != nil && c.onError != nil {
		c.onError(key, err)
	}
}

func (c *Coalescer) run(ctx context.Context, key string, write WriteFunc) error {
	unlock := c.keys.Lock(key)
	err := write(ctx)
	unlock()

	if err != nil {
		metrics.AutosaveWrites.WithLabelValues("failed").Inc()
	} else {
		metrics.AutosaveWrites.WithLabelValues("written").Inc()
	}
	return err
}
