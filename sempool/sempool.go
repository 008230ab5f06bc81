// Package sempool provides keyed semaphores. A pool with capacity 1 serializes all writers
// of a key while leaving other keys independent.
package sempool

import (
	"context"
	"sync"
)

// NewSemaphore returns a semaphore with capacity slots.
func NewSemaphore(capacity int) *Semaphore {
	return &Semaphore{inner: make(chan struct{}, capacity)}
}

// Semaphore is a counting semaphore.
type Semaphore struct {
	inner chan struct{}
}

// Acquire blocks until a slot is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.inner <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot if one is available without blocking.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.inner <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot.
func (s *Semaphore) Release() {
	select {
	case <-s.inner:
	default:
		panic("thread semaphore inconsistency: release before acquire!")
	}
}

// SemaphoreKey identifies the resource a semaphore guards.
type SemaphoreKey interface {
	Key() string
}

// StringKey is a SemaphoreKey for plain strings.
type StringKey string

// Key implements SemaphoreKey.
func (k StringKey) Key() string {
	return string(k)
}

// NewSemaphorePool returns a pool that lazily creates one semaphore of semaCap slots per key.
func NewSemaphorePool(semaCap int) *SemaphorePool {
	return &SemaphorePool{ss: make(map[string]*Semaphore), semaCap: semaCap}
}

// SemaphorePool hands out one semaphore per key.
type SemaphorePool struct {
	ss      map[string]*Semaphore
	semaCap int
	mu      sync.Mutex
}

// Get returns the semaphore for k, creating it on first use.
func (p *SemaphorePool) Get(k SemaphoreKey) *Semaphore {
	var (
		s     *Semaphore
		exist bool
		key   = k.Key()
	)

	p.mu.Lock()
	if s, exist = p.ss[key]; !exist {
		s = NewSemaphore(p.semaCap)
		p.ss[key] = s
	}
	p.mu.Unlock()

	return s
}

// Do runs f while holding a slot of the semaphore for k. It returns the context error if
// no slot becomes available before ctx is done.
func (p *SemaphorePool) Do(ctx context.Context, k SemaphoreKey, f func() error) error {
	s := p.Get(k)
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return f()
}

// Stop blocks until every known semaphore is held, so no new work can start.
func (p *SemaphorePool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	// grab all semaphores and hold
	for _, s := range p.ss {
		_ = s.Acquire(context.Background())
	}
}
