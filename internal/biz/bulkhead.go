package biz

import (
	"context"
	"sync/atomic"
	"time"
)

// BulkheadConfig bounds concurrent in-flight calls for one dependency.
type BulkheadConfig struct {
	MaxConcurrent int
	// MaxWait is how long Acquire may block waiting for a free slot.
	// Zero means immediate fail-fast.
	MaxWait time.Duration
}

// Bulkhead caps concurrent in-flight calls using a channel semaphore so a
// single slow dependency cannot exhaust shared resources.
type Bulkhead struct {
	name  string
	cfg   BulkheadConfig
	clock Clock

	sem      chan struct{}
	inFlight atomic.Int64
	misuse   atomic.Int64
}

// NewBulkhead creates a bulkhead with MaxConcurrent slots.
func NewBulkhead(name string, cfg BulkheadConfig, clock Clock) *Bulkhead {
	return &Bulkhead{
		name:  name,
		cfg:   cfg,
		clock: clock,
		sem:   make(chan struct{}, cfg.MaxConcurrent),
	}
}

// BulkheadToken is the proof of one admitted slot. Release must be called
// exactly once on every exit path of the guarded call; a second Release
// is a programming error and is counted as misuse instead of corrupting
// the semaphore.
type BulkheadToken struct {
	b        *Bulkhead
	released atomic.Bool
}

// Release frees the slot held by this token.
func (t *BulkheadToken) Release() {
	if !t.released.CompareAndSwap(false, true) {
		t.b.misuse.Add(1)
		return
	}
	// Decrement before freeing the slot so the counter never reads
	// above MaxConcurrent while a racing Acquire takes the slot over.
	t.b.inFlight.Add(-1)
	<-t.b.sem
}

// Acquire claims a slot, waiting up to MaxWait for one to free up. It
// returns *BulkheadFullError when the wait expires and the context error
// when the caller is cancelled first.
func (b *Bulkhead) Acquire(ctx context.Context) (*BulkheadToken, error) {
	select {
	case b.sem <- struct{}{}:
		b.inFlight.Add(1)
		return &BulkheadToken{b: b}, nil
	default:
	}

	if b.cfg.MaxWait <= 0 {
		return nil, &BulkheadFullError{Dependency: b.name, MaxConcurrent: b.cfg.MaxConcurrent}
	}

	select {
	case b.sem <- struct{}{}:
		b.inFlight.Add(1)
		return &BulkheadToken{b: b}, nil
	case <-b.clock.After(b.cfg.MaxWait):
		return nil, &BulkheadFullError{Dependency: b.name, MaxConcurrent: b.cfg.MaxConcurrent}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight returns the number of currently admitted calls.
func (b *Bulkhead) InFlight() int64 { return b.inFlight.Load() }

// Misuse returns the number of detected double releases.
func (b *Bulkhead) Misuse() int64 { return b.misuse.Load() }
