package biz

import (
	"sync"
	"time"

	"FuseGate/internal/model"
)

// WindowType selects how the sliding window bounds its history.
type WindowType string

const (
	// WindowCount keeps the most recent N outcomes, evicting the oldest
	// on overflow.
	WindowCount WindowType = "count"
	// WindowTime keeps outcomes younger than the configured age,
	// evicting stale entries lazily on access.
	WindowTime WindowType = "time"
)

// SlidingWindow tracks the outcomes of recent calls to one dependency and
// answers what fraction of them failed or were slow. All methods are safe
// for concurrent use; mutations of one window are serialized by its own
// mutex so unrelated dependencies never contend.
type SlidingWindow struct {
	mu sync.Mutex

	kind     WindowType
	capacity int
	maxAge   time.Duration
	minCalls int
	clock    Clock

	// Count-based windows use outcomes as a ring buffer of fixed
	// capacity; time-based windows use it as an append/trim queue.
	outcomes []model.CallOutcome
	head     int
	size     int

	failures int
	slow     int
}

// NewSlidingWindow creates a window of the given type. For count windows
// capacity is the maximum number of retained outcomes; for time windows
// maxAge is the maximum retained age. minCalls gates rate evaluation:
// below it the window reports rates as not yet meaningful.
func NewSlidingWindow(kind WindowType, capacity int, maxAge time.Duration, minCalls int, clock Clock) *SlidingWindow {
	w := &SlidingWindow{
		kind:     kind,
		capacity: capacity,
		maxAge:   maxAge,
		minCalls: minCalls,
		clock:    clock,
	}
	if kind == WindowCount {
		w.outcomes = make([]model.CallOutcome, capacity)
	}
	return w
}

// Record appends one outcome, evicting per the window policy.
// Fire-and-forget: it never fails.
func (w *SlidingWindow) Record(o model.CallOutcome) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.kind {
	case WindowCount:
		if w.size == w.capacity {
			w.drop(w.outcomes[w.head])
			w.outcomes[w.head] = o
			w.head = (w.head + 1) % w.capacity
		} else {
			w.outcomes[(w.head+w.size)%w.capacity] = o
			w.size++
		}
	default:
		w.evictStale()
		w.outcomes = append(w.outcomes, o)
		w.size++
	}

	if !o.Succeeded {
		w.failures++
	}
	if o.Slow {
		w.slow++
	}
}

// FailureRate returns the failure percentage over the window. ok is false
// while the window holds fewer than minCalls outcomes; the breaker treats
// that as insufficient data and stays closed.
func (w *SlidingWindow) FailureRate() (rate float64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictStale()
	if w.size < w.minCalls || w.size == 0 {
		return 0, false
	}
	return float64(w.failures) / float64(w.size) * 100, true
}

// SlowCallRate returns the slow-call percentage over the window, gated by
// minCalls like FailureRate.
func (w *SlidingWindow) SlowCallRate() (rate float64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictStale()
	if w.size < w.minCalls || w.size == 0 {
		return 0, false
	}
	return float64(w.slow) / float64(w.size) * 100, true
}

// rawSlowRate returns the slow-call percentage without the minCalls gate.
// The breaker uses it to judge half-open trial calls, where the sample is
// bounded by the permitted-call budget instead.
func (w *SlidingWindow) rawSlowRate() (rate float64, n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictStale()
	if w.size == 0 {
		return 0, 0
	}
	return float64(w.slow) / float64(w.size) * 100, w.size
}

// TotalCalls returns the number of outcomes currently in the window.
func (w *SlidingWindow) TotalCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictStale()
	return w.size
}

// Reset clears all recorded outcomes. Used on transition to CLOSED and on
// entry to HALF_OPEN so that each state judges a fresh sample.
func (w *SlidingWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.kind == WindowCount {
		w.head = 0
	} else {
		w.outcomes = w.outcomes[:0]
	}
	w.size = 0
	w.failures = 0
	w.slow = 0
}

// Prune evicts stale entries of a time window eagerly. Called from the
// maintenance cron so idle dependencies do not hold history forever.
func (w *SlidingWindow) Prune() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictStale()
}

// evictStale drops entries older than maxAge. Must be called with the
// lock held. No-op for count windows.
func (w *SlidingWindow) evictStale() {
	if w.kind != WindowTime {
		return
	}
	cutoff := w.clock.Now().Add(-w.maxAge)
	i := 0
	for ; i < len(w.outcomes); i++ {
		if w.outcomes[i].At.After(cutoff) || w.outcomes[i].At.Equal(cutoff) {
			break
		}
		w.drop(w.outcomes[i])
	}
	if i > 0 {
		w.outcomes = append(w.outcomes[:0], w.outcomes[i:]...)
		w.size = len(w.outcomes)
	}
}

// drop removes one outcome from the aggregate counters. Size bookkeeping
// stays with the caller: ring overwrites keep size constant, time-window
// eviction recomputes it.
func (w *SlidingWindow) drop(o model.CallOutcome) {
	if !o.Succeeded {
		w.failures--
	}
	if o.Slow {
		w.slow--
	}
}
