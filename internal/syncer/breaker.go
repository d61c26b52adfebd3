package syncer

import (
	"sync"
	"time"
)

// Breaker is a per-upstream circuit breaker shared by syncers that talk to
// the same flaky system. It is passed in explicitly so tests can inject a
// fresh instance per case.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	states    map[string]*breakerState

	now func() time.Time
}

type breakerState struct {
	failures int
	openedAt time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		states:    make(map[string]*breakerState),
		now:       time.Now,
	}
}

// Allow reports whether calls to the upstream may proceed. An open breaker
// closes again once the cooldown has elapsed (half-open: the next run probes).
func (b *Breaker) Allow(upstream string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[upstream]
	if !ok || st.failures < b.threshold {
		return true
	}
	if b.now().Sub(st.openedAt) >= b.cooldown {
		st.failures = b.threshold - 1
		return true
	}
	return false
}

// Success resets the upstream's failure count.
func (b *Breaker) Success(upstream string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, upstream)
}

// Failure records a failed call; the breaker opens at the threshold.
func (b *Breaker) Failure(upstream string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[upstream]
	if !ok {
		st = &breakerState{}
		b.states[upstream] = st
	}
	st.failures++
	if st.failures >= b.threshold {
		st.openedAt = b.now()
	}
}
