package gateway

import (
	"sync"
	"time"

	"paycore/internal/entity"
	"paycore/pkg/clock"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker tracks the gateway failure rate over a sliding window. Past the
// threshold it fails fast without touching the network, then lets a
// bounded number of probes through after the cooldown before closing.
type Breaker struct {
	mu sync.Mutex

	clock     clock.Clock
	window    time.Duration
	threshold float64
	minCalls  int
	cooldown  time.Duration
	maxProbes int

	state    breakerState
	outcomes []breakerOutcome
	openedAt time.Time
	probes   int
}

type breakerOutcome struct {
	at      time.Time
	failure bool
}

type BreakerConfig struct {
	Window    time.Duration
	Threshold float64
	MinCalls  int
	Cooldown  time.Duration
	MaxProbes int
}

func NewBreaker(cfg BreakerConfig, clk clock.Clock) *Breaker {
	return &Breaker{
		clock:     clk,
		window:    cfg.Window,
		threshold: cfg.Threshold,
		minCalls:  cfg.MinCalls,
		cooldown:  cfg.Cooldown,
		maxProbes: cfg.MaxProbes,
		state:     stateClosed,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// entity.ErrBreakerOpen until the cooldown elapses, then admits up to
// maxProbes calls in the half-open state.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return nil
	case stateOpen:
		if b.clock.Now().Sub(b.openedAt) < b.cooldown {
			return entity.ErrBreakerOpen
		}
		b.state = stateHalfOpen
		b.probes = 0
		fallthrough
	default: // half-open
		if b.probes >= b.maxProbes {
			return entity.ErrBreakerOpen
		}
		b.probes++
		return nil
	}
}

// Record feeds a call outcome back. Business declines count as successes:
// the provider answered, only the answer was no.
func (b *Breaker) Record(failure bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()

	switch b.state {
	case stateHalfOpen:
		if failure {
			b.state = stateOpen
			b.openedAt = now
			b.outcomes = b.outcomes[:0]
			return
		}
		if b.probes >= b.maxProbes {
			b.state = stateClosed
			b.outcomes = b.outcomes[:0]
		}
		return
	case stateOpen:
		return
	}

	b.outcomes = append(b.outcomes, breakerOutcome{at: now, failure: failure})
	b.prune(now)

	total, failures := 0, 0
	for _, o := range b.outcomes {
		total++
		if o.failure {
			failures++
		}
	}

	if total >= b.minCalls && float64(failures)/float64(total) >= b.threshold {
		b.state = stateOpen
		b.openedAt = now
		b.outcomes = b.outcomes[:0]
	}
}

func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.outcomes[:0]
	for _, o := range b.outcomes {
		if o.at.After(cutoff) {
			kept = append(kept, o)
		}
	}
	b.outcomes = kept
}
