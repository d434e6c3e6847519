// Package breaker implements the per-upstream circuit breaker: a
// three-state machine (Closed/Open/HalfOpen) whose state transitions
// are driven by time on read.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the circuit breaker's state. Its integer encoding is part
// of the contract because it is stored in an atomic.Uint32.
type State uint8

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config parameterizes a Breaker.
type Config struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	Timeout          time.Duration
	WindowSize       time.Duration
}

// DefaultConfig matches the original prototype's defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		WindowSize:       60 * time.Second,
	}
}

// Breaker is a single upstream's circuit breaker. Safe for concurrent use.
type Breaker struct {
	Name string
	cfg  Config

	state         atomic.Uint32
	failureCount  atomic.Uint64
	successCount  atomic.Uint64

	mu              sync.Mutex
	lastFailureTime time.Time
	openedAt        time.Time
}

// New constructs a Breaker, starting Closed.
func New(name string, cfg Config) *Breaker {
	return &Breaker{Name: name, cfg: cfg}
}

// State returns the current state, promoting Open to HalfOpen in place
// if the configured timeout has elapsed since opening: reading the
// state while Open past the timeout silently promotes it to HalfOpen.
func (b *Breaker) State() State {
	s := State(b.state.Load())
	if s != Open {
		return s
	}

	b.mu.Lock()
	opened := b.openedAt
	b.mu.Unlock()
	if opened.IsZero() {
		return s
	}
	if time.Since(opened) >= b.cfg.Timeout {
		b.state.CompareAndSwap(uint32(Open), uint32(HalfOpen))
		return HalfOpen
	}
	return s
}

// AllowRequest reports whether a request should be let through.
func (b *Breaker) AllowRequest() bool {
	switch b.State() {
	case Closed, HalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	switch b.State() {
	case Closed:
		b.failureCount.Store(0)
	case HalfOpen:
		n := b.successCount.Add(1)
		if n >= uint64(b.cfg.SuccessThreshold) {
			b.state.Store(uint32(Closed))
			b.failureCount.Store(0)
			b.successCount.Store(0)
			b.mu.Lock()
			b.openedAt = time.Time{}
			b.mu.Unlock()
		}
	case Open:
		// shouldn't happen if AllowRequest is honored; no-op.
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	now := time.Now()
	switch b.State() {
	case Closed:
		if b.cfg.WindowSize > 0 {
			b.mu.Lock()
			last := b.lastFailureTime
			b.mu.Unlock()
			if !last.IsZero() && now.Sub(last) > b.cfg.WindowSize {
				b.failureCount.Store(0)
			}
		}
		b.mu.Lock()
		b.lastFailureTime = now
		b.mu.Unlock()

		n := b.failureCount.Add(1)
		if n >= uint64(b.cfg.FailureThreshold) {
			b.state.Store(uint32(Open))
			b.mu.Lock()
			b.openedAt = now
			b.mu.Unlock()
		}
	case HalfOpen:
		b.state.Store(uint32(Open))
		b.successCount.Store(0)
		b.mu.Lock()
		b.openedAt = now
		b.mu.Unlock()
	case Open:
		b.mu.Lock()
		b.openedAt = now
		b.mu.Unlock()
	}
}

// Reset forces the breaker back to Closed with zeroed counters.
func (b *Breaker) Reset() {
	b.state.Store(uint32(Closed))
	b.failureCount.Store(0)
	b.successCount.Store(0)
	b.mu.Lock()
	b.openedAt = time.Time{}
	b.lastFailureTime = time.Time{}
	b.mu.Unlock()
}

// Stats is a snapshot used by the admin/metrics surfaces.
type Stats struct {
	Name          string
	State         State
	FailureCount  uint64
	SuccessCount  uint64
}

// Snapshot returns the current stats.
func (b *Breaker) Snapshot() Stats {
	return Stats{
		Name:         b.Name,
		State:        b.State(),
		FailureCount: b.failureCount.Load(),
		SuccessCount: b.successCount.Load(),
	}
}
