// Package breaker implements a three-state circuit breaker with a sliding
// failure window and jittered exponential backoff.
//
// Unlike a consecutive-failure breaker, trips are decided by counting
// failures that fall inside a rolling time window: a burst of failures
// separated by long gaps never trips the breaker, but a true storm does.
package breaker

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// State is one of closed, open, half_open.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds tuning knobs for a [CircuitBreaker]. Zero-value fields are
// replaced with defaults in [New].
type Config struct {
	// Name is a human-readable label used in log messages and events.
	Name string

	// FailureThreshold is how many failures inside Window trip the breaker. Default 3.
	FailureThreshold int

	// Window is the sliding duration over which failures are counted. Default 60s.
	Window time.Duration

	// Cooldown is the initial open-state duration before probing. Default 5s.
	Cooldown time.Duration

	// MaxCooldown caps the backed-off cooldown. Default 120s.
	MaxCooldown time.Duration

	// BackoffMultiplier scales the cooldown on a failed probe. Default 2.
	BackoffMultiplier float64
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Second
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = 120 * time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2
	}
	return c
}

// Listener receives breaker lifecycle notifications. OnStateChange may be nil.
type Listener struct {
	// OnStateChange fires whenever the breaker transitions between states.
	OnStateChange func(from, to State)
}

// CircuitBreaker fast-fails calls once failures reach FailureThreshold
// inside Window, then probes for recovery after a jittered cooldown.
// Safe for concurrent use.
type CircuitBreaker struct {
	cfg Config
	lis Listener

	mu         sync.Mutex
	state      State
	failures   []time.Time
	cooldown   time.Duration
	probeOpen  bool
	cooldownAt time.Time
	timer      *time.Timer
}

// New creates a breaker in the closed state.
func New(cfg Config, lis Listener) *CircuitBreaker {
	cfg = cfg.withDefaults()
	return &CircuitBreaker{
		cfg:      cfg,
		lis:      lis,
		state:    StateClosed,
		cooldown: cfg.Cooldown,
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CanRequest reports whether a call may proceed. In half_open it returns
// true exactly once (the probe) until the probe resolves via RecordSuccess
// or RecordFailure.
func (cb *CircuitBreaker) CanRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probeOpen {
			return false
		}
		cb.probeOpen = true
		return true
	default: // StateOpen
		return false
	}
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateClosed:
		cb.failures = nil
	case StateHalfOpen:
		cb.cooldown = cb.cfg.Cooldown
		cb.failures = nil
		cb.probeOpen = false
		cb.setState(StateClosed)
		cb.stopTimerLocked()
	}
	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

// RecordFailure reports a failed call and trips or re-opens the breaker as needed.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	from := cb.state
	now := time.Now()

	switch cb.state {
	case StateClosed:
		cb.failures = append(cb.failures, now)
		cb.failures = pruneOlderThan(cb.failures, now, cb.cfg.Window)
		if len(cb.failures) >= cb.cfg.FailureThreshold {
			cb.failures = nil
			cb.setState(StateOpen)
			cb.scheduleCooldownLocked()
		}
	case StateHalfOpen:
		cb.probeOpen = false
		cb.cooldown = min(time.Duration(float64(cb.cooldown)*cb.cfg.BackoffMultiplier), cb.cfg.MaxCooldown)
		cb.setState(StateOpen)
		cb.scheduleCooldownLocked()
	}

	to := cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
}

// setState must be called with cb.mu held. It does not notify listeners;
// callers snapshot from/to and call notify after releasing the lock.
func (cb *CircuitBreaker) setState(s State) {
	cb.state = s
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from == to || cb.lis.OnStateChange == nil {
		return
	}
	cb.lis.OnStateChange(from, to)
}

// scheduleCooldownLocked starts the cooldown timer. Must be called with cb.mu held.
func (cb *CircuitBreaker) scheduleCooldownLocked() {
	cb.stopTimerLocked()
	jitter := 1 + (rand.Float64()*2-1)*0.15
	d := time.Duration(float64(cb.cooldown) * jitter)
	cb.cooldownAt = time.Now().Add(d)
	cb.timer = time.AfterFunc(d, cb.onCooldownExpired)
}

func (cb *CircuitBreaker) stopTimerLocked() {
	if cb.timer != nil {
		cb.timer.Stop()
		cb.timer = nil
	}
}

func (cb *CircuitBreaker) onCooldownExpired() {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen {
		cb.probeOpen = false
		cb.setState(StateHalfOpen)
	}
	to := cb.state
	cb.mu.Unlock()
	if from != to {
		slog.Info("breaker cooldown expired", "name", cb.cfg.Name, "state", to)
	}
	cb.notify(from, to)
}

// Stop releases the pending cooldown timer, if any. Call on teardown.
func (cb *CircuitBreaker) Stop() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.stopTimerLocked()
}

func pruneOlderThan(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}
