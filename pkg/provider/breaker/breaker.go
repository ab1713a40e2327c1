// Package breaker implements a per-instance circuit breaker: CLOSED,
// OPEN, and HALF_OPEN states with rolling-window failure accounting. No
// breaker library appears anywhere in the dependency pack this module
// draws on, so this is hand-rolled, in the shape of the state-machine
// idiom used elsewhere in this module (state, event-triggered
// transitions, hooks).
package breaker

import (
	"sync"
	"time"
)

// State is one of the breaker's three states.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// Config tunes the breaker. Zero value resolves to DefaultConfig.
type Config struct {
	FailureThreshold int           // failures within WindowSize to trip (default 5)
	WindowSize       int           // rolling window of recent calls (default 20)
	ConsecutiveTrip  int           // consecutive failures that trip regardless of window (default 5)
	OpenDuration     time.Duration // time OPEN blocks calls before probing (default 30s)
}

// DefaultConfig matches spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		WindowSize:       20,
		ConsecutiveTrip:  5,
		OpenDuration:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.WindowSize == 0 {
		c.WindowSize = 20
	}
	if c.ConsecutiveTrip == 0 {
		c.ConsecutiveTrip = 5
	}
	if c.OpenDuration == 0 {
		c.OpenDuration = 30 * time.Second
	}
	return c
}

// Breaker is a single provider instance's circuit state.
type Breaker struct {
	cfg Config

	mu             sync.Mutex
	state          State
	window         []bool // true = failure; at most WindowSize outcomes since the window was last cleared (a success in CLOSED clears it)
	consecutive    int
	openedAt       time.Time
	halfOpenInFlight bool
}

// New creates a breaker in the CLOSED state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), state: Closed}
}

// Allow reports whether a call may proceed right now, transitioning OPEN
// to HALF_OPEN if OpenDuration has elapsed and admitting exactly one probe
// at a time while HALF_OPEN.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.cfg.OpenDuration {
			b.state = HalfOpen
			b.halfOpenInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.state = Closed
		b.halfOpenInFlight = false
		b.window = nil
		b.consecutive = 0
	case Closed:
		// Successes in CLOSED reset the rolling window.
		b.consecutive = 0
		b.window = nil
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.trip()
	case Closed:
		b.consecutive++
		b.pushOutcome(true)
		if b.consecutive >= b.cfg.ConsecutiveTrip || b.failuresInWindow() >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.halfOpenInFlight = false
	b.window = nil
	b.consecutive = 0
}

func (b *Breaker) pushOutcome(failed bool) {
	b.window = append(b.window, failed)
	if len(b.window) > b.cfg.WindowSize {
		b.window = b.window[len(b.window)-b.cfg.WindowSize:]
	}
}

func (b *Breaker) failuresInWindow() int {
	n := 0
	for _, f := range b.window {
		if f {
			n++
		}
	}
	return n
}

// State returns the breaker's current state for observability.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry holds one Breaker per provider instance id.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry sharing cfg across instances.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns (creating if absent) the breaker for providerID.
func (r *Registry) For(providerID string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[providerID]
	if !ok {
		b = New(r.cfg)
		r.breakers[providerID] = b
	}
	return b
}

// Allows adapts Registry to provider.CircuitAllows.
func (r *Registry) Allows(providerID string) bool {
	return r.For(providerID).Allow()
}
