package circuitbreaker

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// State represents the state of the circuit breaker.
type State int

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

const (
	defaultFailureThreshold         = 5                // Number of failures to open the circuit
	defaultOpenStateTimeout         = 30 * time.Second // Time before transitioning from Open to HalfOpen
	defaultHalfOpenSuccessThreshold = 2                // Number of successful requests in HalfOpen to close circuit
)

// Settings tunes the breaker. Zero fields take the defaults.
type Settings struct {
	FailureThreshold         int           `mapstructure:"failure_threshold"`
	OpenTimeout              time.Duration `mapstructure:"open_timeout"`
	HalfOpenSuccessThreshold int           `mapstructure:"half_open_successes"`
}

// gatewayState holds the current state for a single gateway.
type gatewayState struct {
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int // Used in HalfOpen state
	lastFailureTime      time.Time
	openUntil            time.Time // When the circuit moves from Open to HalfOpen
}

// CircuitBreaker tracks gateway health and keeps failing gateways out of the attempt order
// for a cool-down period. It is keyed by gateway id.
type CircuitBreaker struct {
	mu                       sync.RWMutex
	gateways                 map[int64]*gatewayState
	failureThreshold         int
	openStateTimeout         time.Duration
	halfOpenSuccessThreshold int
	clock                    clockz.Clock
}

// NewCircuitBreaker creates a new CircuitBreaker with default settings.
func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithSettings(Settings{}, nil)
}

// NewCircuitBreakerWithSettings creates a CircuitBreaker with custom settings. A nil clock uses the real clock.
func NewCircuitBreakerWithSettings(s Settings, clock clockz.Clock) *CircuitBreaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = defaultFailureThreshold
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = defaultOpenStateTimeout
	}
	if s.HalfOpenSuccessThreshold <= 0 {
		s.HalfOpenSuccessThreshold = defaultHalfOpenSuccessThreshold
	}
	if clock == nil {
		clock = clockz.RealClock
	}
	return &CircuitBreaker{
		gateways:                 make(map[int64]*gatewayState),
		failureThreshold:         s.FailureThreshold,
		openStateTimeout:         s.OpenTimeout,
		halfOpenSuccessThreshold: s.HalfOpenSuccessThreshold,
		clock:                    clock,
	}
}

// getGatewayState assumes the write lock is held.
func (cb *CircuitBreaker) getGatewayState(gatewayID int64) *gatewayState {
	gs, exists := cb.gateways[gatewayID]
	if !exists {
		gs = &gatewayState{state: Closed}
		cb.gateways[gatewayID] = gs
	}
	return gs
}

// IsHealthy reports whether a call to the gateway is allowed. It may move Open to HalfOpen.
func (cb *CircuitBreaker) IsHealthy(gatewayID int64) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	gs := cb.getGatewayState(gatewayID)

	switch gs.state {
	case Closed:
		return true
	case Open:
		if !cb.clock.Now().Before(gs.openUntil) {
			gs.state = HalfOpen
			gs.consecutiveSuccesses = 0
			return true
		}
		return false
	case HalfOpen:
		return true
	default:
		gs.state = Closed
		return true
	}
}

// RecordFailure records a failure for the gateway.
func (cb *CircuitBreaker) RecordFailure(gatewayID int64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	gs := cb.getGatewayState(gatewayID)
	now := cb.clock.Now()
	gs.lastFailureTime = now

	switch gs.state {
	case Closed:
		gs.consecutiveFailures++
		if gs.consecutiveFailures >= cb.failureThreshold {
			gs.state = Open
			gs.openUntil = now.Add(cb.openStateTimeout)
		}
	case HalfOpen:
		// A failed probe re-opens immediately.
		gs.state = Open
		gs.openUntil = now.Add(cb.openStateTimeout)
		gs.consecutiveFailures = 0
		gs.consecutiveSuccesses = 0
	case Open:
		return
	}
}

// RecordSuccess records a success for the gateway.
func (cb *CircuitBreaker) RecordSuccess(gatewayID int64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	gs := cb.getGatewayState(gatewayID)

	switch gs.state {
	case Closed:
		gs.consecutiveFailures = 0
	case HalfOpen:
		gs.consecutiveSuccesses++
		if gs.consecutiveSuccesses >= cb.halfOpenSuccessThreshold {
			gs.state = Closed
			gs.consecutiveFailures = 0
			gs.consecutiveSuccesses = 0
		}
	case Open:
		return
	}
}

// GetState returns the current state without transitioning Open to HalfOpen.
func (cb *CircuitBreaker) GetState(gatewayID int64) State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	gs, exists := cb.gateways[gatewayID]
	if !exists {
		return Closed
	}
	return gs.state
}

// Reset forgets the gateway's history, e.g. after its credentials were replaced.
func (cb *CircuitBreaker) Reset(gatewayID int64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.gateways, gatewayID)
}

// Snapshot returns the state of every gateway seen so far.
func (cb *CircuitBreaker) Snapshot() map[int64]State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	out := make(map[int64]State, len(cb.gateways))
	for id, gs := range cb.gateways {
		out[id] = gs.state
	}
	return out
}
