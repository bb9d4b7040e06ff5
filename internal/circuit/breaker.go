package circuit

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Placement halted
	StateHalfOpen BreakerState = "half_open" // Next attempt decides
)

// Config holds circuit breaker configuration
type Config struct {
	Enabled             bool `json:"enabled"`
	MaxConsecutiveFails int  `json:"max_consecutive_fails"` // placement failures in a row before tripping
	CooldownMinutes     int  `json:"cooldown_minutes"`
}

// DefaultConfig returns safe defaults
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		MaxConsecutiveFails: 3,
		CooldownMinutes:     30,
	}
}

// Stats is a snapshot of the breaker
type Stats struct {
	State            BreakerState `json:"state"`
	ConsecutiveFails int          `json:"consecutive_fails"`
	TripReason       string       `json:"trip_reason,omitempty"`
	LastTripTime     time.Time    `json:"last_trip_time,omitempty"`
	TotalTrips       int          `json:"total_trips"`
}

// CircuitBreaker halts order placement after repeated exchange failures
type CircuitBreaker struct {
	config           Config
	state            BreakerState
	consecutiveFails int
	totalTrips       int
	lastTripTime     time.Time
	tripReason       string
	mu               sync.Mutex
	onTrip           func(reason string)
	onReset          func()
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config Config) *CircuitBreaker {
	if config.MaxConsecutiveFails <= 0 {
		config.MaxConsecutiveFails = DefaultConfig().MaxConsecutiveFails
	}
	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// OnTrip sets callback for when breaker trips
func (cb *CircuitBreaker) OnTrip(handler func(reason string)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTrip = handler
}

// OnReset sets callback for when breaker closes again
func (cb *CircuitBreaker) OnReset(handler func()) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onReset = handler
}

// CanTrade checks if order placement is allowed
func (cb *CircuitBreaker) CanTrade() (bool, string) {
	if !cb.config.Enabled {
		return true, ""
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		elapsed := cb.now().Sub(cb.lastTripTime)
		cooldown := time.Duration(cb.config.CooldownMinutes) * time.Minute
		if elapsed < cooldown {
			remaining := cooldown - elapsed
			return false, fmt.Sprintf("circuit breaker open, cooldown remaining: %v (reason: %s)",
				remaining.Round(time.Second), cb.tripReason)
		}
		// Cooldown passed, let one attempt through
		cb.state = StateHalfOpen
	}
	return true, ""
}

// RecordSuccess closes the breaker and clears the failure streak
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.config.Enabled {
		return
	}
	cb.mu.Lock()
	recovered := cb.state == StateHalfOpen
	cb.consecutiveFails = 0
	cb.state = StateClosed
	onReset := cb.onReset
	cb.mu.Unlock()

	if recovered && onReset != nil {
		go onReset()
	}
}

// RecordFailure counts a placement failure and trips when the streak reaches the limit.
// A failure while half-open trips immediately.
func (cb *CircuitBreaker) RecordFailure(reason string) {
	if !cb.config.Enabled {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	if cb.state == StateHalfOpen || cb.consecutiveFails >= cb.config.MaxConsecutiveFails {
		cb.trip(fmt.Sprintf("%d consecutive failures, last: %s", cb.consecutiveFails, reason))
	}
}

// trip opens the circuit breaker
func (cb *CircuitBreaker) trip(reason string) {
	cb.state = StateOpen
	cb.lastTripTime = cb.now()
	cb.tripReason = reason
	cb.totalTrips++

	if cb.onTrip != nil {
		go cb.onTrip(reason)
	}
}

// ForceReset manually resets the circuit breaker
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	cb.state = StateClosed
	cb.consecutiveFails = 0
	cb.tripReason = ""
	onReset := cb.onReset
	cb.mu.Unlock()

	if onReset != nil {
		go onReset()
	}
}

// GetState returns current breaker state
func (cb *CircuitBreaker) GetState() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns current statistics
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:            cb.state,
		ConsecutiveFails: cb.consecutiveFails,
		TripReason:       cb.tripReason,
		LastTripTime:     cb.lastTripTime,
		TotalTrips:       cb.totalTrips,
	}
}

// IsEnabled returns if circuit breaker is enabled
func (cb *CircuitBreaker) IsEnabled() bool {
	return cb.config.Enabled
}
