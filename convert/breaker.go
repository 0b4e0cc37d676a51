package convert

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the state of a Breaker.
type BreakerState string

const (
	// BreakerClosed passes requests through.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen fails requests immediately.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen lets a limited number of probes through.
	BreakerHalfOpen BreakerState = "half_open"
)

var (
	// ErrBreakerOpen is returned while the conversion service is considered down.
	ErrBreakerOpen = errors.New("conversion service circuit is open")
	// ErrTooManyProbes is returned when half-open probes are exhausted.
	ErrTooManyProbes = errors.New("too many probe requests")
	// ErrInvalidBreakerConfig is returned for a zero threshold or timeout.
	ErrInvalidBreakerConfig = errors.New("invalid circuit breaker configuration")
)

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// MaxFailures consecutive failures open the circuit.
	MaxFailures uint32 `mapstructure:"max_failures" validate:"min=1"`
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// MaxHalfOpenRequests is the number of concurrent probes.
	MaxHalfOpenRequests uint32 `mapstructure:"max_half_open_requests" validate:"min=1"`
}

func (c BreakerConfig) validate() error {
	switch {
	case c.MaxFailures == 0:
		return errors.New("MaxFailures must be greater than 0")
	case c.Timeout <= 0:
		return errors.New("Timeout must be greater than 0")
	case c.MaxHalfOpenRequests == 0:
		return errors.New("MaxHalfOpenRequests must be greater than 0")
	}
	return nil
}

// DefaultBreakerConfig returns the defaults used when none are configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// Breaker stops calling the conversion service after repeated failures.
type Breaker struct {
	mu           sync.Mutex
	config       BreakerConfig
	state        BreakerState
	failures     uint32
	lastFailure  time.Time
	halfOpenReqs uint32
	now          func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(config BreakerConfig) (*Breaker, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBreakerConfig, err)
	}
	return &Breaker{config: config, state: BreakerClosed, now: time.Now}, nil
}

// Allow reports whether a request may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) <= b.config.Timeout {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.halfOpenReqs = 1
		return nil
	case BreakerHalfOpen:
		if b.halfOpenReqs >= b.config.MaxHalfOpenRequests {
			return ErrTooManyProbes
		}
		b.halfOpenReqs++
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the circuit. It returns the old and new state.
func (b *Breaker) RecordSuccess() (oldState, newState BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState = b.state
	b.state = BreakerClosed
	b.failures = 0
	b.halfOpenReqs = 0
	return oldState, b.state
}

// RecordFailure counts a failure and opens the circuit at the threshold or
// on any failed probe.
func (b *Breaker) RecordFailure() (oldState, newState BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState = b.state
	b.lastFailure = b.now()
	b.failures++

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.config.MaxFailures {
			b.state = BreakerOpen
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.halfOpenReqs = 0
	}
	return oldState, b.state
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.halfOpenReqs = 0
}
