// Package circuitbreaker stops calls to an upstream that keeps failing.
// The judge and aggregator clients wrap every request in a breaker so a
// dead API sheds load instantly instead of burning retry budgets.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker's position.
type State int

const (
	// StateClosed passes requests through.
	StateClosed State = iota
	// StateOpen rejects requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a few probes through to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the breaker rejects requests.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe quota is spent.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Settings fixes when the breaker trips and how it recovers.
type Settings struct {
	// Name tags state-change notifications.
	Name string

	// FailureThreshold consecutive failures trip the breaker.
	FailureThreshold int

	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration

	// MaxProbes limits concurrent half-open requests.
	MaxProbes int

	// OnStateChange, if set, is told about every transition.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker tracks one upstream's health.
type CircuitBreaker struct {
	settings Settings

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time
	now       func() time.Time
}

// New builds a breaker from settings, normalizing unusable values.
func New(settings Settings) *CircuitBreaker {
	if settings.FailureThreshold < 1 {
		settings.FailureThreshold = 5
	}
	if settings.SuccessThreshold < 1 {
		settings.SuccessThreshold = 1
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.MaxProbes < 1 {
		settings.MaxProbes = 1
	}
	return &CircuitBreaker{
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
	}
}

// AggregatorBreaker protects the rating aggregator API. It trips fast
// and cools down long because the aggregator throttles unofficial
// clients aggressively.
func AggregatorBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:             "aggregator-api",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         time.Minute,
		MaxProbes:        1,
		OnStateChange:    onStateChange,
	})
}

// JudgeBreaker protects a judge submission API. Judges flake under
// contest load, so it tolerates more failures and recovers quickly.
func JudgeBreaker(name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
		MaxProbes:        2,
		OnStateChange:    onStateChange,
	})
}

// Execute runs fn if the breaker allows it and records the outcome.
// A rejected call returns ErrCircuitOpen or ErrTooManyRequests without
// touching fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

// State returns the breaker's current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.settings.Cooldown {
			cb.transition(StateHalfOpen)
			cb.probes = 1
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if cb.probes < cb.settings.MaxProbes {
			cb.probes++
			return nil
		}
		return ErrTooManyRequests

	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// A finished half-open call frees its probe slot.
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}

	if err != nil {
		cb.failures++
		cb.successes = 0
		cb.openedAt = cb.now()

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.settings.FailureThreshold {
				cb.transition(StateOpen)
			}
		case StateHalfOpen:
			// One failed probe reopens the breaker.
			cb.transition(StateOpen)
		}
		return
	}

	cb.successes++
	cb.failures = 0
	if cb.state == StateHalfOpen && cb.successes >= cb.settings.SuccessThreshold {
		cb.transition(StateClosed)
	}
}

// transition assumes cb.mu is held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0

	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}
