package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("circuit breaker is half-open and busy")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker
type Settings struct {
	// Failures is the number of consecutive failures that opens the breaker
	Failures uint32
	// OpenTimeout is how long the breaker stays open before admitting a trial call
	OpenTimeout time.Duration
	// Trials is the number of concurrent calls admitted while half-open
	Trials uint32
	// OnStateChange is called, outside the lock, whenever the state changes
	OnStateChange func(name string, from, to State)
	// Now overrides the clock; used by tests
	Now func() time.Time
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name     string
	settings Settings

	mu         sync.Mutex
	state      State
	failures   uint32
	inFlight   uint32
	openedAt   time.Time
	generation uint64
}

// New creates a closed breaker
func New(name string, settings Settings) *Breaker {
	if settings.Failures == 0 {
		settings.Failures = 5
	}
	if settings.OpenTimeout == 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if settings.Trials == 0 {
		settings.Trials = 1
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	return &Breaker{name: name, settings: settings}
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	state, change := b.refresh()
	b.mu.Unlock()
	b.notify(change)
	return state
}

// Do runs fn unless the breaker rejects it. A rejected call returns ErrOpen
// or ErrTooManyRequests without running fn.
func (b *Breaker) Do(fn func() error) error {
	generation, err := b.before()
	if err != nil {
		return err
	}

	success := false
	defer func() {
		b.after(generation, success)
	}()

	err = fn()
	success = err == nil
	return err
}

type transition struct {
	from, to State
	changed  bool
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	state, change := b.refresh()
	var err error
	switch state {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		if b.inFlight >= b.settings.Trials {
			err = ErrTooManyRequests
		}
	}
	if err == nil {
		b.inFlight++
	}
	generation := b.generation
	b.mu.Unlock()

	b.notify(change)
	return generation, err
}

func (b *Breaker) after(generation uint64, success bool) {
	b.mu.Lock()
	if generation != b.generation {
		b.mu.Unlock()
		return
	}
	b.inFlight--

	var change transition
	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
		} else {
			b.failures++
			if b.failures >= b.settings.Failures {
				change = b.setState(StateOpen)
			}
		}
	case StateHalfOpen:
		if success {
			change = b.setState(StateClosed)
		} else {
			change = b.setState(StateOpen)
		}
	}
	b.mu.Unlock()

	b.notify(change)
}

// refresh moves an expired open breaker to half-open. Caller holds mu.
func (b *Breaker) refresh() (State, transition) {
	var change transition
	if b.state == StateOpen && !b.settings.Now().Before(b.openedAt.Add(b.settings.OpenTimeout)) {
		change = b.setState(StateHalfOpen)
	}
	return b.state, change
}

// setState switches state and starts a new generation. Caller holds mu.
func (b *Breaker) setState(to State) transition {
	from := b.state
	if from == to {
		return transition{}
	}
	b.state = to
	b.generation++
	b.failures = 0
	b.inFlight = 0
	if to == StateOpen {
		b.openedAt = b.settings.Now()
	}
	return transition{from: from, to: to, changed: true}
}

func (b *Breaker) notify(t transition) {
	if t.changed && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, t.from, t.to)
	}
}
