package resilient

import (
	"sync"
	"time"

	"github.com/tech-arch1tect/tokenauth/internal/clock"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type BreakerSettings struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

// Snapshot is a read-only copy of the breaker counters.
type Snapshot struct {
	State           State
	FailureCount    int
	TotalCalls      int64
	TotalFailures   int64
	RejectedCalls   int64
	LastFailureTime time.Time
}

// Breaker guards calls to a single dependency.
//
// Every admitted call is tagged with the generation it was admitted in. A
// result reported against an older generation only updates the totals, so a
// slow call admitted while closed cannot close a circuit that has since
// opened.
type Breaker struct {
	mu       sync.Mutex
	settings BreakerSettings
	clock    clock.Clock

	state        State
	generation   uint64
	failureCount int
	probes       int

	totalCalls    int64
	totalFailures int64
	rejected      int64
	lastFailure   time.Time

	onStateChange func(from, to State)
}

func NewBreaker(settings BreakerSettings, c clock.Clock) *Breaker {
	if settings.FailureThreshold < 1 {
		settings.FailureThreshold = 1
	}
	if settings.HalfOpenMaxCalls < 1 {
		settings.HalfOpenMaxCalls = 1
	}
	return &Breaker{
		settings: settings,
		clock:    clock.OrReal(c),
		state:    StateClosed,
	}
}

// OnStateChange registers fn to be called after every transition. fn runs
// with the breaker lock held and must not call back into the breaker.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Allow reports whether a call may go to the dependency. When it returns
// true the caller must report the outcome with Success, Failure or Release
// using the returned generation.
func (b *Breaker) Allow() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++

	if b.state == StateOpen {
		if b.clock.Now().Sub(b.lastFailure) < b.settings.RecoveryTimeout {
			b.rejected++
			return b.generation, false
		}
		b.transition(StateHalfOpen)
	}

	if b.state == StateHalfOpen {
		if b.probes >= b.settings.HalfOpenMaxCalls {
			b.rejected++
			return b.generation, false
		}
		b.probes++
	}

	return b.generation, true
}

func (b *Breaker) Success(generation uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if generation != b.generation {
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.transition(StateClosed)
	case StateClosed:
		b.failureCount = 0
	}
}

func (b *Breaker) Failure(generation uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	if generation != b.generation {
		return
	}

	b.lastFailure = b.clock.Now()
	b.failureCount++

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		if b.failureCount >= b.settings.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// Release gives back an admitted call without counting it either way, for
// calls abandoned by their caller before the dependency answered.
func (b *Breaker) Release(generation uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if generation == b.generation && b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		State:           b.state,
		FailureCount:    b.failureCount,
		TotalCalls:      b.totalCalls,
		TotalFailures:   b.totalFailures,
		RejectedCalls:   b.rejected,
		LastFailureTime: b.lastFailure,
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}

	b.state = to
	b.generation++
	b.probes = 0
	if to == StateClosed {
		b.failureCount = 0
	}

	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
