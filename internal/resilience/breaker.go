package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrBreakerOpen is returned when a call is rejected because the breaker
// is open.
var ErrBreakerOpen = eris.New("circuit breaker is open")

// Breaker is a circuit breaker for a single external service. After
// FailureThreshold consecutive failures it rejects calls for
// ResetTimeout, then lets one probe through; a successful probe closes
// it again.
type Breaker struct {
	failureThreshold int
	resetTimeout     time.Duration

	mu            sync.Mutex
	failures      int
	open          bool
	openedAt      time.Time
	onStateChange func(open bool)

	nowFunc func() time.Time
}

// NewBreaker creates a Breaker. Non-positive arguments select defaults
// of 5 failures and a 30s reset timeout.
func NewBreaker(failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		nowFunc:          time.Now,
	}
}

// OnStateChange registers a callback invoked when the breaker opens or
// closes. Must be called before the breaker is shared.
func (b *Breaker) OnStateChange(fn func(open bool)) {
	b.onStateChange = fn
}

// Allow reports whether a call may proceed. While open, Allow returns
// ErrBreakerOpen until the reset timeout elapses, after which one probe
// call is admitted.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	if b.nowFunc().Sub(b.openedAt) >= b.resetTimeout {
		// Probe window. Pushing openedAt forward rate-limits probes to
		// one per reset interval while the service stays down.
		b.openedAt = b.nowFunc()
		return nil
	}
	return ErrBreakerOpen
}

// Record feeds a call result into the breaker. Only errors for which
// trip is true count toward the threshold; a nil error closes the
// breaker and clears the failure count.
func (b *Breaker) Record(err error, trip bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !trip {
		b.failures = 0
		if b.open {
			b.open = false
			if b.onStateChange != nil {
				b.onStateChange(false)
			}
		}
		return
	}

	b.failures++
	if !b.open && b.failures >= b.failureThreshold {
		b.open = true
		b.openedAt = b.nowFunc()
		if b.onStateChange != nil {
			b.onStateChange(true)
		}
	} else if b.open {
		b.openedAt = b.nowFunc()
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && b.nowFunc().Sub(b.openedAt) < b.resetTimeout
}
