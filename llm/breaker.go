package llm

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker refuses requests. It is
// transient: once the open window passes, requests flow again.
var ErrCircuitOpen = errors.New("llm circuit breaker is open")

const (
	// defaultFailureThreshold opens the breaker after this many
	// consecutive failures.
	defaultFailureThreshold = 5

	// defaultOpenDuration is how long the breaker stays open.
	defaultOpenDuration = 5 * time.Minute
)

// CircuitBreaker tracks consecutive completion failures. After the
// threshold is hit the breaker opens for a fixed window; a success at any
// point resets the count.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	openedAt  time.Time
	threshold int
	openFor   time.Duration
	now       func() time.Time
}

// NewCircuitBreaker returns a breaker with the default thresholds.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		threshold: defaultFailureThreshold,
		openFor:   defaultOpenDuration,
		now:       time.Now,
	}
}

// Allow reports whether a request may proceed. While open it returns
// ErrCircuitOpen; after the open window elapses the breaker half-closes and
// lets the next request probe the endpoint.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.threshold {
		return nil
	}
	if b.now().Sub(b.openedAt) >= b.openFor {
		// Half-open: allow a probe without clearing the failure count;
		// a failure re-opens immediately, a success resets.
		return nil
	}
	return ErrCircuitOpen
}

// RecordSuccess closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// RecordFailure counts a failure, opening the breaker when the threshold
// is reached.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openedAt = b.now()
	}
}

// Open reports whether the breaker currently refuses requests.
func (b *CircuitBreaker) Open() bool {
	return b.Allow() != nil
}
