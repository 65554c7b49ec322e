// Package resilience wraps outbound calls that talk to services outside
// this process's control with a circuit breaker, so a flapping dependency
// fails fast instead of stalling a whole run.
package resilience

import (
	"time"

	"github.com/sony/gobreaker"
)

// NewBreaker builds a gobreaker.CircuitBreaker tuned for a request-response
// dependency: it opens after 5 consecutive failures and probes again after
// a 30s cooldown.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}
