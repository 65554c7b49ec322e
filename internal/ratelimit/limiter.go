// Package ratelimit implements a token bucket whose capacity and refill
// period are learned from response headers, admitting requests in strict
// priority order.
//
// State is owned by a single goroutine (the "watcher") that receives
// admission requests and header updates over channels, avoiding a
// mutex-guarded bucket shared across goroutines.
package ratelimit

import (
	"container/heap"
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Limiter is the process-wide admission queue. Construct one per
// download-history run with New and Close it when the run finishes.
type Limiter struct {
	logger zerolog.Logger

	enqueueCh chan *ticket
	headerCh  chan HeaderUpdate
	closeCh   chan struct{}
	doneCh    chan struct{}

	seq uint64

	// initial state, applied once at New and thereafter only through
	// the watcher goroutine.
	initialCapacity int
	initialPeriod   time.Duration
}

// New starts the watcher goroutine and returns a ready Limiter.
// initialCapacity/initialPeriod are the bucket's values before any
// response has taught the limiter better.
func New(logger zerolog.Logger, initialCapacity int, initialPeriod time.Duration) *Limiter {
	l := &Limiter{
		logger:          logger,
		enqueueCh:       make(chan *ticket),
		headerCh:        make(chan HeaderUpdate),
		closeCh:         make(chan struct{}),
		doneCh:          make(chan struct{}),
		initialCapacity: initialCapacity,
		initialPeriod:   initialPeriod,
	}
	go l.run()
	return l
}

// Close stops the watcher goroutine. Any tickets still queued never admit;
// callers must not enqueue after Close.
func (l *Limiter) Close() {
	close(l.closeCh)
	<-l.doneCh
}

// Admit enqueues a ticket at the given priority and blocks until it is
// admitted or ctx is cancelled. Waiting for tokens is never itself an
// error; Admit returns an error only on caller cancellation or when the
// limiter has been closed before the ticket was enqueued.
func (l *Limiter) Admit(ctx context.Context, priority int64) error {
	t := &ticket{
		priority: priority,
		seq:      atomic.AddUint64(&l.seq, 1),
		admit:    make(chan struct{}),
	}

	select {
	case l.enqueueCh <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closeCh:
		return fmt.Errorf("ratelimit: limiter closed")
	}

	select {
	case <-t.admit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyHeaders feeds one response's headers to the watcher, which updates
// the learned policy, token count, and next refill time.
func (l *Limiter) ApplyHeaders(h http.Header) {
	u := ParseHeaders(h)
	if !u.Learned && !u.HasRemaining && !u.HasReset {
		return
	}
	select {
	case l.headerCh <- u:
	case <-l.closeCh:
	}
}

// run is the watcher: the sole owner of tokens/capacity/period/heap state.
func (l *Limiter) run() {
	defer close(l.doneCh)

	tokens := l.initialCapacity
	capacity := l.initialCapacity
	period := l.initialPeriod
	nextRefillAt := time.Now().Add(period)
	policyLearned := false

	pq := &ticketHeap{}
	heap.Init(pq)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	timerArmed := false

	armTimer := func() {
		if timerArmed && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		d := time.Until(nextRefillAt)
		if d < 0 {
			d = 0
		}
		timer.Reset(d)
		timerArmed = true
	}

	disarmTimer := func() {
		if timerArmed && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timerArmed = false
	}

	admitReady := func() {
		for tokens > 0 && pq.Len() > 0 {
			t := heap.Pop(pq).(*ticket)
			tokens--
			close(t.admit)
		}
		if tokens == 0 && pq.Len() > 0 {
			armTimer()
		} else {
			disarmTimer()
		}
	}

	refillIfDue := func() {
		now := time.Now()
		for !now.Before(nextRefillAt) {
			tokens = capacity
			nextRefillAt = nextRefillAt.Add(period)
		}
	}

	for {
		select {
		case t := <-l.enqueueCh:
			heap.Push(pq, t)
			admitReady()

		case u := <-l.headerCh:
			if u.Learned && !policyLearned {
				capacity = min(u.LimitN1, u.LimitN2)
				period = time.Duration(u.LimitWindowSecs) * time.Second
				policyLearned = true
				l.logger.Debug().Int("capacity", capacity).Dur("period", period).Msg("rate limit policy learned")
			}
			if u.HasReset {
				candidate := time.Now().Add(time.Duration(u.ResetSecs) * time.Second)
				if candidate.Before(nextRefillAt) {
					nextRefillAt = candidate
				}
			}
			if u.HasRemaining && tokens == 0 {
				tokens = u.Remaining
			}
			admitReady()

		case <-timer.C:
			timerArmed = false
			refillIfDue()
			admitReady()

		case <-l.closeCh:
			return
		}
	}
}
