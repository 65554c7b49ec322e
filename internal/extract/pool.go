package extract

import (
	"context"
	"fmt"
	"runtime"
)

// Job is one decompress-and-rewrite request submitted to a Pool.
type Job struct {
	ZIPBytes []byte
	UID      string
	ID       string
}

// Pool dispatches Extract calls onto a bounded set of goroutines so the
// CPU-bound rewrite runs off the I/O path, independent of however many
// fetchers are currently in flight.
type Pool struct {
	jobs chan poolRequest
	done chan struct{}
}

type poolRequest struct {
	job    Job
	result chan<- poolResult
}

type poolResult struct {
	csv []byte
	err error
}

// NewPool starts workers goroutines; workers<=0 defaults to
// runtime.NumCPU().
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	p := &Pool{
		jobs: make(chan poolRequest),
		done: make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	for {
		select {
		case req := <-p.jobs:
			csv, err := Extract(req.job.ZIPBytes, req.job.UID, req.job.ID)
			req.result <- poolResult{csv: csv, err: err}
		case <-p.done:
			return
		}
	}
}

// Submit dispatches a job and blocks until a worker has processed it or
// ctx is cancelled.
func (p *Pool) Submit(ctx context.Context, job Job) ([]byte, error) {
	result := make(chan poolResult, 1)

	select {
	case p.jobs <- poolRequest{job: job, result: result}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, fmt.Errorf("extract: pool closed")
	}

	select {
	case r := <-result:
		return r.csv, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the pool down; in-flight jobs already dispatched to a worker
// still complete, but no new Submit calls are accepted. p.jobs is never
// closed, only p.done — closing a channel that Submit's select might
// still be sending on would panic.
func (p *Pool) Close() {
	close(p.done)
}
