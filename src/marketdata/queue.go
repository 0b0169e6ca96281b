package marketdata

import (
	"context"
	"errors"
	"sync"
	"time"

	"papertrader/src/metrics"
)

// rateLimited is implemented by errors that indicate the upstream
// rejected the request for pacing reasons and a retry may succeed.
type rateLimited interface {
	RateLimited() bool
}

// IsRateLimit reports whether err carries an upstream rate-limit signal.
func IsRateLimit(err error) bool {
	var rl rateLimited
	return errors.As(err, &rl) && rl.RateLimited()
}

// RetryPolicy controls how the queue handles rate-limited requests.
// Injected so tests can simulate rate-limit storms deterministically.
type RetryPolicy struct {
	// MaxRetries is the per-request retry budget. Once exhausted the
	// original error is propagated to the caller.
	MaxRetries int
	// Backoff returns how long the queue pauses before the given retry
	// attempt (1-based).
	Backoff func(attempt int) time.Duration
}

// DefaultRetryPolicy retries twice, backing off by double the minimum
// dispatch interval.
func DefaultRetryPolicy(minInterval time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		Backoff:    func(int) time.Duration { return 2 * minInterval },
	}
}

type outcome struct {
	data interface{}
	err  error
}

type queuedRequest struct {
	run      func() (interface{}, error)
	result   chan outcome
	attempts int
}

// Queue serializes upstream requests: submissions dispatch in FIFO order
// with a minimum interval between dispatches. A rate-limited request is
// re-queued at the FRONT (so it keeps its turn) and the queue backs off
// before continuing. Identical in-flight requests are not deduplicated;
// completion order is not guaranteed.
type Queue struct {
	mu           sync.Mutex
	pending      []*queuedRequest
	draining     bool
	lastDispatch time.Time

	minInterval time.Duration
	retry       RetryPolicy

	now   func() time.Time
	sleep func(time.Duration)
}

func NewQueue(minInterval time.Duration, retry RetryPolicy) *Queue {
	return &Queue{
		minInterval: minInterval,
		retry:       retry,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// Depth returns the number of requests waiting for dispatch.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Do submits a request and blocks until it completes, fails, or the
// caller's context ends. A context cancellation abandons the wait only;
// the request itself still runs to completion or retry exhaustion.
func (q *Queue) Do(ctx context.Context, run func() (interface{}, error)) (interface{}, error) {
	item := &queuedRequest{run: run, result: make(chan outcome, 1)}

	q.mu.Lock()
	q.pending = append(q.pending, item)
	metrics.SetQueueDepth(len(q.pending))
	if !q.draining {
		q.draining = true
		go q.drain()
	}
	q.mu.Unlock()

	select {
	case out := <-item.result:
		return out.data, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			metrics.SetQueueDepth(0)
			q.mu.Unlock()
			return
		}
		item := q.pending[0]
		q.pending = q.pending[1:]
		metrics.SetQueueDepth(len(q.pending))
		q.mu.Unlock()

		if wait := q.minInterval - q.now().Sub(q.lastDispatch); wait > 0 {
			q.sleep(wait)
		}
		q.lastDispatch = q.now()

		data, err := item.run()
		if err != nil && IsRateLimit(err) && item.attempts < q.retry.MaxRetries {
			item.attempts++
			metrics.IncRateLimitRetry()

			q.mu.Lock()
			q.pending = append([]*queuedRequest{item}, q.pending...)
			metrics.SetQueueDepth(len(q.pending))
			q.mu.Unlock()

			q.sleep(q.retry.Backoff(item.attempts))
			continue
		}

		item.result <- outcome{data: data, err: err}
	}
}
