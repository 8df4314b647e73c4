package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"rfqflow/payload"
)

var ErrClosed = errors.New("queue: closed")

// Job asks the delivery worker to deliver one distribution.
type Job struct {
	DistributionID string          `json:"distribution_id"`
	TripRequestID  string          `json:"trip_request_id"`
	AgencyID       string          `json:"agency_id"`
	LegacyTarget   string          `json:"legacy_target,omitempty"`
	Payload        payload.Payload `json:"payload"`
}

// Enqueuer accepts jobs for at-least-once delivery.
type Enqueuer interface {
	EnqueueBulk(ctx context.Context, jobs []Job) error
}

// Handler processes one job. A non-nil error asks the queue to retry it.
type Handler interface {
	Process(ctx context.Context, job Job) error
}

type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Process(ctx context.Context, job Job) error { return f(ctx, job) }

// RetryPolicy bounds redelivery of failed jobs. Attempts are 1-based.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Initial:     5 * time.Second,
		Max:         5 * time.Minute,
		Multiplier:  2,
		Jitter:      0.2,
	}
}

// Exhausted reports whether a job that just failed its attempt-th run
// must not be retried again.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// Delay returns how long to wait before running attempt+1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

type attemptKey struct{}

// WithAttempt records the 1-based delivery attempt on ctx.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// AttemptFrom returns the attempt stored by the queue, 1 when absent.
func AttemptFrom(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok && n > 0 {
		return n
	}
	return 1
}
