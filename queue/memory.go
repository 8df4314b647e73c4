package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rfqflow/logging"
)

type envelope struct {
	job     Job
	attempt int
}

// Memory is an in-process queue backed by a buffered channel and a fixed
// worker pool. Jobs do not survive a restart; the reconciliation sweep picks
// up whatever was lost.
type Memory struct {
	handler Handler
	policy  RetryPolicy
	workers int
	logger  *logging.Logger

	jobs chan envelope

	mu         sync.Mutex
	terminated []Job
	closed     bool
}

func NewMemory(handler Handler, workers, buffer int, policy RetryPolicy, logger *logging.Logger) *Memory {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 64
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Memory{
		handler: handler,
		policy:  policy,
		workers: workers,
		logger:  logger,
		jobs:    make(chan envelope, buffer),
	}
}

func (m *Memory) EnqueueBulk(ctx context.Context, jobs []Job) error {
	for i, job := range jobs {
		if err := m.push(ctx, envelope{job: job, attempt: 1}); err != nil {
			return fmt.Errorf("queue: enqueue %d of %d: %w", i+1, len(jobs), err)
		}
	}
	return nil
}

func (m *Memory) push(ctx context.Context, env envelope) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	select {
	case m.jobs <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes jobs until ctx is cancelled. Pending retries are dropped on shutdown.
func (m *Memory) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < m.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case env := <-m.jobs:
					m.handle(gctx, env)
				}
			}
		})
	}
	err := g.Wait()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return err
}

func (m *Memory) handle(ctx context.Context, env envelope) {
	err := m.handler.Process(WithAttempt(ctx, env.attempt), env.job)
	if err == nil {
		return
	}

	if m.policy.Exhausted(env.attempt) {
		m.logger.WarnContext(ctx, "job exhausted retries",
			logging.DistributionID(env.job.DistributionID),
			logging.Attempt(env.attempt),
			logging.Error(err))
		m.mu.Lock()
		m.terminated = append(m.terminated, env.job)
		m.mu.Unlock()
		return
	}

	delay := m.policy.Delay(env.attempt)
	m.logger.DebugContext(ctx, "job scheduled for retry",
		logging.DistributionID(env.job.DistributionID),
		logging.Attempt(env.attempt),
		"delay", delay.String(),
		logging.Error(err))

	next := envelope{job: env.job, attempt: env.attempt + 1}
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			if err := m.push(ctx, next); err != nil {
				m.logger.DebugContext(ctx, "retry dropped", logging.DistributionID(next.job.DistributionID), logging.Error(err))
			}
		case <-ctx.Done():
		}
	}()
}

// Terminated returns jobs that failed on their last allowed attempt.
func (m *Memory) Terminated() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Job(nil), m.terminated...)
}
