package distribution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rfqflow/logging"
	"rfqflow/metrics"
	"rfqflow/queue"
)

// JobTracker remembers delivery executions and sweep re-enqueues.
type JobTracker interface {
	Seen(ctx context.Context, distributionID string) (bool, error)
	RecentlyRequeued(ctx context.Context, distributionID string) (bool, error)
	MarkRequeued(ctx context.Context, distributionID string, ttl time.Duration) error
}

type ReconcilerConfig struct {
	Interval  time.Duration
	Threshold time.Duration
	BatchSize int
}

// Reconciler re-enqueues distributions that stayed pending past the threshold
// without any worker picking them up, e.g. after a failed post-commit enqueue.
type Reconciler struct {
	repo     Repository
	enqueuer queue.Enqueuer
	tracker  JobTracker
	cfg      ReconcilerConfig
	logger   *logging.Logger
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewReconciler(repo Repository, enqueuer queue.Enqueuer, tracker JobTracker, cfg ReconcilerConfig, logger *logging.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reconciler{
		repo:     repo,
		enqueuer: enqueuer,
		tracker:  tracker,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Sweep runs one pass and returns how many jobs were re-enqueued.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	stale, err := r.repo.ListStalePending(ctx, r.now().Add(-r.cfg.Threshold), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	jobs := make([]queue.Job, 0, len(stale))
	for _, d := range stale {
		if r.tracked(ctx, d.ID) {
			continue
		}
		jobs = append(jobs, JobFor(d))
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	if err := r.enqueuer.EnqueueBulk(ctx, jobs); err != nil {
		return 0, fmt.Errorf("distribution: requeue stale: %w", err)
	}
	metrics.ReconcileRequeued.Add(float64(len(jobs)))

	if r.tracker != nil {
		for _, job := range jobs {
			if err := r.tracker.MarkRequeued(ctx, job.DistributionID, r.cfg.Threshold); err != nil {
				r.logger.WarnContext(ctx, "mark requeued", logging.DistributionID(job.DistributionID), logging.Error(err))
			}
		}
	}

	r.logger.InfoContext(ctx, "requeued stale distributions", "count", len(jobs))
	return len(jobs), nil
}

// tracked reports whether a worker already ran the job or the sweep recently
// requeued it. Tracker errors do not block a requeue; the worker is idempotent.
func (r *Reconciler) tracked(ctx context.Context, id string) bool {
	if r.tracker == nil {
		return false
	}
	seen, err := r.tracker.Seen(ctx, id)
	if err != nil {
		r.logger.WarnContext(ctx, "job tracker lookup", logging.DistributionID(id), logging.Error(err))
		return false
	}
	if seen {
		return true
	}
	recent, err := r.tracker.RecentlyRequeued(ctx, id)
	if err != nil {
		r.logger.WarnContext(ctx, "job tracker lookup", logging.DistributionID(id), logging.Error(err))
		return false
	}
	return recent
}

// Start runs Sweep every interval until Stop or ctx cancellation.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("distribution: reconciler already running")
	}
	r.running = true
	r.stopChan = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)
	return nil
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.ErrorContext(ctx, "reconciliation sweep failed", logging.Error(err))
			}
		}
	}
}
