package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"rfqflow/distribution"
	"rfqflow/logging"
	"rfqflow/metrics"
	"rfqflow/queue"
	"rfqflow/render"
	"rfqflow/transport"
	"rfqflow/trip"
)

const noTargetsReason = "no reachable delivery targets"

// outcomeTimeout bounds a status write made after the job context is gone.
const outcomeTimeout = 10 * time.Second

// DistributionStore is the slice of distribution.Service the worker writes through.
type DistributionStore interface {
	Get(ctx context.Context, id string) (distribution.Distribution, error)
	MarkDelivered(ctx context.Context, id string) (distribution.Distribution, error)
	MarkFailed(ctx context.Context, id, reason string) (distribution.Distribution, error)
}

type TargetResolver interface {
	ResolveTargets(ctx context.Context, agencyID, legacy string) ([]string, error)
}

// ExpiryStore reads the live expiry of a trip request.
type ExpiryStore interface {
	GetExpiry(ctx context.Context, id string) (*time.Time, error)
}

// ActionLinker builds the link buttons attached to a delivery.
type ActionLinker interface {
	Links(distributionID string, expiresAt *time.Time) ([]transport.Action, error)
}

// JobTracker records that a worker settled a job with a status write.
type JobTracker interface {
	RecordExecution(ctx context.Context, distributionID string) error
}

// Worker delivers one distribution per job to every target of its agency.
type Worker struct {
	store       DistributionStore
	resolver    TargetResolver
	trips       ExpiryStore
	renderer    render.Renderer
	sender      transport.Sender
	linker      ActionLinker
	tracker     JobTracker
	logger      *logging.Logger
	concurrency int
}

func NewWorker(store DistributionStore, resolver TargetResolver, trips ExpiryStore, renderer render.Renderer, sender transport.Sender, sendConcurrency int) *Worker {
	if sendConcurrency <= 0 {
		sendConcurrency = 1
	}
	return &Worker{
		store:       store,
		resolver:    resolver,
		trips:       trips,
		renderer:    renderer,
		sender:      sender,
		logger:      logging.Discard(),
		concurrency: sendConcurrency,
	}
}

func (w *Worker) WithLinker(linker ActionLinker) *Worker {
	w.linker = linker
	return w
}

func (w *Worker) WithTracker(tracker JobTracker) *Worker {
	w.tracker = tracker
	return w
}

func (w *Worker) WithLogger(logger *logging.Logger) *Worker {
	w.logger = logger
	return w
}

// Process implements queue.Handler. A nil return acknowledges the job; a
// *RetryableError asks the queue for another attempt.
func (w *Worker) Process(ctx context.Context, job queue.Job) (err error) {
	start := time.Now()
	ctx = logging.WithDistribution(logging.WithTripRequest(ctx, job.TripRequestID), job.DistributionID)

	defer func() {
		if r := recover(); r != nil {
			err = w.abort(ctx, job, fmt.Errorf("delivery: panic: %v", r))
		}
		metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	}()

	d, err := w.store.Get(ctx, job.DistributionID)
	if errors.Is(err, distribution.ErrNotFound) {
		w.logger.WarnContext(ctx, "distribution vanished; dropping job")
		w.outcome(metrics.OutcomeSkipped)
		return nil
	}
	if err != nil {
		w.outcome(metrics.OutcomeUnexpected)
		return retrySignal(ctx, err)
	}
	if d.Status.Reached() {
		w.logger.DebugContext(ctx, "already delivered; skipping", "status", string(d.Status))
		w.outcome(metrics.OutcomeSkipped)
		return nil
	}

	return w.deliver(ctx, job)
}

func (w *Worker) deliver(ctx context.Context, job queue.Job) error {
	targets, err := w.resolver.ResolveTargets(ctx, job.AgencyID, job.LegacyTarget)
	if err != nil {
		return w.abort(ctx, job, err)
	}
	if len(targets) == 0 {
		if err := w.markFailed(ctx, job, noTargetsReason); err != nil {
			return w.abort(ctx, job, err)
		}
		w.logger.WarnContext(ctx, noTargetsReason, logging.AgencyID(job.AgencyID))
		w.outcome(metrics.OutcomeNoTargets)
		return nil
	}

	expiresAt, err := w.trips.GetExpiry(ctx, job.TripRequestID)
	if errors.Is(err, trip.ErrNotFound) {
		expiresAt = nil
	} else if err != nil {
		return w.abort(ctx, job, err)
	}

	text, err := w.renderer.Render(job.Payload, expiresAt)
	if err != nil {
		return w.abort(ctx, job, err)
	}
	var buttons []transport.Action
	if w.linker != nil {
		if buttons, err = w.linker.Links(job.DistributionID, expiresAt); err != nil {
			return w.abort(ctx, job, err)
		}
	}

	errs := w.fanOut(ctx, targets, text, buttons)

	var firstErr, firstTransient error
	sent := 0
	for _, err := range errs {
		if err == nil {
			sent++
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
		if firstTransient == nil && (Classify(err) == Transient || interrupted(ctx, err)) {
			firstTransient = err
		}
	}

	if sent > 0 {
		if err := w.markDelivered(ctx, job); err != nil {
			return w.abort(ctx, job, err)
		}
		w.logger.InfoContext(ctx, "distribution delivered",
			logging.AgencyID(job.AgencyID), "targets", len(targets), "sent", sent)
		w.outcome(metrics.OutcomeDelivered)
		return nil
	}

	if err := w.markFailed(ctx, job, firstErr.Error()); err != nil {
		return w.abort(ctx, job, err)
	}
	if firstTransient != nil {
		w.logger.WarnContext(ctx, "delivery failed; will retry",
			logging.AgencyID(job.AgencyID), logging.Attempt(queue.AttemptFrom(ctx)), logging.Error(firstTransient))
		w.outcome(metrics.OutcomeFailedRetry)
		return &RetryableError{Err: firstTransient}
	}
	w.logger.WarnContext(ctx, "delivery failed permanently",
		logging.AgencyID(job.AgencyID), logging.Error(firstErr))
	w.outcome(metrics.OutcomeFailedFinal)
	return nil
}

// fanOut sends to every target and waits for all of them. The returned slice
// holds one error per target, nil for a successful send.
func (w *Worker) fanOut(ctx context.Context, targets []string, text string, buttons []transport.Action) []error {
	errs := make([]error, len(targets))

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			errs[i] = w.send(ctx, target, text, buttons)
			return nil
		})
	}
	g.Wait()
	return errs
}

func (w *Worker) send(ctx context.Context, target, text string, buttons []transport.Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery: send panic: %v", r)
		}
		result := metrics.SendResultOK
		if err != nil {
			result = metrics.SendResultPermanent
			if Classify(err) == Transient {
				result = metrics.SendResultTransient
			}
			w.logger.DebugContext(ctx, "target send failed", logging.Target(target), logging.Error(err))
		}
		metrics.TargetSends.WithLabelValues(result).Inc()
	}()

	return w.sender.Send(ctx, target, text, buttons)
}

// abort handles an unexpected error: the distribution is marked failed unless
// it already reached its agency, then the error is classified for the queue.
// When no outcome could be written the job is always retried.
func (w *Worker) abort(ctx context.Context, job queue.Job, cause error) error {
	w.logger.ErrorContext(ctx, "delivery aborted", logging.Error(cause))
	w.outcome(metrics.OutcomeUnexpected)

	readCtx, cancel := settleContext(ctx)
	d, err := w.store.Get(readCtx, job.DistributionID)
	cancel()
	switch {
	case err != nil:
		w.logger.ErrorContext(ctx, "re-read distribution after failure", logging.Error(err))
		return &RetryableError{Err: cause}
	case d.Status.Reached():
		return retrySignal(ctx, cause)
	}

	if err := w.markFailed(ctx, job, cause.Error()); err != nil {
		w.logger.ErrorContext(ctx, "mark failed after abort", logging.Error(err))
		return &RetryableError{Err: cause}
	}
	return retrySignal(ctx, cause)
}

// settleContext outlives the job context so a shutdown mid-job still records
// where the distribution ended up.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), outcomeTimeout)
}

func (w *Worker) markDelivered(ctx context.Context, job queue.Job) error {
	sctx, cancel := settleContext(ctx)
	defer cancel()
	if _, err := w.store.MarkDelivered(sctx, job.DistributionID); err != nil {
		return err
	}
	w.recordExecution(sctx, job.DistributionID)
	return nil
}

func (w *Worker) markFailed(ctx context.Context, job queue.Job, reason string) error {
	sctx, cancel := settleContext(ctx)
	defer cancel()
	if _, err := w.store.MarkFailed(sctx, job.DistributionID, reason); err != nil {
		return err
	}
	w.recordExecution(sctx, job.DistributionID)
	return nil
}

func (w *Worker) recordExecution(ctx context.Context, id string) {
	if w.tracker == nil {
		return
	}
	if err := w.tracker.RecordExecution(ctx, id); err != nil {
		w.logger.WarnContext(ctx, "record job execution", logging.Error(err))
	}
}

func (w *Worker) outcome(name string) {
	metrics.DeliveryOutcomes.WithLabelValues(name).Inc()
}

func retrySignal(ctx context.Context, err error) error {
	if Classify(err) == Transient || interrupted(ctx, err) {
		return &RetryableError{Err: err}
	}
	return nil
}

// interrupted reports whether err is the job's own context being cancelled,
// which happens on shutdown and must not settle the job.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}
