package distribution

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"rfqflow/logging"
	"rfqflow/matching"
	"rfqflow/metrics"
	"rfqflow/payload"
	"rfqflow/queue"
	"rfqflow/trip"
)

const maxReasonLen = 500

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TripStore is the slice of the trip repository the coordinator needs.
type TripStore interface {
	GetByID(ctx context.Context, id string) (trip.Request, error)
	MarkDistributed(ctx context.Context, tx pgx.Tx, id string) error
}

type Matcher interface {
	Match(ctx context.Context, c matching.Criteria) ([]matching.Result, error)
}

// Service fans a trip request out to matched agencies and owns every status
// write on the resulting distributions.
type Service struct {
	pool        TxBeginner
	repo        Repository
	trips       TripStore
	matcher     Matcher
	enqueuer    queue.Enqueuer
	logger      *logging.Logger
	idGenerator func() string
}

func NewService(pool TxBeginner, repo Repository, trips TripStore, matcher Matcher, enqueuer queue.Enqueuer) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		trips:       trips,
		matcher:     matcher,
		enqueuer:    enqueuer,
		logger:      logging.Discard(),
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithLogger(logger *logging.Logger) *Service {
	s.logger = logger
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Distribute creates one pending distribution per matched agency, flips the
// request to distributed in the same transaction and enqueues delivery jobs.
// A request that already has distributions is left alone. If enqueueing fails
// the rows stay committed and the error is returned alongside the result.
func (s *Service) Distribute(ctx context.Context, tripRequestID string) (Result, error) {
	ctx = logging.WithTripRequest(ctx, tripRequestID)

	existing, err := s.repo.CountForRequest(ctx, tripRequestID)
	if err != nil {
		return Result{}, err
	}
	if existing > 0 {
		s.skip(ctx, SkipAlreadyDistributed)
		return emptyResult(SkipAlreadyDistributed), nil
	}

	req, err := s.trips.GetByID(ctx, tripRequestID)
	if err != nil {
		return Result{}, fmt.Errorf("distribution: load trip request: %w", err)
	}
	snapshot := payload.Build(req)

	criteria := matching.Criteria{
		Destination:   req.Destination,
		TripType:      req.TripType,
		Regions:       []string{},
		ExcludeTarget: req.SourceTarget,
	}
	if req.Destination != "" {
		criteria.Regions = []string{req.Destination}
	}
	matches, err := s.matcher.Match(ctx, criteria)
	if err != nil {
		return Result{}, fmt.Errorf("distribution: match agencies: %w", err)
	}
	if len(matches) == 0 {
		s.skip(ctx, SkipNoMatch)
		return emptyResult(SkipNoMatch), nil
	}

	rows := make([]Distribution, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, Distribution{
			ID:            s.idGenerator(),
			TripRequestID: tripRequestID,
			AgencyID:      m.AgencyID,
			Status:        StatusPending,
			Payload:       snapshot,
		})
	}

	created, err := s.createAll(ctx, tripRequestID, rows)
	if errors.Is(err, ErrDuplicate) {
		// A concurrent trigger won the race and owns the delivery.
		s.skip(ctx, SkipAlreadyDistributed)
		return emptyResult(SkipAlreadyDistributed), nil
	}
	if err != nil {
		return Result{}, err
	}
	metrics.DistributionsCreated.Add(float64(len(created)))

	result := Result{
		TotalMatched:    len(matches),
		DistributionIDs: make([]string, 0, len(created)),
		AgencyIDs:       make([]string, 0, len(created)),
	}
	jobs := make([]queue.Job, 0, len(created))
	for _, d := range created {
		result.DistributionIDs = append(result.DistributionIDs, d.ID)
		result.AgencyIDs = append(result.AgencyIDs, d.AgencyID)
		jobs = append(jobs, JobFor(d))
	}

	if err := s.enqueuer.EnqueueBulk(ctx, jobs); err != nil {
		s.logger.ErrorContext(ctx, "enqueue delivery jobs failed; reconciliation will retry",
			"jobs", len(jobs), logging.Error(err))
		return result, fmt.Errorf("distribution: enqueue jobs: %w", err)
	}

	s.logger.InfoContext(ctx, "trip request distributed", "agencies", len(created))
	return result, nil
}

func (s *Service) createAll(ctx context.Context, tripRequestID string, rows []Distribution) ([]Distribution, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("distribution: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.CreateBatch(ctx, tx, rows)
	if err != nil {
		return nil, err
	}
	if err := s.trips.MarkDistributed(ctx, tx, tripRequestID); err != nil {
		return nil, fmt.Errorf("distribution: mark trip distributed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("distribution: commit tx: %w", err)
	}
	return created, nil
}

func (s *Service) skip(ctx context.Context, reason string) {
	metrics.DistributeSkipped.WithLabelValues(reason).Inc()
	s.logger.DebugContext(ctx, "distribute skipped", "reason", reason)
}

// JobFor rebuilds the delivery job for a stored distribution.
func JobFor(d Distribution) queue.Job {
	job := queue.Job{
		DistributionID: d.ID,
		TripRequestID:  d.TripRequestID,
		AgencyID:       d.AgencyID,
		Payload:        d.Payload,
	}
	if d.LegacyTarget != nil {
		job.LegacyTarget = *d.LegacyTarget
	}
	return job
}

func (s *Service) Get(ctx context.Context, id string) (Distribution, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) MarkDelivered(ctx context.Context, id string) (Distribution, error) {
	return s.transition(ctx, id, StatusDelivered, nil)
}

func (s *Service) MarkFailed(ctx context.Context, id, reason string) (Distribution, error) {
	reason = truncate(reason, maxReasonLen)
	return s.transition(ctx, id, StatusFailed, &reason)
}

func (s *Service) MarkViewed(ctx context.Context, id string) (Distribution, error) {
	return s.transition(ctx, id, StatusViewed, nil)
}

func (s *Service) MarkResponded(ctx context.Context, id string) (Distribution, error) {
	return s.transition(ctx, id, StatusResponded, nil)
}

// transition never moves a status backwards. A disallowed write is a no-op
// that returns the current record.
func (s *Service) transition(ctx context.Context, id string, to Status, reason *string) (Distribution, error) {
	d, applied, err := s.repo.UpdateStatus(ctx, id, to, reason)
	if err != nil {
		return Distribution{}, err
	}
	if !applied {
		s.logger.DebugContext(ctx, "status write not applied",
			logging.DistributionID(id),
			"current", string(d.Status),
			"requested", string(to),
			"applied", false)
	}
	return d, nil
}

func (s *Service) GetStats(ctx context.Context, tripRequestID string) (Stats, error) {
	return s.repo.Stats(ctx, tripRequestID)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[:limit]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
