package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("distribution: not found")
	// ErrDuplicate signals the request already has a distribution for the agency.
	ErrDuplicate = errors.New("distribution: duplicate request/agency pair")
)

type Repository interface {
	CountForRequest(ctx context.Context, tripRequestID string) (int, error)
	CreateBatch(ctx context.Context, tx pgx.Tx, rows []Distribution) ([]Distribution, error)
	Get(ctx context.Context, id string) (Distribution, error)
	// UpdateStatus applies to only when the current status allows it. It
	// returns the resulting record and whether the write was applied.
	UpdateStatus(ctx context.Context, id string, to Status, reason *string) (Distribution, bool, error)
	Stats(ctx context.Context, tripRequestID string) (Stats, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Distribution, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const columns = `id, trip_request_id, agency_id, status, payload, legacy_target, failure_reason,
	created_at, updated_at, delivered_at, viewed_at, responded_at`

func (r *PGRepository) CountForRequest(ctx context.Context, tripRequestID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM distributions WHERE trip_request_id = $1`, tripRequestID).Scan(&n); err != nil {
		return 0, fmt.Errorf("distribution: count for request: %w", err)
	}
	return n, nil
}

// CreateBatch inserts all rows inside tx. A unique violation on
// (trip_request_id, agency_id) is reported as ErrDuplicate.
func (r *PGRepository) CreateBatch(ctx context.Context, tx pgx.Tx, rows []Distribution) ([]Distribution, error) {
	if len(rows) == 0 {
		return []Distribution{}, nil
	}

	query := `
		INSERT INTO distributions (id, trip_request_id, agency_id, status, payload, legacy_target)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + columns

	batch := &pgx.Batch{}
	for _, d := range rows {
		batch.Queue(query, d.ID, d.TripRequestID, d.AgencyID, d.Status, d.Payload, d.LegacyTarget)
	}

	br := tx.SendBatch(ctx, batch)
	created := make([]Distribution, 0, len(rows))
	for range rows {
		d, err := scanDistribution(br.QueryRow())
		if err != nil {
			br.Close()
			return nil, mapWriteErr("create batch", err)
		}
		created = append(created, d)
	}
	if err := br.Close(); err != nil {
		return nil, mapWriteErr("create batch", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Distribution, error) {
	d, err := scanDistribution(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM distributions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Distribution{}, ErrNotFound
		}
		return Distribution{}, fmt.Errorf("distribution: get: %w", err)
	}
	return d, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, id string, to Status, reason *string) (Distribution, bool, error) {
	from, ok := allowedFrom[to]
	if !ok {
		return Distribution{}, false, fmt.Errorf("distribution: cannot write status %q", to)
	}

	query := `
		UPDATE distributions
		SET status = $2::text,
		    updated_at = now(),
		    delivered_at = CASE WHEN $2::text = 'delivered' THEN now() ELSE delivered_at END,
		    viewed_at = CASE WHEN $2::text = 'viewed' THEN now() ELSE viewed_at END,
		    responded_at = CASE WHEN $2::text = 'responded' THEN now() ELSE responded_at END,
		    failure_reason = CASE
		        WHEN $2::text = 'failed' THEN $3::text
		        WHEN $2::text = 'delivered' THEN NULL
		        ELSE failure_reason
		    END
		WHERE id = $1 AND status = ANY($4::text[])
		RETURNING ` + columns

	fromText := make([]string, 0, len(from))
	for _, s := range from {
		fromText = append(fromText, string(s))
	}

	d, err := scanDistribution(r.pool.QueryRow(ctx, query, id, string(to), reason, fromText))
	if err == nil {
		return d, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Distribution{}, false, fmt.Errorf("distribution: update status: %w", err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return Distribution{}, false, err
	}
	return current, false, nil
}

func (r *PGRepository) Stats(ctx context.Context, tripRequestID string) (Stats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM distributions
		WHERE trip_request_id = $1
		GROUP BY status
	`, tripRequestID)
	if err != nil {
		return Stats{}, fmt.Errorf("distribution: stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{TripRequestID: tripRequestID}
	for rows.Next() {
		var (
			status Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, fmt.Errorf("distribution: scan stats: %w", err)
		}
		stats.add(status, n)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("distribution: iterate stats: %w", err)
	}
	return stats, nil
}

func (s *Stats) add(status Status, n int) {
	s.Total += n
	switch status {
	case StatusPending:
		s.Pending += n
	case StatusDelivered:
		s.Delivered += n
	case StatusViewed:
		s.Viewed += n
	case StatusResponded:
		s.Responded += n
	case StatusFailed:
		s.Failed += n
	}
}

func (r *PGRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Distribution, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+columns+`
		FROM distributions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("distribution: list stale pending: %w", err)
	}
	defer rows.Close()

	list := []Distribution{}
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, fmt.Errorf("distribution: scan stale pending: %w", err)
		}
		list = append(list, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("distribution: iterate stale pending: %w", err)
	}
	return list, nil
}

func scanDistribution(row pgx.Row) (Distribution, error) {
	var d Distribution
	err := row.Scan(
		&d.ID,
		&d.TripRequestID,
		&d.AgencyID,
		&d.Status,
		&d.Payload,
		&d.LegacyTarget,
		&d.FailureReason,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.DeliveredAt,
		&d.ViewedAt,
		&d.RespondedAt,
	)
	return d, err
}

func mapWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return fmt.Errorf("distribution: %s: %w", op, err)
}
