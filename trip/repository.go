package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("trip: not found")

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, req Request) (Request, error)
	GetByID(ctx context.Context, id string) (Request, error)
	GetExpiry(ctx context.Context, id string) (*time.Time, error)
	MarkDistributed(ctx context.Context, tx pgx.Tx, id string) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectColumns = `id, user_id, destination, origin, trip_type, departure_date, return_date,
	adults, children, children_ages, infants, budget_min, budget_max, currency, preferences,
	notes, expires_at, source_target, status, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	query := `
		INSERT INTO trip_requests (id, user_id, destination, origin, trip_type, departure_date, return_date,
			adults, children, children_ages, infants, budget_min, budget_max, currency, preferences,
			notes, expires_at, source_target, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING ` + selectColumns

	status := req.Status
	if status == "" {
		status = StatusOpen
	}
	ages := req.ChildrenAges
	if ages == nil {
		ages = []int{}
	}
	prefs := req.Preferences
	if prefs == nil {
		prefs = []string{}
	}

	row := tx.QueryRow(ctx, query,
		req.ID,
		req.UserID,
		req.Destination,
		req.Origin,
		req.TripType,
		req.DepartureDate,
		req.ReturnDate,
		req.Adults,
		req.Children,
		ages,
		req.Infants,
		req.BudgetMin,
		req.BudgetMax,
		req.Currency,
		prefs,
		req.Notes,
		req.ExpiresAt,
		req.SourceTarget,
		status,
	)
	created, err := scanRequest(row)
	if err != nil {
		return Request{}, fmt.Errorf("trip: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Request, error) {
	query := `SELECT ` + selectColumns + ` FROM trip_requests WHERE id = $1`

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("trip: get by id: %w", err)
	}
	return req, nil
}

// GetExpiry returns the request's expiry, nil when it never expires.
func (r *PGRepository) GetExpiry(ctx context.Context, id string) (*time.Time, error) {
	const query = `SELECT expires_at FROM trip_requests WHERE id = $1`

	var expiresAt *time.Time
	if err := r.pool.QueryRow(ctx, query, id).Scan(&expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("trip: get expiry: %w", err)
	}
	return expiresAt, nil
}

func (r *PGRepository) MarkDistributed(ctx context.Context, tx pgx.Tx, id string) error {
	const query = `
		UPDATE trip_requests
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, id, StatusDistributed)
	if err != nil {
		return fmt.Errorf("trip: mark distributed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.Destination,
		&req.Origin,
		&req.TripType,
		&req.DepartureDate,
		&req.ReturnDate,
		&req.Adults,
		&req.Children,
		&req.ChildrenAges,
		&req.Infants,
		&req.BudgetMin,
		&req.BudgetMax,
		&req.Currency,
		&req.Preferences,
		&req.Notes,
		&req.ExpiresAt,
		&req.SourceTarget,
		&req.Status,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	return req, err
}
