package agency

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("agency: not found")

// PGRepository reads the agency catalog and agent directory.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const agencyColumns = `a.id, a.name, a.approval_status, a.regions, a.specializations, a.rating::float8,
	a.broadcast_targets,
	COALESCE((SELECT array_agg(g.target ORDER BY g.created_at, g.id)
	          FROM agency_agents g
	          WHERE g.agency_id = a.id AND g.active), '{}'::text[]),
	a.created_at`

// ListApproved returns approved agencies ordered by rating desc, id asc.
func (r *PGRepository) ListApproved(ctx context.Context) ([]Agency, error) {
	query := `SELECT ` + agencyColumns + `
		FROM agencies a
		WHERE a.approval_status = $1
		ORDER BY a.rating DESC, a.id ASC`

	rows, err := r.pool.Query(ctx, query, ApprovalApproved)
	if err != nil {
		return nil, fmt.Errorf("agency: list approved: %w", err)
	}
	defer rows.Close()

	agencies := []Agency{}
	for rows.Next() {
		a, err := scanAgency(rows)
		if err != nil {
			return nil, fmt.Errorf("agency: scan agency: %w", err)
		}
		agencies = append(agencies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agency: iterate agencies: %w", err)
	}
	return agencies, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Agency, error) {
	query := `SELECT ` + agencyColumns + ` FROM agencies a WHERE a.id = $1`

	a, err := scanAgency(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agency{}, ErrNotFound
		}
		return Agency{}, fmt.Errorf("agency: get by id: %w", err)
	}
	return a, nil
}

// ActiveAgentTargets reads the agency's active agent targets straight from the
// directory, so deactivations made after distribution are honored.
func (r *PGRepository) ActiveAgentTargets(ctx context.Context, agencyID string) ([]string, error) {
	const query = `
		SELECT target
		FROM agency_agents
		WHERE agency_id = $1 AND active
		ORDER BY created_at, id
	`

	rows, err := r.pool.Query(ctx, query, agencyID)
	if err != nil {
		return nil, fmt.Errorf("agency: active agents: %w", err)
	}
	defer rows.Close()

	targets := []string{}
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, fmt.Errorf("agency: scan agent: %w", err)
		}
		targets = append(targets, target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agency: iterate agents: %w", err)
	}
	return targets, nil
}

// Create inserts an agency. Used by seeding tools and tests; admin CRUD lives elsewhere.
func (r *PGRepository) Create(ctx context.Context, a Agency) (Agency, error) {
	const query = `
		INSERT INTO agencies (id, name, approval_status, regions, specializations, rating, broadcast_targets)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	if a.Approval == "" {
		a.Approval = ApprovalPending
	}
	err := r.pool.QueryRow(ctx, query,
		a.ID,
		a.Name,
		a.Approval,
		nonNil(a.Regions),
		nonNil(a.Specializations),
		a.Rating,
		nonNil(a.BroadcastTargets),
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return Agency{}, fmt.Errorf("agency: create: %w", err)
	}
	return a, nil
}

func (r *PGRepository) AddAgent(ctx context.Context, agent Agent) (Agent, error) {
	const query = `
		INSERT INTO agency_agents (agency_id, full_name, target, active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	if err := r.pool.QueryRow(ctx, query, agent.AgencyID, agent.FullName, agent.Target, agent.Active).
		Scan(&agent.ID, &agent.CreatedAt); err != nil {
		return Agent{}, fmt.Errorf("agency: add agent: %w", err)
	}
	return agent, nil
}

func scanAgency(row pgx.Row) (Agency, error) {
	var a Agency
	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.Approval,
		&a.Regions,
		&a.Specializations,
		&a.Rating,
		&a.BroadcastTargets,
		&a.AgentTargets,
		&a.CreatedAt,
	)
	return a, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
