package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns queries that must return no rows while the pipeline runs.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_distribution_per_agency",
			SQL: `SELECT trip_request_id, agency_id, COUNT(*) FROM distributions
                  GROUP BY trip_request_id, agency_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_distributed_flip_is_atomic",
			SQL: `SELECT t.id, t.status FROM trip_requests t
                  WHERE (t.status = 'distributed') <> EXISTS (
                      SELECT 1 FROM distributions d WHERE d.trip_request_id = t.id)`,
		},
		{
			Name: "O3_reached_has_delivered_at",
			SQL: `SELECT id, status FROM distributions
                  WHERE status IN ('delivered','viewed','responded') AND delivered_at IS NULL`,
		},
		{
			Name: "O4_failed_has_reason",
			SQL:  `SELECT id FROM distributions WHERE status = 'failed' AND failure_reason IS NULL`,
		},
		{
			Name: "O5_delivered_clears_reason",
			SQL: `SELECT id, failure_reason FROM distributions
                  WHERE status IN ('delivered','viewed','responded') AND failure_reason IS NOT NULL`,
		},
		{
			Name: "O6_no_self_delivery",
			SQL: `SELECT d.id FROM distributions d
                  JOIN trip_requests t ON t.id = d.trip_request_id
                  JOIN agencies a ON a.id = d.agency_id
                  WHERE t.source_target <> '' AND t.source_target = ANY(a.broadcast_targets)`,
		},
		{
			Name: "O7_only_approved_agencies",
			SQL: `SELECT d.id FROM distributions d
                  JOIN agencies a ON a.id = d.agency_id
                  WHERE a.approval_status <> 'approved'`,
		},
		{
			Name: "O8_response_timestamps",
			SQL: `SELECT id FROM distributions
                  WHERE (status = 'responded' AND responded_at IS NULL)
                     OR (status = 'viewed' AND viewed_at IS NULL)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
