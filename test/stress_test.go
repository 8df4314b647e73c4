package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"rfqflow/agency"
	"rfqflow/delivery"
	"rfqflow/distribution"
	"rfqflow/logging"
	"rfqflow/matching"
	"rfqflow/queue"
	"rfqflow/render"
	"rfqflow/test/actors"
	"rfqflow/test/chaos"
	"rfqflow/test/infra"
	"rfqflow/test/oracles"
	"rfqflow/trip"
)

var (
	flDuration    = flag.Duration("duration", 20*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 6, "number of concurrent distributors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

var (
	destinations = []string{"Dubai", "Bali", "Paris", "Tokyo", "Istanbul", "Cancun"}
	tripTypes    = []string{"PACKAGE", "FLIGHT", "HOTEL", "CRUISE"}
)

func TestDistributionConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in -short mode")
	}
	seed := *flSeed
	gofakeit.Seed(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+2*time.Minute)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Skipf("no docker and no local postgres: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	tripIDs := mustSeed(t, ctx, pool)

	trips := trip.NewRepository(pool)
	agencies := agency.NewRepository(pool)
	distRepo := distribution.NewRepository(pool)
	sender := actors.NewFlakySender(seed, 0.15, 0.05)
	logger := logging.Discard()

	var worker *delivery.Worker
	mem := queue.NewMemory(queue.HandlerFunc(func(ctx context.Context, job queue.Job) error {
		return worker.Process(ctx, job)
	}), 4, 4096, queue.RetryPolicy{MaxAttempts: 4, Initial: 20 * time.Millisecond, Max: 200 * time.Millisecond, Multiplier: 2}, logger)
	svc := distribution.NewService(pool, distRepo, trips, matching.NewEngine(agencies), mem).WithLogger(logger)
	worker = delivery.NewWorker(svc, delivery.NewResolver(agencies), trips, render.NewTextRenderer(), sender, 4).WithLogger(logger)

	queueCtx, stopQueue := context.WithCancel(ctx)
	queueDone := make(chan error, 1)
	go func() { queueDone <- mem.Run(queueCtx) }()

	var actorErrs atomic.Int64
	onErr := func(err error) {
		if actorErrs.Add(1) <= 5 {
			t.Logf("actor error (tolerated): %v", err)
		}
	}

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Distributor(ctx2, svc, tripIDs, onErr, stop) })
	}
	g.Go(func() error { return actors.Viewer(ctx2, svc, reachedIDs(ctx2, pool), onErr, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, 2*time.Second, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if name, row := runOracles(t, ctx2, pool); name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	// Anything still pending was lost to chaos; the sweep must recover it.
	rec := distribution.NewReconciler(distRepo, mem, nil, distribution.ReconcilerConfig{Threshold: time.Nanosecond, BatchSize: 1000}, logger)
	if _, err := rec.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	waitForNoPending(t, ctx, pool, 15*time.Second)

	stopQueue()
	if err := <-queueDone; err != nil {
		t.Fatalf("queue: %v", err)
	}

	if name, row := runOracles(t, ctx, pool); name != "" {
		dumpRecent(t, ctx, pool)
		t.Fatalf("Oracle %s failed after drain. First row: %s (seed=%d)", name, row, seed)
	}
	t.Logf("sends=%d tolerated actor errors=%d terminated jobs=%d seed=%d",
		sender.Sends(), actorErrs.Load(), len(mem.Terminated()), seed)
}

func runOracles(t *testing.T, ctx context.Context, pool *pgxpool.Pool) (string, string) {
	t.Helper()
	for attempt := 0; attempt < 3; attempt++ {
		name, row, err := oracles.Run(ctx, pool)
		if err == nil {
			return name, row
		}
		if ctx.Err() != nil {
			return "", ""
		}
		// The chaos actor may have killed the oracle's own connection.
		t.Logf("oracle error, retrying: %v", err)
	}
	t.Fatalf("oracles kept failing")
	return "", ""
}

func reachedIDs(ctx context.Context, pool *pgxpool.Pool) func() []string {
	return func() []string {
		rows, err := pool.Query(ctx, `SELECT id::text FROM distributions
			WHERE status IN ('delivered', 'viewed') ORDER BY random() LIMIT 50`)
		if err != nil {
			return nil
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return nil
		}
		return ids
	}
}

func waitForNoPending(t *testing.T, ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		var n int
		err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM distributions WHERE status = 'pending'`).Scan(&n)
		if err == nil && n == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d distributions still pending after %s (err=%v)", n, timeout, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

// mustSeed creates a catalog of agencies and a batch of open trip requests.
// Some agencies are not approved or have no active agent, and some requests
// come from an agency's own broadcast channel.
func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) []string {
	t.Helper()
	agencies := agency.NewRepository(pool)
	trips := trip.NewRepository(pool)

	var broadcasts []string
	for i := 0; i < 12; i++ {
		approval := agency.ApprovalApproved
		if i%5 == 4 {
			approval = agency.ApprovalPending
		}
		broadcast := strconv.Itoa(-1000000 - i)
		a, err := agencies.Create(ctx, agency.Agency{
			Name:             gofakeit.Company(),
			Approval:         approval,
			Regions:          []string{gofakeit.RandomString(destinations), gofakeit.RandomString(destinations)},
			Specializations:  []string{gofakeit.RandomString(tripTypes)},
			Rating:           float64(gofakeit.Number(0, 500)) / 100,
			BroadcastTargets: []string{broadcast},
		})
		if err != nil {
			t.Fatalf("seed agency: %v", err)
		}
		broadcasts = append(broadcasts, broadcast)

		for j := 0; j < i%3; j++ {
			if _, err := agencies.AddAgent(ctx, agency.Agent{
				AgencyID: a.ID,
				FullName: gofakeit.Name(),
				Target:   strconv.Itoa(gofakeit.Number(100000, 999999999)),
				Active:   gofakeit.Bool() || j == 0,
			}); err != nil {
				t.Fatalf("seed agent: %v", err)
			}
		}
	}

	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		departure := gofakeit.DateRange(time.Now().AddDate(0, 1, 0), time.Now().AddDate(0, 6, 0)).UTC()
		expires := time.Now().Add(72 * time.Hour)
		source := strconv.Itoa(gofakeit.Number(100000, 999999999))
		if i%4 == 0 {
			source = broadcasts[i%len(broadcasts)]
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			t.Fatalf("seed begin: %v", err)
		}
		req, err := trips.Create(ctx, tx, trip.Request{
			UserID:        fmt.Sprintf("user-%d", i),
			Destination:   gofakeit.RandomString(destinations),
			Origin:        gofakeit.City(),
			TripType:      gofakeit.RandomString(tripTypes),
			DepartureDate: &departure,
			Adults:        gofakeit.Number(1, 4),
			Children:      gofakeit.Number(0, 2),
			Notes:         gofakeit.Sentence(8),
			ExpiresAt:     &expires,
			SourceTarget:  source,
		})
		if err != nil {
			tx.Rollback(ctx)
			t.Fatalf("seed trip: %v", err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("seed commit: %v", err)
		}
		ids = append(ids, req.ID)
	}
	return ids
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"distributions", `SELECT id, trip_request_id, agency_id, status, failure_reason, updated_at FROM distributions ORDER BY updated_at DESC LIMIT 50`},
		{"trip_requests", `SELECT id, status, source_target, updated_at FROM trip_requests ORDER BY updated_at DESC LIMIT 20`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
