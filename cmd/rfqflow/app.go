package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"rfqflow/actions"
	"rfqflow/agency"
	"rfqflow/config"
	"rfqflow/db"
	"rfqflow/delivery"
	"rfqflow/distribution"
	"rfqflow/jobtrack"
	"rfqflow/logging"
	"rfqflow/matching"
	"rfqflow/messaging"
	"rfqflow/queue"
	"rfqflow/render"
	"rfqflow/transport"
	"rfqflow/trip"
)

// app holds the components every subcommand builds on.
type app struct {
	pool     *pgxpool.Pool
	trips    *trip.PGRepository
	agencies *agency.PGRepository
	distRepo *distribution.PGRepository
	closers  []func()
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.Database.URL, db.PoolOptions{MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return nil, err
	}
	return &app{
		pool:     pool,
		trips:    trip.NewRepository(pool),
		agencies: agency.NewRepository(pool),
		distRepo: distribution.NewRepository(pool),
		closers:  []func(){pool.Close},
	}, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) service(enqueuer queue.Enqueuer, logger *logging.Logger) *distribution.Service {
	return distribution.NewService(a.pool, a.distRepo, a.trips, matching.NewEngine(a.agencies), enqueuer).
		WithLogger(logger)
}

// tracker connects to redis when enabled. A nil tracker disables tracking.
func (a *app) tracker(ctx context.Context, cfg *config.Config) (*jobtrack.Redis, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client, err := jobtrack.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { client.Close() })
	return jobtrack.New(client, true, cfg.Redis.SeenTTL), nil
}

// jetStream connects to NATS and makes sure the delivery stream and consumer exist.
func (a *app) jetStream(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*nats.Conn, *queue.JetStream, jetstream.Consumer, error) {
	nc, err := messaging.Connect(messaging.Config{URL: cfg.NATS.URL, Name: cfg.NATS.Name}, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	a.closers = append(a.closers, func() { nc.Drain() })

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	q := queue.NewJetStream(js, queue.JetStreamConfig{
		Stream:     cfg.NATS.Stream,
		Subject:    messaging.SubjectDeliveries,
		Consumer:   cfg.NATS.Consumer,
		AckWait:    cfg.Delivery.AckWait,
		Workers:    cfg.Delivery.Workers,
		Duplicates: cfg.NATS.Duplicates,
	}, retryPolicy(cfg), logger)

	consumer, err := q.Setup(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return nc, q, consumer, nil
}

func (a *app) worker(store delivery.DistributionStore, tracker *jobtrack.Redis, cfg *config.Config, logger *logging.Logger) (*delivery.Worker, error) {
	sender, err := newSender(cfg, logger)
	if err != nil {
		return nil, err
	}
	renderer, err := newRenderer(cfg)
	if err != nil {
		return nil, err
	}
	w := delivery.NewWorker(store, delivery.NewResolver(a.agencies), a.trips, renderer, sender, cfg.Delivery.SendConcurrency).
		WithLogger(logger)
	if tracker != nil {
		w.WithTracker(tracker)
	}
	signer, err := newSigner(cfg)
	if err != nil {
		return nil, err
	}
	if signer != nil {
		w.WithLinker(signer)
	}
	return w, nil
}

func retryPolicy(cfg *config.Config) queue.RetryPolicy {
	return queue.RetryPolicy{
		MaxAttempts: cfg.Delivery.MaxAttempts,
		Initial:     cfg.Delivery.Backoff.Initial,
		Max:         cfg.Delivery.Backoff.Max,
		Multiplier:  cfg.Delivery.Backoff.Multiplier,
		Jitter:      cfg.Delivery.Backoff.Jitter,
	}
}

// newSender returns the Telegram transport, or a logging dry-run sender when
// no bot token is configured.
func newSender(cfg *config.Config, logger *logging.Logger) (transport.Sender, error) {
	if cfg.Telegram.Token == "" {
		logger.Warn("telegram.token not set; deliveries are logged only")
		return transport.NewLogSender(logger), nil
	}
	return transport.NewTelegram(cfg.Telegram.Token)
}

// newRenderer uses render.template when set, the built-in template otherwise.
func newRenderer(cfg *config.Config) (*render.TextRenderer, error) {
	if strings.TrimSpace(cfg.Render.Template) == "" {
		return render.NewTextRenderer(), nil
	}
	return render.NewTextRendererFromString(cfg.Render.Template)
}

// newSigner returns nil when action links are not configured.
func newSigner(cfg *config.Config) (*actions.Signer, error) {
	if cfg.Actions.Secret == "" {
		return nil, nil
	}
	return actions.NewSigner(cfg.Actions.Secret, cfg.Actions.BaseURL, cfg.Actions.TTL)
}

func reconcilerConfig(cfg *config.Config) distribution.ReconcilerConfig {
	return distribution.ReconcilerConfig{
		Interval:  cfg.Reconcile.Interval,
		Threshold: cfg.Reconcile.Threshold,
		BatchSize: cfg.Reconcile.BatchSize,
	}
}
