package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rfqflow/delivery"
	"rfqflow/distribution"
	"rfqflow/hooks"
	"rfqflow/logging"
	"rfqflow/metrics"
	"rfqflow/queue"
)

var serveQueue string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run delivery workers, the reconciliation sweep, event hooks and metrics",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveQueue, "queue", "jetstream", "job queue backend: jetstream or memory")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveQueue != "jetstream" && serveQueue != "memory" {
		return fmt.Errorf("unknown queue backend %q", serveQueue)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	tracker, err := a.tracker(ctx, cfg)
	if err != nil {
		return err
	}

	nc, js, consumer, err := a.jetStream(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// The memory queue needs the worker as its handler and the worker writes
	// through the service, so the handler resolves the worker lazily.
	var worker *delivery.Worker
	handler := queue.HandlerFunc(func(ctx context.Context, job queue.Job) error {
		return worker.Process(ctx, job)
	})

	var enqueuer queue.Enqueuer = js
	var mem *queue.Memory
	if serveQueue == "memory" {
		mem = queue.NewMemory(handler, cfg.Delivery.Workers, 256, retryPolicy(cfg), logger)
		enqueuer = mem
	}

	svc := a.service(enqueuer, logger)
	if worker, err = a.worker(svc, tracker, cfg, logger.With(logging.Component("delivery"))); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if mem != nil {
		g.Go(func() error { return mem.Run(gctx) })
	} else {
		g.Go(func() error { return js.Run(gctx, consumer, handler) })
	}

	if cfg.Reconcile.Enabled {
		rec := distribution.NewReconciler(a.distRepo, enqueuer, tracker, reconcilerConfig(cfg),
			logger.With(logging.Component("reconciler")))
		if err := rec.Start(gctx); err != nil {
			return err
		}
		defer rec.Stop()
	}

	listener := hooks.NewListener(svc, svc).WithLogger(logger.With(logging.Component("hooks")))
	signer, err := newSigner(cfg)
	if err != nil {
		return err
	}
	if signer != nil {
		listener.WithVerifier(signer)
	}
	if err := listener.Start(nc); err != nil {
		return err
	}
	defer listener.Stop()

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("rfqflow serving", "queue", serveQueue, "workers", cfg.Delivery.Workers)
	err = g.Wait()
	logger.Info("rfqflow stopped")
	return err
}
