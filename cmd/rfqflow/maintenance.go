package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rfqflow/db"
	"rfqflow/distribution"
	"rfqflow/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := db.Migrate(cfg.Database.URL); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-enqueue stale pending distributions once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		tracker, err := a.tracker(ctx, cfg)
		if err != nil {
			return err
		}
		_, js, _, err := a.jetStream(ctx, cfg, logger)
		if err != nil {
			return err
		}

		rec := distribution.NewReconciler(a.distRepo, js, tracker, reconcilerConfig(cfg),
			logger.With(logging.Component("reconciler")))
		n, err := rec.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "requeued %d distributions\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
}
