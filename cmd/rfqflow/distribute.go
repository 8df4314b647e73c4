package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var distributeCmd = &cobra.Command{
	Use:   "distribute <trip-request-id>",
	Short: "Distribute one trip request to matching agencies and enqueue deliveries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		_, js, _, err := a.jetStream(ctx, cfg, logger)
		if err != nil {
			return err
		}

		res, err := a.service(js, logger).Distribute(ctx, args[0])
		if err != nil && len(res.DistributionIDs) == 0 {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
		return err
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <trip-request-id>",
	Short: "Show distribution counts per status for a trip request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.service(nil, logger).GetStats(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	rootCmd.AddCommand(distributeCmd)
	rootCmd.AddCommand(statsCmd)
}
