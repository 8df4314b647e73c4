package main

import (
	"github.com/spf13/cobra"

	"rfqflow/config"
	"rfqflow/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rfqflow",
	Short: "Match trip requests to travel agencies and deliver them",
	Long: `rfqflow distributes traveller trip requests (RFQs) to matching travel
agencies and delivers each one to every messaging target of the agency.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./rfqflow.yaml or /etc/rfqflow/rfqflow.yaml)")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger = logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)
	return nil
}
