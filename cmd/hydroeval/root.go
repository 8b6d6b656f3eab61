package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/hydroeval/internal/config"
	"github.com/couchcryptid/hydroeval/internal/observability"
)

var (
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	metricsOnce sync.Once

	flagDataDir  string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "hydroeval",
	Short: "Hydrologic model evaluation toolkit",
	Long: "Converts observed and simulated streamflow files to Parquet, joins them " +
		"through a location crosswalk in an embedded database and computes " +
		"comparison metrics.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if flagDataDir != "" {
			c.DataDir = flagDataDir
		}
		if flagLogLevel != "" {
			c.LogLevel = flagLogLevel
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c

		logger = observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
		slog.SetDefault(logger)
		metricsOnce.Do(func() { metrics = observability.NewMetrics() })
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "dataset root (overrides DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
