package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/railsense/railwatch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "railwatch",
	Short: "Daily rail disruption ETL",
	Long:  "Fetches the NS disruption feed, lands payloads in a raw layer, derives cleaned records and daily statistics, and serves the results over a read-only API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
