package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the schema and seed the station reference table",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("local"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		stations, err := loadStations()
		if err != nil {
			return err
		}
		if err := st.SeedStations(ctx, stations); err != nil {
			return err
		}

		zap.L().Info("database initialized",
			zap.String("driver", cfg.Store.Driver),
			zap.Int("stations", len(stations)),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
