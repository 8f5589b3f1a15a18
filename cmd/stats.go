package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/railsense/railwatch/internal/model"
	"github.com/railsense/railwatch/internal/store"
)

var (
	statsTrendDays   int
	statsOverlapDays int
	statsLimit       int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the analytics report as JSON",
	Long:  "Runs the full analytics suite (rolling trend, station severity ranking, day-over-day deltas, peak hours, overlapping disruptions) and prints the combined report.",
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

		params := analyticsParams{
			TrendDays:    statsTrendDays,
			OverlapDays:  statsOverlapDays,
			PeakHourRows: statsLimit,
		}
		if params.TrendDays == 0 {
			params.TrendDays = cfg.Stats.TrendDays
		}
		if params.OverlapDays == 0 {
			params.OverlapDays = cfg.Stats.OverlapDays
		}
		if params.PeakHourRows == 0 {
			params.PeakHourRows = cfg.Stats.PeakHourRows
		}

		report, err := buildAnalyticsReport(ctx, st, params)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

type analyticsParams struct {
	TrendDays    int
	OverlapDays  int
	PeakHourRows int
}

// buildAnalyticsReport runs the five analytics queries concurrently. They are
// independent reads, so one slow query does not serialize the rest.
func buildAnalyticsReport(ctx context.Context, st store.Store, p analyticsParams) (*model.AnalyticsReport, error) {
	var report model.AnalyticsReport

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		report.Trend, err = st.RollingTrend(ctx, p.TrendDays)
		return err
	})
	g.Go(func() error {
		var err error
		report.StationSeverity, err = st.StationSeverity(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		report.DayOverDay, err = st.DayOverDay(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		report.PeakHours, err = st.PeakHours(ctx, p.PeakHourRows)
		return err
	})
	g.Go(func() error {
		var err error
		report.Overlaps, err = st.OverlappingDisruptions(ctx, p.OverlapDays, p.PeakHourRows)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &report, nil
}

func init() {
	statsCmd.Flags().IntVar(&statsTrendDays, "trend-days", 0, "trend window in days (default from config)")
	statsCmd.Flags().IntVar(&statsOverlapDays, "overlap-days", 0, "overlap lookback in days (default from config)")
	statsCmd.Flags().IntVar(&statsLimit, "limit", 0, "row limit for ranked outputs (default from config)")
	rootCmd.AddCommand(statsCmd)
}
