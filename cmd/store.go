package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/railsense/railwatch/internal/fetcher"
	"github.com/railsense/railwatch/internal/model"
	"github.com/railsense/railwatch/internal/pipeline"
	"github.com/railsense/railwatch/internal/resilience"
	"github.com/railsense/railwatch/internal/store"
	"github.com/railsense/railwatch/internal/transform"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.Path
		if dsn == "" {
			dsn = "railwatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// loadStations resolves the station reference data: an override file when
// configured, the bundled list otherwise.
func loadStations() ([]model.Station, error) {
	if cfg.Transform.StationsPath == "" {
		return store.EmbeddedStations()
	}
	f, err := os.Open(cfg.Transform.StationsPath)
	if err != nil {
		return nil, eris.Wrapf(err, "open stations file %s", cfg.Transform.StationsPath)
	}
	defer f.Close() //nolint:errcheck
	return store.ParseStationsCSV(f)
}

func loadImpactPolicy() (transform.ImpactPolicy, error) {
	if cfg.Transform.ImpactPolicyPath == "" {
		return transform.DefaultImpactPolicy(), nil
	}
	return transform.LoadImpactPolicy(cfg.Transform.ImpactPolicyPath)
}

func newCleaner() (*transform.Cleaner, error) {
	policy, err := loadImpactPolicy()
	if err != nil {
		return nil, err
	}
	stations, err := loadStations()
	if err != nil {
		return nil, err
	}
	return transform.NewCleaner(policy, stations), nil
}

func newNSFetcher() fetcher.Fetcher {
	httpClient := fetcher.NewHTTPClient(fetcher.HTTPOptions{
		Timeout:           time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
	})
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Fetch.MaxAttempts

	opts := []fetcher.NSOption{fetcher.WithRetryConfig(retry)}
	if cfg.NS.BaseURL != "" {
		opts = append(opts, fetcher.WithBaseURL(cfg.NS.BaseURL))
	}
	return fetcher.NewNSClient(httpClient, cfg.NS.APIKey, opts...)
}

func newPipeline(f fetcher.Fetcher, st store.Store) (*pipeline.Pipeline, error) {
	cleaner, err := newCleaner()
	if err != nil {
		return nil, err
	}
	return pipeline.New(f, st, cleaner), nil
}
