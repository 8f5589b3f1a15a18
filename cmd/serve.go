package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/railsense/railwatch/internal/model"
	"github.com/railsense/railwatch/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only disruption API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: newAPIRouter(st, analyticsParams{
				TrendDays:    cfg.Stats.TrendDays,
				OverlapDays:  cfg.Stats.OverlapDays,
				PeakHourRows: cfg.Stats.PeakHourRows,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newAPIRouter(st store.Store, params analyticsParams) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/disruptions", func(w http.ResponseWriter, r *http.Request) {
			filter := store.DisruptionFilter{
				Type:  model.DisruptionType(r.URL.Query().Get("type")),
				Limit: queryInt(r, "limit"),
			}
			if v := r.URL.Query().Get("resolved"); v != "" {
				resolved := v == "true" || v == "1"
				filter.Resolved = &resolved
			}
			disruptions, err := st.ListDisruptions(r.Context(), filter)
			if err != nil {
				serverError(w, "list disruptions", err)
				return
			}
			writeJSON(w, http.StatusOK, orEmpty(disruptions))
		})

		r.Get("/disruptions/active", func(w http.ResponseWriter, r *http.Request) {
			active, err := st.ActiveDisruptions(r.Context())
			if err != nil {
				serverError(w, "active disruptions", err)
				return
			}
			writeJSON(w, http.StatusOK, orEmpty(active))
		})

		r.Get("/disruptions/{id}", func(w http.ResponseWriter, r *http.Request) {
			d, err := st.GetDisruption(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				serverError(w, "get disruption", err)
				return
			}
			if d == nil {
				http.Error(w, `{"error":"disruption not found"}`, http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, d)
		})

		r.Get("/stations", func(w http.ResponseWriter, r *http.Request) {
			stations, err := st.ListStations(r.Context())
			if err != nil {
				serverError(w, "list stations", err)
				return
			}
			writeJSON(w, http.StatusOK, orEmpty(stations))
		})

		r.Get("/stats/daily", func(w http.ResponseWriter, r *http.Request) {
			stats, err := st.ListDailyStats(r.Context(), queryInt(r, "limit"))
			if err != nil {
				serverError(w, "daily stats", err)
				return
			}
			writeJSON(w, http.StatusOK, orEmpty(stats))
		})

		r.Get("/stats/stations", func(w http.ResponseWriter, r *http.Request) {
			ranked, err := st.StationSeverity(r.Context())
			if err != nil {
				serverError(w, "station severity", err)
				return
			}
			writeJSON(w, http.StatusOK, orEmpty(ranked))
		})

		r.Get("/stats/analytics", func(w http.ResponseWriter, r *http.Request) {
			report, err := buildAnalyticsReport(r.Context(), st, params)
			if err != nil {
				serverError(w, "analytics report", err)
				return
			}
			writeJSON(w, http.StatusOK, report)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func serverError(w http.ResponseWriter, op string, err error) {
	zap.L().Error(op, zap.Error(err))
	http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

// orEmpty keeps empty list responses as [] instead of null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
