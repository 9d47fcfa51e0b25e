package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/routemind/routemind/internal/events"
	"github.com/routemind/routemind/internal/experiment"
	"github.com/routemind/routemind/internal/httpapi"
	"github.com/routemind/routemind/internal/logging"
	"github.com/routemind/routemind/internal/metrics"
	"github.com/routemind/routemind/internal/ratelimit"
	"github.com/routemind/routemind/internal/routing"
	"github.com/routemind/routemind/internal/stats"
	"github.com/routemind/routemind/internal/store"
	"github.com/routemind/routemind/internal/tracing"
)

type Server struct {
	cfg Config

	r *chi.Mux

	engine      *routing.Engine
	experiments *experiment.Registry
	store       store.Store
	logger      *slog.Logger
	limiter     *ratelimit.Limiter
	providers   []routing.Provider

	stopSweep func()
	traceStop func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	traceStop, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "routemind",
	})
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second,
		ratelimit.WithCounter(m.RateLimited))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())
	r.Use(limiter.Middleware)
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	eng := routing.NewEngine(routing.EngineConfig{
		MaxLearningData: cfg.MaxLearningData,
		Predictor: routing.PredictorConfig{
			MinSamples:          cfg.MinSamples,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
		},
		DefaultObjective: routing.Objective(cfg.DefaultGoal),
		BaselineCostUSD:  cfg.BaselineCostUSD,
	})

	// Open store.
	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	bus := events.NewBus()
	reg := experiment.NewRegistry(experiment.WithBus(bus))

	// Rehydrate learned state so routing quality survives restarts.
	seedLedger(eng, db, cfg.MaxLearningData, logger)
	seedExperiments(reg, db, logger)

	providers, err := loadProviders(cfg.ProvidersFile, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		r:           r,
		engine:      eng,
		experiments: reg,
		store:       db,
		logger:      logger,
		limiter:     limiter,
		providers:   providers,
		traceStop:   traceStop,
	}
	s.stopSweep = reg.StartSweep(time.Duration(cfg.SweepIntervalSecs) * time.Second)

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Engine:      eng,
		Experiments: reg,
		Metrics:     m,
		Store:       db,
		EventBus:    bus,
		Stats:       stats.NewCollector(),
		Providers:   s.Providers,
	})

	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Providers returns the configured provider catalog.
func (s *Server) Providers() []routing.Provider { return s.providers }

func (s *Server) Close() error {
	if s.stopSweep != nil {
		s.stopSweep()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.traceStop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.traceStop(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// seedLedger loads persisted performance records into the engine's ledger.
// Best-effort: a fresh database just leaves the ledger empty.
func seedLedger(eng *routing.Engine, db store.Store, limit int, logger *slog.Logger) {
	rows, err := db.ListPerformanceRecords(context.Background(), limit)
	if err != nil {
		logger.Warn("failed to load performance records", slog.String("error", err.Error()))
		return
	}
	recs := make([]routing.PerformanceRecord, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, routing.PerformanceRecord{
			ProviderID: row.ProviderID,
			ModelID:    row.ModelID,
			Features: routing.RequestFeatures{
				EstimatedTokens: row.EstimatedTokens,
				Complexity:      row.Complexity,
				Type:            routing.RequestType(row.RequestType),
			},
			CostUSD:    row.CostUSD,
			LatencyMs:  row.LatencyMs,
			Quality:    row.Quality,
			Timestamp:  row.Timestamp,
		})
	}
	eng.Ledger().Seed(recs)
	logger.Info("ledger seeded", slog.Int("records", len(recs)))
}

// seedExperiments rebuilds the experiment registry from persisted rows.
func seedExperiments(reg *experiment.Registry, db store.Store, logger *slog.Logger) {
	ctx := context.Background()
	rows, err := db.ListExperiments(ctx)
	if err != nil {
		logger.Warn("failed to load experiments", slog.String("error", err.Error()))
		return
	}
	exps := make([]experiment.Experiment, 0, len(rows))
	for _, row := range rows {
		var cfg experiment.Config
		if err := json.Unmarshal([]byte(row.ConfigJSON), &cfg); err != nil {
			logger.Warn("skipping experiment with bad config",
				slog.String("experiment", row.ID), slog.String("error", err.Error()))
			continue
		}
		exp := experiment.Experiment{
			Config:     cfg,
			Status:     experiment.Status(row.Status),
			StartTime:  row.StartTime,
			EndTime:    row.EndTime,
			StopReason: row.StopReason,
		}
		resRows, err := db.ListExperimentResults(ctx, row.ID, 0)
		if err != nil {
			logger.Warn("failed to load experiment results",
				slog.String("experiment", row.ID), slog.String("error", err.Error()))
		}
		for _, rr := range resRows {
			res := experiment.Result{
				ID:             rr.ID,
				ExperimentID:   rr.ExperimentID,
				Variant:        rr.Variant,
				CostUSD:        rr.CostUSD,
				ResponseTimeMs: rr.ResponseTimeMs,
				Quality:        rr.Quality,
				Satisfaction:   rr.Satisfaction,
				Success:        rr.Success,
				Timestamp:      rr.Timestamp,
			}
			if rr.AccuracyJSON != "" {
				var acc experiment.AccuracyScores
				if err := json.Unmarshal([]byte(rr.AccuracyJSON), &acc); err == nil {
					res.Accuracy = &acc
				}
			}
			exp.Results = append(exp.Results, res)
		}
		assigns, err := db.ListAssignments(ctx, row.ID)
		if err == nil && len(assigns) > 0 {
			exp.Assignments = make(map[string]string, len(assigns))
			for _, a := range assigns {
				exp.Assignments[a.UserID] = a.Variant
			}
		}
		exps = append(exps, exp)
	}
	reg.Import(exps)
	logger.Info("experiments seeded", slog.Int("experiments", len(exps)))
}

// loadProviders reads the provider catalog from a JSON file, falling back to
// the built-in defaults when no file is configured.
func loadProviders(path string, logger *slog.Logger) ([]routing.Provider, error) {
	if path == "" {
		return defaultProviders(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var providers []routing.Provider
	if err := json.Unmarshal(b, &providers); err != nil {
		return nil, err
	}
	logger.Info("provider catalog loaded",
		slog.String("file", path), slog.Int("providers", len(providers)))
	return providers, nil
}

func defaultProviders() []routing.Provider {
	return []routing.Provider{
		{
			ID: "openai",
			Models: []routing.ModelSpec{
				{ID: "gpt-4o", InputPer1K: 0.005, OutputPer1K: 0.015, BaselineLatencyMs: 1800, BaselineQuality: 0.9, MaxContextTokens: 128000, Capabilities: []string{"vision", "function_calling"}},
				{ID: "gpt-4o-mini", InputPer1K: 0.00015, OutputPer1K: 0.0006, BaselineLatencyMs: 900, BaselineQuality: 0.7, MaxContextTokens: 128000, Capabilities: []string{"function_calling"}},
			},
		},
		{
			ID: "anthropic",
			Models: []routing.ModelSpec{
				{ID: "claude-opus", InputPer1K: 0.015, OutputPer1K: 0.075, BaselineLatencyMs: 2200, BaselineQuality: 0.95, MaxContextTokens: 200000, Capabilities: []string{"vision", "function_calling"}},
				{ID: "claude-sonnet", InputPer1K: 0.003, OutputPer1K: 0.015, BaselineLatencyMs: 1500, BaselineQuality: 0.88, MaxContextTokens: 200000, Capabilities: []string{"vision", "function_calling"}},
			},
		},
		{
			ID: "google",
			Models: []routing.ModelSpec{
				{ID: "gemini-flash", InputPer1K: 0.000075, OutputPer1K: 0.0003, BaselineLatencyMs: 800, BaselineQuality: 0.65, MaxContextTokens: 1000000},
			},
		},
	}
}
