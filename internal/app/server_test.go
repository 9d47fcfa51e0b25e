package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/routemind/routemind/internal/experiment"
	"github.com/routemind/routemind/internal/store"
)

func TestLoadConfigDefaults(t *testing.T) {
	// Unset all ROUTEMIND_ env vars to ensure defaults are used.
	envVars := []string{
		"ROUTEMIND_LISTEN_ADDR",
		"ROUTEMIND_LOG_LEVEL",
		"ROUTEMIND_DB_DSN",
		"ROUTEMIND_DEFAULT_GOAL",
		"ROUTEMIND_MAX_LEARNING_DATA",
		"ROUTEMIND_MIN_SAMPLES",
		"ROUTEMIND_CONFIDENCE_THRESHOLD",
		"ROUTEMIND_SWEEP_INTERVAL_SECS",
	}
	for _, key := range envVars {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":8080")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.DBDSN != "file:/data/routemind.sqlite" {
		t.Errorf("DBDSN = %q, want %q", cfg.DBDSN, "file:/data/routemind.sqlite")
	}
	if cfg.DefaultGoal != "balanced" {
		t.Errorf("DefaultGoal = %q, want %q", cfg.DefaultGoal, "balanced")
	}
	if cfg.MaxLearningData != 1000 {
		t.Errorf("MaxLearningData = %d, want 1000", cfg.MaxLearningData)
	}
	if cfg.MinSamples != 3 {
		t.Errorf("MinSamples = %d, want 3", cfg.MinSamples)
	}
	if cfg.ConfidenceThreshold != 0.3 {
		t.Errorf("ConfidenceThreshold = %f, want 0.3", cfg.ConfidenceThreshold)
	}
	if cfg.SweepIntervalSecs != 60 {
		t.Errorf("SweepIntervalSecs = %d, want 60", cfg.SweepIntervalSecs)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ROUTEMIND_LISTEN_ADDR", ":9090")
	t.Setenv("ROUTEMIND_LOG_LEVEL", "debug")
	t.Setenv("ROUTEMIND_DB_DSN", "file::memory:")
	t.Setenv("ROUTEMIND_DEFAULT_GOAL", "cost")
	t.Setenv("ROUTEMIND_MAX_LEARNING_DATA", "500")
	t.Setenv("ROUTEMIND_MIN_SAMPLES", "5")
	t.Setenv("ROUTEMIND_CONFIDENCE_THRESHOLD", "0.5")
	t.Setenv("ROUTEMIND_SWEEP_INTERVAL_SECS", "30")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.DBDSN != "file::memory:" {
		t.Errorf("DBDSN = %q, want %q", cfg.DBDSN, "file::memory:")
	}
	if cfg.DefaultGoal != "cost" {
		t.Errorf("DefaultGoal = %q, want %q", cfg.DefaultGoal, "cost")
	}
	if cfg.MaxLearningData != 500 {
		t.Errorf("MaxLearningData = %d, want 500", cfg.MaxLearningData)
	}
	if cfg.MinSamples != 5 {
		t.Errorf("MinSamples = %d, want 5", cfg.MinSamples)
	}
	if cfg.ConfidenceThreshold != 0.5 {
		t.Errorf("ConfidenceThreshold = %f, want 0.5", cfg.ConfidenceThreshold)
	}
	if cfg.SweepIntervalSecs != 30 {
		t.Errorf("SweepIntervalSecs = %d, want 30", cfg.SweepIntervalSecs)
	}
}

func TestLoadConfigInvalidEnvFallsBackToDefaults(t *testing.T) {
	t.Setenv("ROUTEMIND_MAX_LEARNING_DATA", "notanint")
	t.Setenv("ROUTEMIND_CONFIDENCE_THRESHOLD", "notafloat")
	t.Setenv("ROUTEMIND_OTEL_ENABLED", "notabool")
	t.Setenv("ROUTEMIND_SWEEP_INTERVAL_SECS", "notanint")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.MaxLearningData != 1000 {
		t.Errorf("MaxLearningData = %d, want 1000 (default on invalid input)", cfg.MaxLearningData)
	}
	if cfg.ConfidenceThreshold != 0.3 {
		t.Errorf("ConfidenceThreshold = %f, want 0.3 (default on invalid input)", cfg.ConfidenceThreshold)
	}
	if cfg.OTelEnabled != false {
		t.Errorf("OTelEnabled = %v, want false (default on invalid input)", cfg.OTelEnabled)
	}
	if cfg.SweepIntervalSecs != 60 {
		t.Errorf("SweepIntervalSecs = %d, want 60 (default on invalid input)", cfg.SweepIntervalSecs)
	}
}

func TestValidateRejectsBadGoal(t *testing.T) {
	cfg := newTestConfig()
	cfg.DefaultGoal = "cheapest"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid default goal")
	}
}

func newTestConfig() Config {
	return Config{
		ListenAddr:          ":0",
		LogLevel:            "error",
		DBDSN:               ":memory:",
		DefaultGoal:         "balanced",
		MaxLearningData:     1000,
		MinSamples:          3,
		ConfidenceThreshold: 0.3,
		BaselineCostUSD:     0.03,
		SweepIntervalSecs:   60,
		RateLimitRPS:        60,
		RateLimitBurst:      120,
	}
}

func TestNewServer(t *testing.T) {
	cfg := newTestConfig()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	if srv == nil {
		t.Fatal("expected non-nil server")
	}
	if len(srv.Providers()) == 0 {
		t.Fatal("expected built-in provider catalog")
	}
}

func TestNewServerHasRouter(t *testing.T) {
	cfg := newTestConfig()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	if srv.Router() == nil {
		t.Fatal("expected non-nil Router()")
	}
}

func TestServerClose(t *testing.T) {
	cfg := newTestConfig()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}

	err = srv.Close()
	if err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestServerHealthz(t *testing.T) {
	cfg := newTestConfig()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200", rec.Code)
	}
}

func TestLoadProvidersFromFile(t *testing.T) {
	path := t.TempDir() + "/providers.json"
	catalog := `[{"id":"openai","models":[{"id":"gpt-4o-mini","input_per_1k":0.00015,"output_per_1k":0.0006,"baseline_latency_ms":900,"baseline_quality":0.7,"max_context_tokens":128000}]}]`
	if err := os.WriteFile(path, []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := newTestConfig()
	cfg.ProvidersFile = path
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	providers := srv.Providers()
	if len(providers) != 1 || providers[0].ID != "openai" {
		t.Fatalf("providers = %+v, want single openai entry", providers)
	}
	if len(providers[0].Models) != 1 || providers[0].Models[0].ID != "gpt-4o-mini" {
		t.Fatalf("models = %+v, want single gpt-4o-mini entry", providers[0].Models)
	}
}

func TestLoadProvidersBadFile(t *testing.T) {
	cfg := newTestConfig()
	cfg.ProvidersFile = t.TempDir() + "/missing.json"
	if _, err := NewServer(cfg); err == nil {
		t.Fatal("expected error for missing providers file")
	}
}

func TestSeedExperimentsFromStore(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if err := db.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	expCfg := experiment.Config{
		ID:                "exp-seed",
		Name:              "seeded",
		VariantA:          experiment.Variant{ProviderID: "openai", ModelID: "gpt-4o", Weight: 0.5},
		VariantB:          experiment.Variant{ProviderID: "openai", ModelID: "gpt-4o-mini", Weight: 0.5},
		TrafficAllocation: 1.0,
		PrimaryMetric:     experiment.MetricCost,
		MinSampleSize:     10,
		SignificanceLevel: 0.05,
	}
	cfgJSON, err := json.Marshal(expCfg)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now().UTC().Add(-time.Hour)
	if err := db.UpsertExperiment(ctx, store.ExperimentRow{
		ID:         "exp-seed",
		ConfigJSON: string(cfgJSON),
		Status:     string(experiment.StatusRunning),
		StartTime:  &start,
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveAssignment(ctx, store.AssignmentRow{
		ExperimentID: "exp-seed",
		UserID:       "alice",
		Variant:      "B",
		AssignedAt:   start,
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveExperimentResult(ctx, store.ResultRow{
		ID:           "res-1",
		ExperimentID: "exp-seed",
		Variant:      "B",
		CostUSD:      0.001,
		Success:      true,
		Timestamp:    start,
	}); err != nil {
		t.Fatal(err)
	}

	reg := experiment.NewRegistry()
	seedExperiments(reg, db, slog.New(slog.NewTextHandler(io.Discard, nil)))

	exp, err := reg.Get("exp-seed")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if exp.Status != experiment.StatusRunning {
		t.Errorf("Status = %q, want running", exp.Status)
	}
	results, err := reg.Results("exp-seed")
	if err != nil {
		t.Fatalf("Results() error: %v", err)
	}
	if len(results) != 1 || results[0].Variant != "B" {
		t.Fatalf("results = %+v, want one variant B result", results)
	}

	// The persisted assignment must stay sticky after reseeding.
	label, variant := reg.AssignVariant("exp-seed", "alice")
	if label != "B" {
		t.Errorf("assignment = %q, want B", label)
	}
	if variant.ModelID != "gpt-4o-mini" {
		t.Errorf("variant model = %q, want gpt-4o-mini", variant.ModelID)
	}
}
