package store

import (
	"context"
	"time"
)

// Store defines the persistence interface for routemind. The routing ledger
// and experiment registry are in-memory authorities; the store seeds them at
// startup and absorbs writes so learned state survives restarts.
type Store interface {
	// Performance ledger
	SavePerformanceRecord(ctx context.Context, rec PerformanceRow) error
	ListPerformanceRecords(ctx context.Context, limit int) ([]PerformanceRow, error)

	// Experiments
	UpsertExperiment(ctx context.Context, exp ExperimentRow) error
	ListExperiments(ctx context.Context) ([]ExperimentRow, error)
	DeleteExperiment(ctx context.Context, id string) error

	// Experiment results
	SaveExperimentResult(ctx context.Context, res ResultRow) error
	ListExperimentResults(ctx context.Context, experimentID string, limit int) ([]ResultRow, error)

	// Sticky variant assignments
	SaveAssignment(ctx context.Context, a AssignmentRow) error
	ListAssignments(ctx context.Context, experimentID string) ([]AssignmentRow, error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// PerformanceRow is the persisted form of one learned execution outcome.
type PerformanceRow struct {
	ID              int64     `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	ProviderID      string    `json:"provider_id"`
	ModelID         string    `json:"model_id"`
	RequestType     string    `json:"request_type"`
	Complexity      float64   `json:"complexity"`
	EstimatedTokens int       `json:"estimated_tokens"`
	CostUSD         float64   `json:"cost_usd"`
	LatencyMs       float64   `json:"latency_ms"`
	Quality         float64   `json:"quality"`
}

// ExperimentRow is the persisted form of an experiment definition and its
// lifecycle state. The config is stored as an opaque JSON blob so schema
// changes in the config do not require migrations.
type ExperimentRow struct {
	ID         string     `json:"id"`
	ConfigJSON string     `json:"config_json"`
	Status     string     `json:"status"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
}

// ResultRow is the persisted form of one experiment result.
type ResultRow struct {
	ID             string    `json:"id"`
	ExperimentID   string    `json:"experiment_id"`
	Variant        string    `json:"variant"`
	CostUSD        float64   `json:"cost_usd"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	Quality        float64   `json:"quality"`
	AccuracyJSON   string    `json:"accuracy_json,omitempty"`
	Satisfaction   *float64  `json:"satisfaction,omitempty"`
	Success        bool      `json:"success"`
	Timestamp      time.Time `json:"timestamp"`
}

// AssignmentRow records a sticky variant assignment.
type AssignmentRow struct {
	ExperimentID string    `json:"experiment_id"`
	UserID       string    `json:"user_id"`
	Variant      string    `json:"variant"`
	AssignedAt   time.Time `json:"assigned_at"`
}
