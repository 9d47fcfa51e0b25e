// Package experiment implements controlled A/B experiments over routing
// strategies: a registry of experiment definitions, sticky variant
// assignment, and a statistical analyzer running Welch's two-sample t-test
// over collected results.
package experiment

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an experiment. Transitions are
// one-directional except pause/resume; stopped and completed are terminal.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
)

// terminal reports whether no further transitions are allowed.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusStopped
}

// Metric is a closed enum of measurable outcomes. Adding a metric is a
// compile-time-checked change: extraction uses an exhaustive switch.
type Metric string

const (
	MetricCost             Metric = "cost"
	MetricResponseTime     Metric = "responseTime"
	MetricQuality          Metric = "quality"
	MetricAccuracy         Metric = "accuracy"
	MetricUserSatisfaction Metric = "userSatisfaction"
)

// lowerIsBetter reports the improvement direction for a metric.
func (m Metric) lowerIsBetter() bool {
	return m == MetricCost || m == MetricResponseTime
}

func (m Metric) valid() bool {
	switch m {
	case MetricCost, MetricResponseTime, MetricQuality, MetricAccuracy, MetricUserSatisfaction:
		return true
	}
	return false
}

// Variant is one of the two routing configurations under comparison.
type Variant struct {
	ProviderID string  `json:"provider_id"`
	ModelID    string  `json:"model_id"`
	Weight     float64 `json:"weight"` // fraction of participating traffic
}

// AutoStopPolicy ends an experiment automatically once a winner is clear or
// the experiment has run too long.
type AutoStopPolicy struct {
	Enabled         bool          `json:"enabled"`
	WinnerThreshold float64       `json:"winner_threshold"` // required confidence, 0-1
	MaxDuration     time.Duration `json:"max_duration"`     // 0 = unbounded
}

// Config is the immutable definition of an experiment.
type Config struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	VariantA Variant `json:"variant_a"`
	VariantB Variant `json:"variant_b"`

	// TrafficAllocation is the fraction of eligible requests that
	// participate at all; the rest route normally.
	TrafficAllocation float64 `json:"traffic_allocation"`

	PrimaryMetric    Metric   `json:"primary_metric"`
	SecondaryMetrics []Metric `json:"secondary_metrics,omitempty"`

	MinSampleSize     int     `json:"min_sample_size"`
	SignificanceLevel float64 `json:"significance_level"`

	AutoStop AutoStopPolicy `json:"auto_stop"`

	// Optional filters; empty = match everything. Matching is exact
	// membership against these lists.
	RequestTypes []string `json:"request_types,omitempty"`
	Segments     []string `json:"segments,omitempty"`
}

// Experiment is the public snapshot of an experiment's definition and state.
type Experiment struct {
	Config     Config     `json:"config"`
	Status     Status     `json:"status"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Results    []Result   `json:"results,omitempty"`

	// Assignments maps user id to variant label. Populated only on full
	// snapshots (Get, Export).
	Assignments map[string]string `json:"assignments,omitempty"`
}

// AccuracyScores are the three per-record accuracy sub-scores; the accuracy
// metric is their mean.
type AccuracyScores struct {
	Relevance    float64 `json:"relevance"`
	Completeness float64 `json:"completeness"`
	Precision    float64 `json:"precision"`
}

func (a AccuracyScores) mean() float64 {
	return (a.Relevance + a.Completeness + a.Precision) / 3
}

// Result is one experiment-participating request outcome.
type Result struct {
	ID             string          `json:"id"`
	ExperimentID   string          `json:"experiment_id"`
	Variant        string          `json:"variant"` // "A" or "B"
	CostUSD        float64         `json:"cost_usd"`
	ResponseTimeMs float64         `json:"response_time_ms"`
	Quality        float64         `json:"quality"`
	Accuracy       *AccuracyScores `json:"accuracy,omitempty"`
	Satisfaction   *float64        `json:"satisfaction,omitempty"`
	Success        bool            `json:"success"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Recommendation is the analyzer's verdict.
type Recommendation string

const (
	RecommendContinue Recommendation = "continue_test"
	RecommendVariantA Recommendation = "choose_variant_a"
	RecommendVariantB Recommendation = "choose_variant_b"
)

// AnalysisStatus distinguishes a full analysis from the insufficient-data
// short circuit.
type AnalysisStatus string

const (
	AnalysisOK               AnalysisStatus = "ok"
	AnalysisInsufficientData AnalysisStatus = "insufficient_data"
)

// MetricAnalysis holds the two-sample comparison for one metric.
type MetricAnalysis struct {
	Metric   Metric `json:"metric"`
	SamplesA int    `json:"samples_a"`
	SamplesB int    `json:"samples_b"`

	MeanA   float64 `json:"mean_a"`
	MeanB   float64 `json:"mean_b"`
	StdDevA float64 `json:"std_dev_a"`
	StdDevB float64 `json:"std_dev_b"`

	// Effect is meanB - meanA; PercentImprovement is direction-aware
	// (positive = B better), see Analyzer docs.
	Effect             float64 `json:"effect"`
	PercentImprovement float64 `json:"percent_improvement"`

	TStat            float64 `json:"t_stat"`
	DegreesOfFreedom float64 `json:"degrees_of_freedom"`
	PValue           float64 `json:"p_value"`
	Confidence       float64 `json:"confidence"`
	Significant      bool    `json:"significant"`

	// 95% confidence interval for the raw effect (fixed z=1.96).
	CILow  float64 `json:"ci_low"`
	CIHigh float64 `json:"ci_high"`
}

// Analysis is the derived verdict for an experiment. Only the latest
// analysis per experiment is retained.
type Analysis struct {
	ExperimentID   string                    `json:"experiment_id"`
	Status         AnalysisStatus            `json:"status"`
	ComputedAt     time.Time                 `json:"computed_at"`
	Primary        MetricAnalysis            `json:"primary"`
	Secondary      map[Metric]MetricAnalysis `json:"secondary,omitempty"`
	Recommendation Recommendation            `json:"recommendation"`
	Reason         string                    `json:"reason"`
}

// Typed errors: the experiment lifecycle is fail-closed, and the host layer
// maps these onto HTTP status codes (400/404/409/409).

// ValidationError reports an invalid experiment configuration.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid experiment config: %s: %s", e.Field, e.Msg)
}

// NotFoundError reports an unknown experiment id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("experiment %q not found", e.ID)
}

// InvalidStateError reports an illegal lifecycle transition.
type InvalidStateError struct {
	ID   string
	From Status
	Op   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s experiment %q in state %s", e.Op, e.ID, e.From)
}

// DuplicateError reports an experiment id that already exists.
type DuplicateError struct {
	ID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("experiment %q already exists", e.ID)
}
