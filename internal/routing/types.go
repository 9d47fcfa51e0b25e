package routing

import "time"

// RequestType classifies an inbound request for prediction bucketing.
type RequestType string

const (
	TypeSimpleChat       RequestType = "simple_chat"
	TypeComplexReasoning RequestType = "complex_reasoning"
	TypeCodeGeneration   RequestType = "code_generation"
	TypeCreativeWriting  RequestType = "creative_writing"
	TypeAnalysis         RequestType = "analysis"
	TypeOther            RequestType = "other"
)

// Message is one turn of a chat-style request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the provider-agnostic envelope the decision core operates on.
// The host application translates this into provider-specific API calls after
// a decision is made; the core never performs network I/O.
type Request struct {
	ID       string    `json:"id,omitempty"`
	Messages []Message `json:"messages"`

	// Capabilities the caller declares it needs (e.g. "vision", "tools").
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`

	// Optional: known/estimated token count from the client.
	EstimatedInputTokens int `json:"estimated_input_tokens,omitempty"`
}

// RequestFeatures is the derived feature vector for one request. Computed
// fresh per request and snapshotted into PerformanceRecords; never stored
// standalone.
type RequestFeatures struct {
	EstimatedTokens int         `json:"estimated_tokens"`
	Complexity      float64     `json:"complexity"` // 0-1
	Type            RequestType `json:"type"`
	PatternID       string      `json:"pattern_id"` // hash of user + request type
}

// ModelSpec describes one model a provider offers, including the static
// baseline estimates the predictor falls back to when history is thin.
type ModelSpec struct {
	ID                string  `json:"id"`
	InputPer1K        float64 `json:"input_per_1k"`
	OutputPer1K       float64 `json:"output_per_1k"`
	BaselineLatencyMs float64 `json:"baseline_latency_ms"`
	BaselineQuality   float64 `json:"baseline_quality"` // 0-1
	MaxContextTokens  int     `json:"max_context_tokens"`
	Capabilities      []string `json:"capabilities,omitempty"`
}

// Provider is an upstream AI vendor with its available models. Declaration
// order matters: it is the final tie-breaker in candidate ranking.
type Provider struct {
	ID     string      `json:"id"`
	Models []ModelSpec `json:"models"`
}

// Objective names the optimization goal for a route call.
type Objective string

const (
	ObjectiveCost     Objective = "cost"
	ObjectiveSpeed    Objective = "speed"
	ObjectiveQuality  Objective = "quality"
	ObjectiveBalanced Objective = "balanced"
)

// RouteOptions carries the caller's optimization goal and hard constraints.
// Zero values mean "unconstrained".
type RouteOptions struct {
	OptimizeFor       Objective `json:"optimize_for,omitempty"`
	MaxCostUSD        float64   `json:"max_cost_usd,omitempty"`
	MinQuality        float64   `json:"min_quality,omitempty"`
	MaxResponseTimeMs float64   `json:"max_response_time_ms,omitempty"`
}

// Prediction is the predictor's estimate for one candidate.
type Prediction struct {
	CostUSD    float64 `json:"cost_usd"`
	LatencyMs  float64 `json:"latency_ms"`
	Quality    float64 `json:"quality"`
	Confidence float64 `json:"confidence"` // 0-1, 0 = baseline only
	Samples    int     `json:"samples"`
}

// RejectedCandidate records why a provider/model pair was not chosen.
type RejectedCandidate struct {
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
	Reason     string `json:"reason"`
}

// RouteDecision is the immutable output of a route call.
type RouteDecision struct {
	ProviderID string              `json:"provider_id"`
	ModelID    string              `json:"model_id"`
	Predicted  Prediction          `json:"predicted"`
	Confidence float64             `json:"confidence"`
	Reasoning  string              `json:"reasoning"`
	Rejected   []RejectedCandidate `json:"rejected,omitempty"`
	Fallback   bool                `json:"fallback"`
	Features   RequestFeatures     `json:"features"`
}

// PerformanceRecord is one completed-request observation in the ledger.
// Never mutated after creation; destroyed only by eviction.
type PerformanceRecord struct {
	ProviderID string          `json:"provider_id"`
	ModelID    string          `json:"model_id"`
	Features   RequestFeatures `json:"features"`
	CostUSD    float64         `json:"cost_usd"`
	LatencyMs  float64         `json:"latency_ms"`
	Quality    float64         `json:"quality"` // 0-1
	Timestamp  time.Time       `json:"timestamp"`
}

// UserPattern aggregates a user's observed behavior per request type.
// Lifetime is the process unless persisted externally.
type UserPattern struct {
	PatternID          string              `json:"pattern_id"`
	UserID             string              `json:"user_id"`
	RequestsByType     map[RequestType]int `json:"requests_by_type"`
	RequestsByProvider map[string]int      `json:"requests_by_provider"`
	CostSavedUSD       float64             `json:"cost_saved_usd"`
	LastSeen           time.Time           `json:"last_seen"`
}

// ExecutionReport carries the actual outcome of an executed request back into
// the learning loop. Cost is supplied by the caller, which owns the provider
// cost accounting.
type ExecutionReport struct {
	ProviderID     string   `json:"provider_id"`
	ModelID        string   `json:"model_id"`
	Response       string   `json:"response"`
	ResponseTimeMs float64  `json:"response_time_ms"`
	CostUSD        float64  `json:"cost_usd"`
	Satisfaction   *float64 `json:"satisfaction,omitempty"` // 0-1 if reported
}
