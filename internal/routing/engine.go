package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// goalWeights defines the scoring coefficients for an optimization goal.
// Higher score = better candidate.
type goalWeights struct {
	Cost    float64
	Latency float64
	Quality float64
}

// goalWeightProfiles maps optimization goals to scoring coefficients. The
// dominant term gets 0.9 with small tie-breaker weights on the others;
// balanced is equal thirds.
var goalWeightProfiles = map[Objective]goalWeights{
	ObjectiveCost:     {Cost: 0.9, Latency: 0.05, Quality: 0.05},
	ObjectiveSpeed:    {Cost: 0.05, Latency: 0.9, Quality: 0.05},
	ObjectiveQuality:  {Cost: 0.05, Latency: 0.05, Quality: 0.9},
	ObjectiveBalanced: {Cost: 1.0 / 3, Latency: 1.0 / 3, Quality: 1.0 / 3},
}

// scoreEpsilon is the tolerance below which two candidate scores tie and the
// deterministic tie-breakers (confidence, then declaration order) apply.
const scoreEpsilon = 1e-9

// EngineConfig configures the routing engine.
type EngineConfig struct {
	MaxLearningData  int
	Predictor        PredictorConfig
	DefaultObjective Objective

	// BaselineCostUSD is the per-request reference cost used for the
	// cost-saved-vs-baseline pattern aggregate.
	BaselineCostUSD float64

	// Deterministic fail-open default when every candidate is eliminated
	// and no provider list is available.
	FallbackProviderID string
	FallbackModelID    string
}

// Engine is the routing decision engine. It is stateless per call except for
// the ledger and pattern store it owns; each Route call is one-shot.
type Engine struct {
	cfg       EngineConfig
	ledger    *Ledger
	predictor *Predictor
}

// NewEngine creates an engine with its own ledger and predictor.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.DefaultObjective == "" {
		cfg.DefaultObjective = ObjectiveBalanced
	}
	if cfg.BaselineCostUSD <= 0 {
		cfg.BaselineCostUSD = 0.03
	}
	if cfg.FallbackProviderID == "" {
		cfg.FallbackProviderID = "openai"
		cfg.FallbackModelID = "gpt-4o-mini"
	}
	ledger := NewLedger(cfg.MaxLearningData)
	return &Engine{
		cfg:       cfg,
		ledger:    ledger,
		predictor: NewPredictor(cfg.Predictor, ledger),
	}
}

// Ledger exposes the engine's ledger for seeding and pattern queries.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// candidate is one provider/model pair under evaluation.
type candidate struct {
	providerID string
	model      ModelSpec
	pred       Prediction
	score      float64
}

// Route evaluates every available provider/model, applies the caller's hard
// constraints, and returns the top-scoring candidate for the requested
// optimization goal. It never fails: when all candidates are eliminated
// (including an empty provider list) it returns a zero-confidence fallback
// decision instead.
func (e *Engine) Route(ctx context.Context, req Request, userID string, providers []Provider, opts RouteOptions) RouteDecision {
	_ = ctx // reserved: route is a fast in-memory computation, no cancellation points

	features := ExtractFeatures(req, userID)
	goal := opts.OptimizeFor
	if goal == "" {
		goal = e.cfg.DefaultObjective
	}
	weights, ok := goalWeightProfiles[goal]
	if !ok {
		goal = ObjectiveBalanced
		weights = goalWeightProfiles[ObjectiveBalanced]
	}

	var survivors []candidate
	var rejected []RejectedCandidate

	for _, prov := range providers {
		for _, m := range prov.Models {
			if missing := missingCapability(m, req.RequiredCapabilities); missing != "" {
				rejected = append(rejected, RejectedCandidate{
					ProviderID: prov.ID, ModelID: m.ID,
					Reason: fmt.Sprintf("missing capability %q", missing),
				})
				continue
			}

			pred := e.predictor.Predict(features, prov.ID, m)
			// Unreliable predictions fall back to baseline estimates for
			// constraint checks and scoring; confidence is preserved.
			if pred.Confidence > 0 && pred.Confidence < e.predictor.ConfidenceThreshold() {
				base := e.predictor.Baseline(features, m)
				base.Confidence = pred.Confidence
				base.Samples = pred.Samples
				pred = base
			}

			if reason := violatesConstraints(pred, opts); reason != "" {
				rejected = append(rejected, RejectedCandidate{
					ProviderID: prov.ID, ModelID: m.ID, Reason: reason,
				})
				continue
			}
			survivors = append(survivors, candidate{providerID: prov.ID, model: m, pred: pred})
		}
	}

	if len(survivors) == 0 {
		return e.fallbackDecision(features, providers, rejected)
	}

	scoreCandidates(survivors, weights)

	// Pick the best score; ties break on higher confidence, then on
	// declaration order (survivors preserve it).
	best := 0
	for i := 1; i < len(survivors); i++ {
		switch {
		case survivors[i].score > survivors[best].score+scoreEpsilon:
			best = i
		case survivors[i].score > survivors[best].score-scoreEpsilon &&
			survivors[i].pred.Confidence > survivors[best].pred.Confidence+scoreEpsilon:
			best = i
		}
	}

	winner := survivors[best]
	for i, c := range survivors {
		if i == best {
			continue
		}
		rejected = append(rejected, RejectedCandidate{
			ProviderID: c.providerID, ModelID: c.model.ID,
			Reason: fmt.Sprintf("scored %.3f below %.3f", c.score, winner.score),
		})
	}

	dec := RouteDecision{
		ProviderID: winner.providerID,
		ModelID:    winner.model.ID,
		Predicted:  winner.pred,
		Confidence: winner.pred.Confidence,
		Reasoning:  buildReasoning(goal, winner, rejected),
		Rejected:   rejected,
		Features:   features,
	}

	slog.Debug("route decision",
		slog.String("provider", dec.ProviderID),
		slog.String("model", dec.ModelID),
		slog.String("goal", string(goal)),
		slog.Float64("score", winner.score),
		slog.Float64("confidence", dec.Confidence),
		slog.Int("candidates", len(survivors)+len(rejected)),
	)
	return dec
}

// LearnFromExecution records the actual outcome of an executed request into
// the ledger and pattern store. Best-effort: malformed input is logged and
// skipped, never raised, because a learning failure must not block requests.
func (e *Engine) LearnFromExecution(req Request, userID string, report ExecutionReport) {
	if report.ProviderID == "" || report.ModelID == "" {
		slog.Warn("skipping learning event with missing provider/model",
			slog.String("user", userID))
		return
	}
	if report.ResponseTimeMs < 0 || report.CostUSD < 0 {
		slog.Warn("skipping learning event with negative measurements",
			slog.String("provider", report.ProviderID),
			slog.Float64("response_time_ms", report.ResponseTimeMs),
			slog.Float64("cost_usd", report.CostUSD))
		return
	}

	features := ExtractFeatures(req, userID)
	quality := ActualQuality(report.Response, features)
	if report.Satisfaction != nil {
		sat := clamp01(*report.Satisfaction)
		quality = quality*0.7 + sat*0.3
	}

	e.ledger.Append(PerformanceRecord{
		ProviderID: report.ProviderID,
		ModelID:    report.ModelID,
		Features:   features,
		CostUSD:    report.CostUSD,
		LatencyMs:  report.ResponseTimeMs,
		Quality:    quality,
	})
	e.ledger.RecordPattern(userID, features, report.ProviderID, e.cfg.BaselineCostUSD-report.CostUSD)
}

// fallbackDecision is the fail-open path: first declared provider/model, or
// the configured default when no providers were offered at all.
func (e *Engine) fallbackDecision(features RequestFeatures, providers []Provider, rejected []RejectedCandidate) RouteDecision {
	providerID := e.cfg.FallbackProviderID
	model := ModelSpec{ID: e.cfg.FallbackModelID}
	if len(providers) > 0 && len(providers[0].Models) > 0 {
		providerID = providers[0].ID
		model = providers[0].Models[0]
	}
	pred := e.predictor.Baseline(features, model)
	pred.Confidence = 0
	return RouteDecision{
		ProviderID: providerID,
		ModelID:    model.ID,
		Predicted:  pred,
		Confidence: 0,
		Reasoning:  "fallback: no candidate met constraints",
		Rejected:   rejected,
		Fallback:   true,
		Features:   features,
	}
}

// scoreCandidates fills in the weighted-sum score for each survivor. Cost and
// latency are normalized against the candidate-set maximum so that lower
// values score higher; quality is already on [0,1].
func scoreCandidates(cands []candidate, w goalWeights) {
	var maxCost, maxLatency float64
	for _, c := range cands {
		if c.pred.CostUSD > maxCost {
			maxCost = c.pred.CostUSD
		}
		if c.pred.LatencyMs > maxLatency {
			maxLatency = c.pred.LatencyMs
		}
	}
	for i := range cands {
		p := cands[i].pred
		cands[i].score = w.Cost*(1-safeNorm(p.CostUSD, maxCost)) +
			w.Latency*(1-safeNorm(p.LatencyMs, maxLatency)) +
			w.Quality*clamp01(p.Quality)
	}
}

func violatesConstraints(p Prediction, opts RouteOptions) string {
	if opts.MaxCostUSD > 0 && p.CostUSD > opts.MaxCostUSD {
		return fmt.Sprintf("predicted cost $%.4f exceeds max $%.4f", p.CostUSD, opts.MaxCostUSD)
	}
	if opts.MaxResponseTimeMs > 0 && p.LatencyMs > opts.MaxResponseTimeMs {
		return fmt.Sprintf("predicted latency %.0fms exceeds max %.0fms", p.LatencyMs, opts.MaxResponseTimeMs)
	}
	if opts.MinQuality > 0 && p.Quality < opts.MinQuality {
		return fmt.Sprintf("predicted quality %.2f below min %.2f", p.Quality, opts.MinQuality)
	}
	return ""
}

func missingCapability(m ModelSpec, required []string) string {
	if len(required) == 0 {
		return ""
	}
	have := make(map[string]bool, len(m.Capabilities))
	for _, c := range m.Capabilities {
		have[c] = true
	}
	for _, r := range required {
		if !have[r] {
			return r
		}
	}
	return ""
}

func buildReasoning(goal Objective, winner candidate, rejected []RejectedCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "selected %s/%s for %s: predicted cost $%.4f, latency %.0fms, quality %.2f (confidence %.2f, %d samples)",
		winner.providerID, winner.model.ID, goal,
		winner.pred.CostUSD, winner.pred.LatencyMs, winner.pred.Quality,
		winner.pred.Confidence, winner.pred.Samples)
	for i, r := range rejected {
		if i >= 2 {
			break
		}
		fmt.Fprintf(&b, "; rejected %s/%s: %s", r.ProviderID, r.ModelID, r.Reason)
	}
	return b.String()
}

func safeNorm(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return clamp01(v / max)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
