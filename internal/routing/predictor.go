package routing

import (
	"math"
	"time"
)

const (
	// DefaultMinSamplesForPrediction is the match count below which the
	// predictor returns static baselines with zero confidence.
	DefaultMinSamplesForPrediction = 3

	// DefaultConfidenceThreshold gates how much the router trusts a
	// prediction; below it, scoring blends toward the baseline estimates.
	DefaultConfidenceThreshold = 0.3

	// confidenceSaturation is the sample count at which confidence hits 1.0.
	confidenceSaturation = 10
)

// PredictorConfig tunes the learned-prediction behavior.
type PredictorConfig struct {
	MinSamples          int
	ConfidenceThreshold float64
	// RecencyHalfLife is the age at which a record's weight halves.
	RecencyHalfLife time.Duration
}

// DefaultPredictorConfig returns the standard tuning.
func DefaultPredictorConfig() PredictorConfig {
	return PredictorConfig{
		MinSamples:          DefaultMinSamplesForPrediction,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		RecencyHalfLife:     6 * time.Hour,
	}
}

// Predictor estimates cost/latency/quality for a candidate from ledger
// history, weighting matches by recency and feature similarity.
type Predictor struct {
	cfg    PredictorConfig
	ledger *Ledger
	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewPredictor creates a predictor over the given ledger.
func NewPredictor(cfg PredictorConfig, ledger *Ledger) *Predictor {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamplesForPrediction
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = 6 * time.Hour
	}
	return &Predictor{cfg: cfg, ledger: ledger, now: time.Now}
}

// ConfidenceThreshold exposes the configured reliability gate.
func (p *Predictor) ConfidenceThreshold() float64 { return p.cfg.ConfidenceThreshold }

// Predict returns the expected cost/latency/quality for running features f on
// the given provider/model, with a confidence proportional to the amount of
// matching history. With fewer than MinSamples matches it returns the static
// baseline with confidence 0.
func (p *Predictor) Predict(f RequestFeatures, providerID string, m ModelSpec) Prediction {
	matches := p.ledger.Match(providerID, m.ID)
	if len(matches) < p.cfg.MinSamples {
		return p.Baseline(f, m)
	}

	now := p.now()
	var wSum, cost, latency, quality float64
	for _, rec := range matches {
		w := p.recencyWeight(now.Sub(rec.Timestamp)) * similarity(f, rec.Features)
		wSum += w
		cost += w * rec.CostUSD
		latency += w * rec.LatencyMs
		quality += w * rec.Quality
	}
	if wSum <= 0 {
		return p.Baseline(f, m)
	}

	confidence := float64(len(matches)) / confidenceSaturation
	if confidence > 1 {
		confidence = 1
	}
	return Prediction{
		CostUSD:    cost / wSum,
		LatencyMs:  latency / wSum,
		Quality:    quality / wSum,
		Confidence: confidence,
		Samples:    len(matches),
	}
}

// Baseline returns the static estimate for a model: cost from the published
// per-token pricing (assuming ~512 output tokens, matching the cost estimator
// used at decision time), latency and quality from the catalog entry.
func (p *Predictor) Baseline(f RequestFeatures, m ModelSpec) Prediction {
	lat := m.BaselineLatencyMs
	if lat <= 0 {
		lat = 1500
	}
	q := m.BaselineQuality
	if q <= 0 {
		q = 0.7
	}
	return Prediction{
		CostUSD:   estimateCostUSD(f.EstimatedTokens, 512, m.InputPer1K, m.OutputPer1K),
		LatencyMs: lat,
		Quality:   q,
		// Confidence stays 0: nothing observed yet.
	}
}

// recencyWeight decays exponentially with record age; floored so very old
// records still contribute a little instead of vanishing.
func (p *Predictor) recencyWeight(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	w := math.Pow(0.5, age.Seconds()/p.cfg.RecencyHalfLife.Seconds())
	if w < 0.05 {
		w = 0.05
	}
	return w
}

// similarity scores how closely a historical record's features match the
// query: request-type identity dominates, complexity distance refines.
func similarity(query, rec RequestFeatures) float64 {
	typeScore := 0.2
	if query.Type == rec.Type {
		typeScore = 0.5
	}
	complexityScore := (1 - math.Abs(query.Complexity-rec.Complexity)) * 0.5
	return typeScore + complexityScore
}

func estimateCostUSD(inTokens, outTokens int, inPer1K, outPer1K float64) float64 {
	return (float64(inTokens)/1000.0)*inPer1K + (float64(outTokens)/1000.0)*outPer1K
}
