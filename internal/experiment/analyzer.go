package experiment

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/routemind/routemind/internal/events"
)

// Analyze runs the statistical comparison for one experiment and stores it
// as the experiment's latest analysis. With fewer than MinSampleSize results
// in either arm it returns an insufficient_data analysis rather than a
// spurious verdict. When the auto-stop policy is enabled and the primary
// metric reaches a significant winner at or above the winner threshold, the
// experiment is completed as a side effect.
//
// Improvement is direction-aware: for cost and responseTime a LOWER variant
// B mean counts as positive improvement, so choose_variant_b means "B is
// better", never "B is bigger".
func (r *Registry) Analyze(id string) (*Analysis, error) {
	// Snapshot under the lock, compute outside it. The comparison walks up
	// to resultCap results, and route/learn must not wait behind it.
	r.mu.RLock()
	st, ok := r.experiments[id]
	if !ok {
		r.mu.RUnlock()
		return nil, &NotFoundError{ID: id}
	}
	cfg := st.cfg
	results := append([]Result(nil), st.results...)
	r.mu.RUnlock()

	a := computeAnalysis(cfg, results, r.now().UTC())

	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok = r.experiments[id]
	if !ok {
		// Deleted while computing.
		return nil, &NotFoundError{ID: id}
	}
	st.lastAnalysis = &a
	st.resultsSinceAnalysis = 0

	slog.Info("experiment analyzed",
		slog.String("experiment", id),
		slog.String("status", string(a.Status)),
		slog.String("recommendation", string(a.Recommendation)),
		slog.Float64("p_value", a.Primary.PValue))
	r.publish(events.Event{
		Type:           events.EventExperimentAnalyzed,
		ExperimentID:   id,
		Recommendation: string(a.Recommendation),
		Reason:         a.Reason,
		Confidence:     a.Primary.Confidence,
	})

	if st.status == StatusRunning &&
		st.cfg.AutoStop.Enabled &&
		a.Status == AnalysisOK &&
		a.Recommendation != RecommendContinue &&
		a.Primary.Significant &&
		a.Primary.Confidence >= st.cfg.AutoStop.WinnerThreshold {
		r.completeLocked(st, fmt.Sprintf("auto-stop: %s at confidence %.3f",
			a.Recommendation, a.Primary.Confidence))
	}

	cp := a
	return &cp, nil
}

func computeAnalysis(cfg Config, results []Result, now time.Time) Analysis {
	a := Analysis{
		ExperimentID: cfg.ID,
		ComputedAt:   now,
	}

	var countA, countB int
	for _, res := range results {
		if res.Variant == "A" {
			countA++
		} else {
			countB++
		}
	}
	if countA < cfg.MinSampleSize || countB < cfg.MinSampleSize {
		a.Status = AnalysisInsufficientData
		a.Recommendation = RecommendContinue
		a.Reason = fmt.Sprintf("need %d samples per variant, have A=%d B=%d",
			cfg.MinSampleSize, countA, countB)
		a.Primary = MetricAnalysis{Metric: cfg.PrimaryMetric, SamplesA: countA, SamplesB: countB}
		return a
	}

	a.Status = AnalysisOK
	a.Primary = compareMetric(cfg.PrimaryMetric, results, cfg.SignificanceLevel)
	if len(cfg.SecondaryMetrics) > 0 {
		a.Secondary = make(map[Metric]MetricAnalysis, len(cfg.SecondaryMetrics))
		for _, m := range cfg.SecondaryMetrics {
			a.Secondary[m] = compareMetric(m, results, cfg.SignificanceLevel)
		}
	}

	p := a.Primary
	switch {
	case !p.Significant:
		a.Recommendation = RecommendContinue
		a.Reason = fmt.Sprintf("%s difference not significant (p=%.4f)", p.Metric, p.PValue)
	case p.PercentImprovement > 0:
		a.Recommendation = RecommendVariantB
		a.Reason = fmt.Sprintf("variant B improves %s by %.1f%% (p=%.4f)",
			p.Metric, p.PercentImprovement, p.PValue)
	case p.PercentImprovement < 0:
		a.Recommendation = RecommendVariantA
		a.Reason = fmt.Sprintf("variant A is better on %s by %.1f%% (p=%.4f)",
			p.Metric, -p.PercentImprovement, p.PValue)
	default:
		a.Recommendation = RecommendContinue
		a.Reason = "no measurable difference between variants"
	}
	return a
}

// compareMetric runs Welch's two-sample t-test for one metric. Records that
// do not carry the metric (nil satisfaction, nil accuracy) are excluded from
// that metric's samples.
func compareMetric(m Metric, results []Result, significance float64) MetricAnalysis {
	var samplesA, samplesB []float64
	for _, res := range results {
		v, ok := metricValue(m, res)
		if !ok {
			continue
		}
		if res.Variant == "A" {
			samplesA = append(samplesA, v)
		} else {
			samplesB = append(samplesB, v)
		}
	}

	ma := MetricAnalysis{
		Metric:   m,
		SamplesA: len(samplesA),
		SamplesB: len(samplesB),
	}
	if len(samplesA) < 2 || len(samplesB) < 2 {
		return ma
	}

	ma.MeanA = mean(samplesA)
	ma.MeanB = mean(samplesB)
	ma.StdDevA = sampleStdDev(samplesA, ma.MeanA)
	ma.StdDevB = sampleStdDev(samplesB, ma.MeanB)
	ma.Effect = ma.MeanB - ma.MeanA

	// Direction-aware improvement: lower cost or latency is better.
	if ma.MeanA != 0 {
		imp := ma.Effect / ma.MeanA * 100
		if m.lowerIsBetter() {
			imp = -imp
		}
		ma.PercentImprovement = imp
	}

	// Welch's t statistic with the Welch-Satterthwaite degrees of freedom.
	varA := ma.StdDevA * ma.StdDevA
	varB := ma.StdDevB * ma.StdDevB
	seA := varA / float64(len(samplesA))
	seB := varB / float64(len(samplesB))
	se := math.Sqrt(seA + seB)
	if se == 0 {
		// Identical constant samples: no evidence either way.
		ma.PValue = 1
		return ma
	}
	ma.TStat = ma.Effect / se
	ma.DegreesOfFreedom = (seA + seB) * (seA + seB) /
		(seA*seA/float64(len(samplesA)-1) + seB*seB/float64(len(samplesB)-1))

	ma.PValue = approxPValue(math.Abs(ma.TStat))
	ma.Confidence = 1 - ma.PValue
	ma.Significant = ma.PValue < significance

	// 95% interval for the raw effect at fixed z=1.96; adequate for the
	// sample sizes experiments run at.
	ma.CILow = ma.Effect - 1.96*se
	ma.CIHigh = ma.Effect + 1.96*se
	return ma
}

// metricValue extracts one metric from a result. The switch is exhaustive
// over the Metric enum.
func metricValue(m Metric, res Result) (float64, bool) {
	switch m {
	case MetricCost:
		return res.CostUSD, true
	case MetricResponseTime:
		return res.ResponseTimeMs, true
	case MetricQuality:
		return res.Quality, true
	case MetricAccuracy:
		if res.Accuracy == nil {
			return 0, false
		}
		return res.Accuracy.mean(), true
	case MetricUserSatisfaction:
		if res.Satisfaction == nil {
			return 0, false
		}
		return *res.Satisfaction, true
	}
	return 0, false
}

// approxPValue maps an absolute t statistic to a two-tailed p-value using
// fixed normal-approximation thresholds. Coarse, but the experiment arms are
// large enough that the t distribution is effectively normal.
func approxPValue(absT float64) float64 {
	switch {
	case absT < 1.96:
		return 0.05
	case absT < 2.58:
		return 0.01
	case absT < 3.29:
		return 0.001
	default:
		return 0.0001
	}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStdDev is the N-1 (Bessel-corrected) standard deviation.
func sampleStdDev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
