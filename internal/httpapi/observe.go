package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/routemind/routemind/internal/events"
	"github.com/routemind/routemind/internal/routing"
	"github.com/routemind/routemind/internal/stats"
	"github.com/routemind/routemind/internal/store"
)

// jsonError writes a JSON-encoded error response with the given status code.
// Response body format: {"error": "<msg>"}
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// warnOnErr logs a warning if a background store operation fails.
// Used for persistence writes that should not block the response but whose
// failures must be visible.
func warnOnErr(op string, err error) {
	if err != nil {
		slog.Warn("store operation failed", slog.String("op", op), slog.String("error", err.Error()))
	}
}

// observeDecision records a routing decision across the Metrics, EventBus,
// and Stats subsystems. All nil-safe: each subsystem is skipped when the
// corresponding dependency is nil.
func observeDecision(d Dependencies, goal string, features routing.RequestFeatures, dec routing.RouteDecision) {
	if d.Metrics != nil {
		d.Metrics.RouteDecisions.WithLabelValues(goal, dec.ModelID, dec.ProviderID).Inc()
		if dec.Fallback {
			d.Metrics.RouteFallbacks.Inc()
		}
	}
	if d.EventBus != nil {
		d.EventBus.Publish(events.Event{
			Type:       events.EventRouteDecision,
			ProviderID: dec.ProviderID,
			ModelID:    dec.ModelID,
			Goal:       goal,
			CostUSD:    dec.Predicted.CostUSD,
			LatencyMs:  dec.Predicted.LatencyMs,
			Quality:    dec.Predicted.Quality,
			Confidence: dec.Confidence,
			Fallback:   dec.Fallback,
		})
	}
	if d.Stats != nil {
		d.Stats.Record(stats.Snapshot{
			ModelID:         dec.ModelID,
			ProviderID:      dec.ProviderID,
			Goal:            goal,
			RequestType:     string(features.Type),
			CostUSD:         dec.Predicted.CostUSD,
			LatencyMs:       dec.Predicted.LatencyMs,
			Quality:         dec.Predicted.Quality,
			Confidence:      dec.Confidence,
			Fallback:        dec.Fallback,
			Success:         true,
			EstimatedTokens: features.EstimatedTokens,
		})
	}
}

// observeLearning records an executed request outcome: metrics, event bus,
// and the durable performance row the ledger is reseeded from on restart.
func observeLearning(ctx context.Context, d Dependencies, features routing.RequestFeatures, report routing.ExecutionReport, quality float64) {
	if d.Metrics != nil {
		d.Metrics.LearningEvents.WithLabelValues(report.ModelID, report.ProviderID).Inc()
		d.Metrics.RequestLatency.WithLabelValues(report.ModelID, report.ProviderID).Observe(report.ResponseTimeMs)
		d.Metrics.CostUSD.WithLabelValues(report.ModelID, report.ProviderID).Add(report.CostUSD)
	}
	if d.EventBus != nil {
		d.EventBus.Publish(events.Event{
			Type:       events.EventLearningRecorded,
			ProviderID: report.ProviderID,
			ModelID:    report.ModelID,
			CostUSD:    report.CostUSD,
			LatencyMs:  report.ResponseTimeMs,
			Quality:    quality,
		})
	}
	if d.Store != nil {
		warnOnErr("save_performance_record", d.Store.SavePerformanceRecord(ctx, store.PerformanceRow{
			Timestamp:       time.Now().UTC(),
			ProviderID:      report.ProviderID,
			ModelID:         report.ModelID,
			RequestType:     string(features.Type),
			Complexity:      features.Complexity,
			EstimatedTokens: features.EstimatedTokens,
			CostUSD:         report.CostUSD,
			LatencyMs:       report.ResponseTimeMs,
			Quality:         quality,
		}))
	}
}
