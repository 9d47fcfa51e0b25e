package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StatsResponse is returned by the /v1/stats endpoint.
type StatsResponse struct {
	Global     any `json:"global"`
	ByModel    any `json:"by_model"`
	ByProvider any `json:"by_provider"`
	ByGoal     any `json:"by_goal"`
}

// StatsHandler returns aggregated dashboard stats from the stats collector.
func StatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Stats == nil {
			_ = json.NewEncoder(w).Encode(StatsResponse{
				Global:     []any{},
				ByModel:    map[string]any{},
				ByProvider: map[string]any{},
				ByGoal:     map[string]any{},
			})
			return
		}

		_ = json.NewEncoder(w).Encode(StatsResponse{
			Global:     d.Stats.Global(),
			ByModel:    d.Stats.Summary(),
			ByProvider: d.Stats.SummaryByProvider(),
			ByGoal:     d.Stats.SummaryByGoal(),
		})
	}
}

// PatternsHandler returns a user's learned request patterns from the
// engine's ledger.
func PatternsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		patterns := d.Engine.Ledger().UserPatterns(userID)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id":  userID,
			"patterns": patterns,
		})
	}
}
