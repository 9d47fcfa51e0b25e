package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/routemind/routemind/internal/experiment"
	"github.com/routemind/routemind/internal/routing"
	"github.com/routemind/routemind/internal/store"
)

// RouteRequest is the JSON body for the /v1/route endpoint.
type RouteRequest struct {
	UserID  string               `json:"user_id"`
	Segment string               `json:"segment,omitempty"`
	Request routing.Request      `json:"request"`
	Options routing.RouteOptions `json:"options"`
}

// RouteResponse is the JSON body returned by the /v1/route endpoint. When
// the request was enrolled in an experiment, ExperimentID and Variant name
// the enrollment and the decision reflects the variant's provider/model.
type RouteResponse struct {
	ProviderID   string                     `json:"provider_id"`
	ModelID      string                     `json:"model_id"`
	Predicted    routing.Prediction         `json:"predicted"`
	Confidence   float64                    `json:"confidence"`
	Reasoning    string                     `json:"reasoning"`
	Fallback     bool                       `json:"fallback,omitempty"`
	Rejected     []routing.RejectedCandidate `json:"rejected,omitempty"`
	ExperimentID string                     `json:"experiment_id,omitempty"`
	Variant      string                     `json:"variant,omitempty"`
}

func RouteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RouteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if len(req.Request.Messages) == 0 {
			jsonError(w, "messages required", http.StatusBadRequest)
			return
		}

		var providers []routing.Provider
		if d.Providers != nil {
			providers = d.Providers()
		}

		features := routing.ExtractFeatures(req.Request, req.UserID)

		// A running experiment can claim the request before normal routing.
		// The decision still flows through the engine so predictions and
		// reasoning describe the variant's model.
		expID, variant := enrollInExperiment(d, req.UserID, string(features.Type), req.Segment)
		if expID != "" {
			providers = filterToVariant(providers, variant)
		}

		dec := d.Engine.Route(r.Context(), req.Request, req.UserID, providers, req.Options)
		goal := string(req.Options.OptimizeFor)
		if goal == "" {
			goal = string(routing.ObjectiveBalanced)
		}
		observeDecision(d, goal, dec.Features, dec)

		resp := RouteResponse{
			ProviderID: dec.ProviderID,
			ModelID:    dec.ModelID,
			Predicted:  dec.Predicted,
			Confidence: dec.Confidence,
			Reasoning:  dec.Reasoning,
			Fallback:   dec.Fallback,
			Rejected:   dec.Rejected,
		}
		if expID != "" {
			resp.ExperimentID = expID
			resp.Variant = variantLabel(d, expID, req.UserID)
			if d.Store != nil {
				warnOnErr("save_assignment", d.Store.SaveAssignment(r.Context(), store.AssignmentRow{
					ExperimentID: expID,
					UserID:       req.UserID,
					Variant:      resp.Variant,
					AssignedAt:   time.Now().UTC(),
				}))
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// enrollInExperiment checks every experiment for participation and returns
// the first running experiment that claims the request, with the assigned
// variant. Returns ("", zero) when no experiment applies.
func enrollInExperiment(d Dependencies, userID, requestType, segment string) (string, experiment.Variant) {
	if d.Experiments == nil {
		return "", experiment.Variant{}
	}
	for _, exp := range d.Experiments.List() {
		if exp.Status != experiment.StatusRunning {
			continue
		}
		if !d.Experiments.ShouldParticipate(exp.Config.ID, requestType, segment) {
			continue
		}
		_, v := d.Experiments.AssignVariant(exp.Config.ID, userID)
		if v.ProviderID == "" {
			continue
		}
		return exp.Config.ID, v
	}
	return "", experiment.Variant{}
}

func variantLabel(d Dependencies, expID, userID string) string {
	label, _ := d.Experiments.AssignVariant(expID, userID)
	return label
}

// filterToVariant narrows the provider catalog to the variant's single
// provider/model so the engine's prediction and constraint machinery still
// runs, but the outcome is the experiment's choice.
func filterToVariant(providers []routing.Provider, v experiment.Variant) []routing.Provider {
	for _, p := range providers {
		if p.ID != v.ProviderID {
			continue
		}
		for _, m := range p.Models {
			if m.ID == v.ModelID {
				return []routing.Provider{{ID: p.ID, Models: []routing.ModelSpec{m}}}
			}
		}
	}
	// Variant not in the catalog: route with just its identity so the
	// decision still names it.
	return []routing.Provider{{ID: v.ProviderID, Models: []routing.ModelSpec{{ID: v.ModelID}}}}
}

// LearnRequest is the JSON body for the /v1/learn endpoint.
type LearnRequest struct {
	UserID  string                  `json:"user_id"`
	Request routing.Request         `json:"request"`
	Report  routing.ExecutionReport `json:"report"`

	// Set when the original route decision enrolled the request in an
	// experiment; the outcome then also feeds that experiment.
	ExperimentID string `json:"experiment_id,omitempty"`
	Variant      string `json:"variant,omitempty"`
}

func LearnHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LearnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Report.ProviderID == "" || req.Report.ModelID == "" {
			jsonError(w, "report.provider_id and report.model_id required", http.StatusBadRequest)
			return
		}

		features := routing.ExtractFeatures(req.Request, req.UserID)
		quality := routing.ActualQuality(req.Report.Response, features)

		d.Engine.LearnFromExecution(req.Request, req.UserID, req.Report)
		observeLearning(r.Context(), d, features, req.Report, quality)

		if req.ExperimentID != "" && d.Experiments != nil {
			res := experiment.Result{
				ID:             uuid.NewString(),
				Variant:        req.Variant,
				CostUSD:        req.Report.CostUSD,
				ResponseTimeMs: req.Report.ResponseTimeMs,
				Quality:        quality,
				Satisfaction:   req.Report.Satisfaction,
				Success:        true,
				Timestamp:      time.Now().UTC(),
			}
			if err := d.Experiments.RecordResult(req.ExperimentID, res); err != nil {
				writeExperimentError(w, err)
				return
			}
			if d.Metrics != nil {
				d.Metrics.ExperimentResults.WithLabelValues(req.ExperimentID, req.Variant).Inc()
			}
			if d.Store != nil {
				warnOnErr("save_experiment_result", d.Store.SaveExperimentResult(r.Context(), store.ResultRow{
					ID:             res.ID,
					ExperimentID:   req.ExperimentID,
					Variant:        res.Variant,
					CostUSD:        res.CostUSD,
					ResponseTimeMs: res.ResponseTimeMs,
					Quality:        res.Quality,
					Satisfaction:   res.Satisfaction,
					Success:        res.Success,
					Timestamp:      res.Timestamp,
				}))
			}
		}

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"recorded": true,
			"quality":  quality,
		})
	}
}
