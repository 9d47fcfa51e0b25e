package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/routemind/routemind/internal/experiment"
	"github.com/routemind/routemind/internal/store"
)

// writeExperimentError maps the experiment package's typed errors onto HTTP
// status codes: validation 400, unknown id 404, lifecycle conflicts and
// duplicates 409.
func writeExperimentError(w http.ResponseWriter, err error) {
	var (
		verr *experiment.ValidationError
		nerr *experiment.NotFoundError
		serr *experiment.InvalidStateError
		derr *experiment.DuplicateError
	)
	switch {
	case errors.As(err, &verr):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &nerr):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &serr):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &derr):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

// persistExperiment mirrors the registry's current view of one experiment
// into the store. Best-effort; failures are logged, not raised.
func persistExperiment(r *http.Request, d Dependencies, id string) {
	if d.Store == nil {
		return
	}
	exp, err := d.Experiments.Get(id)
	if err != nil {
		return
	}
	cfgJSON, err := json.Marshal(exp.Config)
	if err != nil {
		return
	}
	warnOnErr("upsert_experiment", d.Store.UpsertExperiment(r.Context(), store.ExperimentRow{
		ID:         exp.Config.ID,
		ConfigJSON: string(cfgJSON),
		Status:     string(exp.Status),
		StartTime:  exp.StartTime,
		EndTime:    exp.EndTime,
		StopReason: exp.StopReason,
	}))
}

func ExperimentCreateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg experiment.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := d.Experiments.Create(cfg); err != nil {
			writeExperimentError(w, err)
			return
		}
		persistExperiment(r, d, cfg.ID)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": cfg.ID, "status": string(experiment.StatusDraft)})
	}
}

func ExperimentListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		exps := d.Experiments.List()
		if exps == nil {
			exps = []experiment.Experiment{}
		}
		_ = json.NewEncoder(w).Encode(exps)
	}
}

func ExperimentGetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exp, err := d.Experiments.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeExperimentError(w, err)
			return
		}
		_ = json.NewEncoder(w).Encode(exp)
	}
}

// ExperimentLifecycleHandler handles start, pause, and resume.
func ExperimentLifecycleHandler(d Dependencies, op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var err error
		switch op {
		case "start":
			err = d.Experiments.Start(id)
		case "pause":
			err = d.Experiments.Pause(id)
		case "resume":
			err = d.Experiments.Resume(id)
		}
		if err != nil {
			writeExperimentError(w, err)
			return
		}
		persistExperiment(r, d, id)
		exp, _ := d.Experiments.Get(id)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "status": string(exp.Status)})
	}
}

func ExperimentStopHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Reason == "" {
			body.Reason = "stopped via api"
		}
		if err := d.Experiments.Stop(id, body.Reason); err != nil {
			writeExperimentError(w, err)
			return
		}
		persistExperiment(r, d, id)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "status": string(experiment.StatusStopped)})
	}
}

// ExperimentDeleteHandler removes an experiment from the registry and the
// store, results and assignments included.
func ExperimentDeleteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := d.Experiments.Delete(id); err != nil {
			writeExperimentError(w, err)
			return
		}
		if d.Store != nil {
			warnOnErr("delete_experiment", d.Store.DeleteExperiment(r.Context(), id))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "deleted": true})
	}
}

// ExperimentResultHandler records a result directly, for callers that manage
// execution themselves instead of going through /v1/learn.
func ExperimentResultHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var res experiment.Result
		if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if res.ID == "" {
			res.ID = uuid.NewString()
		}
		if res.Timestamp.IsZero() {
			res.Timestamp = time.Now().UTC()
		}
		if err := d.Experiments.RecordResult(id, res); err != nil {
			writeExperimentError(w, err)
			return
		}
		if d.Metrics != nil {
			d.Metrics.ExperimentResults.WithLabelValues(id, res.Variant).Inc()
		}
		if d.Store != nil {
			var accJSON string
			if res.Accuracy != nil {
				b, _ := json.Marshal(res.Accuracy)
				accJSON = string(b)
			}
			warnOnErr("save_experiment_result", d.Store.SaveExperimentResult(r.Context(), store.ResultRow{
				ID:             res.ID,
				ExperimentID:   id,
				Variant:        res.Variant,
				CostUSD:        res.CostUSD,
				ResponseTimeMs: res.ResponseTimeMs,
				Quality:        res.Quality,
				AccuracyJSON:   accJSON,
				Satisfaction:   res.Satisfaction,
				Success:        res.Success,
				Timestamp:      res.Timestamp,
			}))
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]bool{"recorded": true})
	}
}

// ExperimentAnalysisHandler runs an on-demand analysis and returns it. The
// periodic sweep keeps the stored analysis fresh; this endpoint recomputes
// so the caller always sees current data.
func ExperimentAnalysisHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		a, err := d.Experiments.Analyze(id)
		if err != nil {
			writeExperimentError(w, err)
			return
		}
		// Auto-stop may have completed the experiment; persist the state.
		persistExperiment(r, d, id)
		_ = json.NewEncoder(w).Encode(a)
	}
}
