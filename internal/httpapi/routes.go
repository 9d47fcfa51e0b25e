package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/routemind/routemind/internal/events"
	"github.com/routemind/routemind/internal/experiment"
	"github.com/routemind/routemind/internal/metrics"
	"github.com/routemind/routemind/internal/routing"
	"github.com/routemind/routemind/internal/stats"
	"github.com/routemind/routemind/internal/store"
)

type Dependencies struct {
	Engine      *routing.Engine
	Experiments *experiment.Registry
	Metrics     *metrics.Registry
	Store       store.Store
	EventBus    *events.Bus
	Stats       *stats.Collector

	// Providers returns the current provider catalog offered to the
	// routing engine on each request.
	Providers func() []routing.Provider
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		// Verify the system can actually route requests.
		providerCount := 0
		modelCount := 0
		if d.Providers != nil {
			provs := d.Providers()
			providerCount = len(provs)
			for _, p := range provs {
				modelCount += len(p.Models)
			}
		}
		status := "ok"
		code := http.StatusOK
		if providerCount == 0 || modelCount == 0 {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"providers": providerCount,
			"models":    modelCount,
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/route", RouteHandler(d))
		r.Post("/learn", LearnHandler(d))

		r.Post("/experiments", ExperimentCreateHandler(d))
		r.Get("/experiments", ExperimentListHandler(d))
		r.Get("/experiments/{id}", ExperimentGetHandler(d))
		r.Delete("/experiments/{id}", ExperimentDeleteHandler(d))
		r.Post("/experiments/{id}/start", ExperimentLifecycleHandler(d, "start"))
		r.Post("/experiments/{id}/pause", ExperimentLifecycleHandler(d, "pause"))
		r.Post("/experiments/{id}/resume", ExperimentLifecycleHandler(d, "resume"))
		r.Post("/experiments/{id}/stop", ExperimentStopHandler(d))
		r.Post("/experiments/{id}/results", ExperimentResultHandler(d))
		r.Get("/experiments/{id}/analysis", ExperimentAnalysisHandler(d))

		r.Get("/stats", StatsHandler(d))
		r.Get("/patterns/{userID}", PatternsHandler(d))

		if d.EventBus != nil {
			r.Get("/events", SSEHandler(d.EventBus))
		}
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}
