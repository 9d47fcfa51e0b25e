package experiment

import (
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the background sweep re-analyzes
// running experiments.
const DefaultSweepInterval = 60 * time.Second

// StartSweep launches a background loop that periodically analyzes every
// running experiment that received new results since its last analysis.
// Returns a stop function; the loop exits on the next tick after stop.
func (r *Registry) StartSweep(interval time.Duration) func() {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.sweepOnce()
			}
		}
	}()
	return func() { close(stop) }
}

// sweepOnce analyzes every experiment with pending results. Analysis errors
// are logged and do not abort the sweep.
func (r *Registry) sweepOnce() {
	for _, id := range r.needsAnalysis() {
		if _, err := r.Analyze(id); err != nil {
			slog.Warn("sweep analysis failed",
				slog.String("experiment", id), slog.Any("error", err))
		}
	}
}
