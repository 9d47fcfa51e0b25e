package experiment

import (
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/routemind/routemind/internal/events"
)

const (
	// weightEpsilon is the tolerance when checking that variant weights sum
	// to 1.
	weightEpsilon = 1e-6

	// minSampleFloor is the smallest MinSampleSize a config may declare.
	minSampleFloor = 10

	// Results are trimmed in batches rather than per-append: once a running
	// experiment exceeds resultCap, only the most recent resultTrimTo are
	// kept. Batch trimming keeps RecordResult O(1) amortized.
	resultCap    = 10000
	resultTrimTo = 8000
)

// experimentState is the registry's mutable per-experiment record.
type experimentState struct {
	cfg        Config
	status     Status
	startTime  *time.Time
	endTime    *time.Time
	stopReason string
	results    []Result

	// assignments is the sticky variant map, keyed by user id.
	assignments map[string]string

	// resultsSinceAnalysis counts appends since the last analysis so the
	// sweep can skip idle experiments.
	resultsSinceAnalysis int
	lastAnalysis         *Analysis
}

// Registry owns all experiment definitions, their lifecycle, variant
// assignment, and collected results. Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	experiments map[string]*experimentState
	bus         *events.Bus // optional

	// randFn drives traffic-allocation and first-assignment draws.
	// Swappable for deterministic tests.
	randFn func() float64

	now func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBus attaches an event bus for lifecycle and analysis events.
func WithBus(bus *events.Bus) RegistryOption {
	return func(r *Registry) { r.bus = bus }
}

// WithRandFn overrides the random source. Test hook.
func WithRandFn(fn func() float64) RegistryOption {
	return func(r *Registry) { r.randFn = fn }
}

// NewRegistry creates an empty experiment registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		experiments: make(map[string]*experimentState),
		randFn:      rand.Float64,
		now:         time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) publish(e events.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

// Create validates and registers a new experiment in the draft state.
func (r *Registry) Create(cfg Config) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.experiments[cfg.ID]; exists {
		r.mu.Unlock()
		return &DuplicateError{ID: cfg.ID}
	}
	r.experiments[cfg.ID] = &experimentState{
		cfg:         cfg,
		status:      StatusDraft,
		assignments: make(map[string]string),
	}
	r.mu.Unlock()

	slog.Info("experiment created",
		slog.String("experiment", cfg.ID),
		slog.String("name", cfg.Name),
		slog.String("primary_metric", string(cfg.PrimaryMetric)))
	r.publish(events.Event{Type: events.EventExperimentCreated, ExperimentID: cfg.ID})
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.ID == "" {
		return &ValidationError{Field: "id", Msg: "must not be empty"}
	}
	if cfg.Name == "" {
		return &ValidationError{Field: "name", Msg: "must not be empty"}
	}
	for _, v := range []struct {
		name string
		v    Variant
	}{{"variant_a", cfg.VariantA}, {"variant_b", cfg.VariantB}} {
		if v.v.ProviderID == "" || v.v.ModelID == "" {
			return &ValidationError{Field: v.name, Msg: "provider and model must be set"}
		}
		if v.v.Weight < 0 || v.v.Weight > 1 {
			return &ValidationError{Field: v.name + ".weight", Msg: "must be in [0,1]"}
		}
	}
	if sum := cfg.VariantA.Weight + cfg.VariantB.Weight; math.Abs(sum-1) > weightEpsilon {
		return &ValidationError{Field: "weights", Msg: "variant weights must sum to 1"}
	}
	if cfg.TrafficAllocation <= 0 || cfg.TrafficAllocation > 1 {
		return &ValidationError{Field: "traffic_allocation", Msg: "must be in (0,1]"}
	}
	if !cfg.PrimaryMetric.valid() {
		return &ValidationError{Field: "primary_metric", Msg: "unknown metric"}
	}
	for _, m := range cfg.SecondaryMetrics {
		if !m.valid() {
			return &ValidationError{Field: "secondary_metrics", Msg: "unknown metric " + string(m)}
		}
	}
	if cfg.MinSampleSize < minSampleFloor {
		return &ValidationError{Field: "min_sample_size", Msg: "must be at least 10"}
	}
	if cfg.SignificanceLevel <= 0 || cfg.SignificanceLevel >= 1 {
		return &ValidationError{Field: "significance_level", Msg: "must be in (0,1)"}
	}
	if cfg.AutoStop.Enabled {
		if cfg.AutoStop.WinnerThreshold <= 0 || cfg.AutoStop.WinnerThreshold > 1 {
			return &ValidationError{Field: "auto_stop.winner_threshold", Msg: "must be in (0,1]"}
		}
		if cfg.AutoStop.MaxDuration < 0 {
			return &ValidationError{Field: "auto_stop.max_duration", Msg: "must not be negative"}
		}
	}
	return nil
}

// Start transitions a draft experiment to running.
func (r *Registry) Start(id string) error {
	return r.transition(id, "start", StatusRunning, events.EventExperimentStarted, StatusDraft)
}

// Pause suspends a running experiment. Assignments are kept; no new
// participants or results are accepted while paused.
func (r *Registry) Pause(id string) error {
	return r.transition(id, "pause", StatusPaused, events.EventExperimentPaused, StatusRunning)
}

// Resume returns a paused experiment to running.
func (r *Registry) Resume(id string) error {
	return r.transition(id, "resume", StatusRunning, events.EventExperimentResumed, StatusPaused)
}

// Stop terminally ends an experiment. Stopping from draft is allowed (the
// experiment is simply abandoned); stopping a terminal experiment errors.
func (r *Registry) Stop(id, reason string) error {
	r.mu.Lock()
	st, ok := r.experiments[id]
	if !ok {
		r.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	if st.status.terminal() {
		from := st.status
		r.mu.Unlock()
		return &InvalidStateError{ID: id, From: from, Op: "stop"}
	}
	st.status = StatusStopped
	st.stopReason = reason
	end := r.now().UTC()
	st.endTime = &end
	r.mu.Unlock()

	slog.Info("experiment stopped", slog.String("experiment", id), slog.String("reason", reason))
	r.publish(events.Event{Type: events.EventExperimentStopped, ExperimentID: id, Reason: reason})
	return nil
}

func (r *Registry) transition(id, op string, to Status, event events.EventType, allowedFrom ...Status) error {
	r.mu.Lock()
	st, ok := r.experiments[id]
	if !ok {
		r.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	allowed := false
	for _, from := range allowedFrom {
		if st.status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		from := st.status
		r.mu.Unlock()
		return &InvalidStateError{ID: id, From: from, Op: op}
	}
	st.status = to
	if to == StatusRunning && st.startTime == nil {
		start := r.now().UTC()
		st.startTime = &start
	}
	r.mu.Unlock()

	slog.Info("experiment "+op, slog.String("experiment", id))
	r.publish(events.Event{Type: event, ExperimentID: id})
	return nil
}

// Delete removes an experiment and everything it collected. Any status is
// deletable; a running experiment is simply discarded.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	if _, ok := r.experiments[id]; !ok {
		r.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	delete(r.experiments, id)
	r.mu.Unlock()

	slog.Info("experiment deleted", slog.String("experiment", id))
	r.publish(events.Event{Type: events.EventExperimentDeleted, ExperimentID: id})
	return nil
}

// Get returns a snapshot of one experiment, including its results.
func (r *Registry) Get(id string) (Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.experiments[id]
	if !ok {
		return Experiment{}, &NotFoundError{ID: id}
	}
	return st.snapshot(true), nil
}

// List returns snapshots of every experiment, without results.
func (r *Registry) List() []Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Experiment, 0, len(r.experiments))
	for _, st := range r.experiments {
		out = append(out, st.snapshot(false))
	}
	return out
}

func (st *experimentState) snapshot(withResults bool) Experiment {
	exp := Experiment{
		Config:     st.cfg,
		Status:     st.status,
		StartTime:  st.startTime,
		EndTime:    st.endTime,
		StopReason: st.stopReason,
	}
	if withResults {
		exp.Results = append([]Result(nil), st.results...)
		exp.Assignments = make(map[string]string, len(st.assignments))
		for user, label := range st.assignments {
			exp.Assignments[user] = label
		}
	}
	return exp
}

// ShouldParticipate decides whether a request joins the experiment. It is
// false unless the experiment is running, the request type and segment match
// the config's filters, and the traffic-allocation draw succeeds. As a side
// effect it enforces the max-duration auto-stop: an expired experiment is
// completed on the spot.
func (r *Registry) ShouldParticipate(id, requestType, segment string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.experiments[id]
	if !ok || st.status != StatusRunning {
		return false
	}

	if st.cfg.AutoStop.Enabled && st.cfg.AutoStop.MaxDuration > 0 && st.startTime != nil {
		if r.now().Sub(*st.startTime) >= st.cfg.AutoStop.MaxDuration {
			r.completeLocked(st, "max duration reached")
			return false
		}
	}

	if len(st.cfg.RequestTypes) > 0 && !contains(st.cfg.RequestTypes, requestType) {
		return false
	}
	if len(st.cfg.Segments) > 0 && !contains(st.cfg.Segments, segment) {
		return false
	}
	return r.randFn() <= st.cfg.TrafficAllocation
}

// AssignVariant returns the sticky variant for a user. The first call draws
// by variant weight; every later call returns the same answer for the life
// of the experiment. Returns ("", variant zero) when the experiment is not
// running.
func (r *Registry) AssignVariant(id, userID string) (string, Variant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.experiments[id]
	if !ok || st.status != StatusRunning {
		return "", Variant{}
	}

	label, assigned := st.assignments[userID]
	if !assigned {
		if r.randFn() <= st.cfg.VariantA.Weight {
			label = "A"
		} else {
			label = "B"
		}
		st.assignments[userID] = label
	}
	if label == "A" {
		return label, st.cfg.VariantA
	}
	return label, st.cfg.VariantB
}

// VariantConfig is the side-effect-free lookup of a variant by label. It
// never draws an assignment.
func (r *Registry) VariantConfig(id, label string) (Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.experiments[id]
	if !ok {
		return Variant{}, &NotFoundError{ID: id}
	}
	switch label {
	case "A":
		return st.cfg.VariantA, nil
	case "B":
		return st.cfg.VariantB, nil
	default:
		return Variant{}, &ValidationError{Field: "variant", Msg: "must be A or B"}
	}
}

// RecordResult appends a participant outcome. Only running experiments
// accept results; anything else is an InvalidStateError. Missing ids and
// timestamps are filled in.
func (r *Registry) RecordResult(id string, res Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.experiments[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	if st.status != StatusRunning {
		return &InvalidStateError{ID: id, From: st.status, Op: "record result"}
	}
	if res.Variant != "A" && res.Variant != "B" {
		return &ValidationError{Field: "variant", Msg: "must be A or B"}
	}

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	res.ExperimentID = id
	if res.Timestamp.IsZero() {
		res.Timestamp = r.now().UTC()
	}

	st.results = append(st.results, res)
	st.resultsSinceAnalysis++
	if len(st.results) > resultCap {
		trimmed := make([]Result, resultTrimTo)
		copy(trimmed, st.results[len(st.results)-resultTrimTo:])
		st.results = trimmed
		slog.Debug("trimmed experiment results",
			slog.String("experiment", id), slog.Int("kept", resultTrimTo))
	}
	return nil
}

// Results returns a copy of an experiment's collected results.
func (r *Registry) Results(id string) ([]Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.experiments[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return append([]Result(nil), st.results...), nil
}

// LastAnalysis returns the most recent analysis, or nil if none has run.
func (r *Registry) LastAnalysis(id string) (*Analysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.experiments[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	if st.lastAnalysis == nil {
		return nil, nil
	}
	cp := *st.lastAnalysis
	return &cp, nil
}

// needsAnalysis lists running experiments that received results since their
// last analysis. Used by the sweep.
func (r *Registry) needsAnalysis() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, st := range r.experiments {
		if st.status == StatusRunning && st.resultsSinceAnalysis > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// completeLocked terminally completes an experiment. Caller holds r.mu.
func (r *Registry) completeLocked(st *experimentState, reason string) {
	st.status = StatusCompleted
	st.stopReason = reason
	end := r.now().UTC()
	st.endTime = &end
	slog.Info("experiment completed",
		slog.String("experiment", st.cfg.ID), slog.String("reason", reason))
	r.publish(events.Event{
		Type: events.EventExperimentCompleted, ExperimentID: st.cfg.ID, Reason: reason,
	})
}

// Export returns full snapshots of every experiment, results included, for
// persistence.
func (r *Registry) Export() []Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Experiment, 0, len(r.experiments))
	for _, st := range r.experiments {
		out = append(out, st.snapshot(true))
	}
	return out
}

// Import seeds the registry from persisted snapshots. Invalid or duplicate
// entries are logged and skipped; a restart must not fail on one bad row.
func (r *Registry) Import(exps []Experiment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, exp := range exps {
		if err := validateConfig(exp.Config); err != nil {
			slog.Warn("skipping invalid persisted experiment",
				slog.String("experiment", exp.Config.ID), slog.Any("error", err))
			continue
		}
		if _, exists := r.experiments[exp.Config.ID]; exists {
			continue
		}
		st := &experimentState{
			cfg:         exp.Config,
			status:      exp.Status,
			startTime:   exp.StartTime,
			endTime:     exp.EndTime,
			stopReason:  exp.StopReason,
			results:     append([]Result(nil), exp.Results...),
			assignments: make(map[string]string, len(exp.Assignments)),
		}
		for user, label := range exp.Assignments {
			st.assignments[user] = label
		}
		r.experiments[exp.Config.ID] = st
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
