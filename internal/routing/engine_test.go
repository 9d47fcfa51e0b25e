package routing

import (
	"context"
	"strings"
	"testing"
)

func testProviders() []Provider {
	return []Provider{
		{
			ID: "openai",
			Models: []ModelSpec{
				{ID: "gpt-4o", InputPer1K: 0.005, OutputPer1K: 0.015, BaselineLatencyMs: 1800, BaselineQuality: 0.9},
				{ID: "gpt-4o-mini", InputPer1K: 0.00015, OutputPer1K: 0.0006, BaselineLatencyMs: 900, BaselineQuality: 0.7},
			},
		},
		{
			ID: "anthropic",
			Models: []ModelSpec{
				{ID: "claude-sonnet", InputPer1K: 0.003, OutputPer1K: 0.015, BaselineLatencyMs: 1500, BaselineQuality: 0.88},
			},
		},
	}
}

func TestRouteNeverFails(t *testing.T) {
	eng := NewEngine(EngineConfig{})
	dec := eng.Route(context.Background(), makeRequest("hi"), "u1", testProviders(), RouteOptions{})
	if dec.ProviderID == "" || dec.ModelID == "" {
		t.Fatalf("route returned empty decision: %+v", dec)
	}
	if dec.Fallback {
		t.Error("healthy provider list should not produce a fallback decision")
	}
}

func TestRouteEmptyProvidersFallsBack(t *testing.T) {
	eng := NewEngine(EngineConfig{})
	dec := eng.Route(context.Background(), makeRequest("hi"), "u1", nil, RouteOptions{})
	if !dec.Fallback {
		t.Fatal("expected fallback decision for empty provider list")
	}
	if dec.Confidence != 0 {
		t.Errorf("fallback confidence = %f, want 0", dec.Confidence)
	}
	if dec.ProviderID != "openai" || dec.ModelID != "gpt-4o-mini" {
		t.Errorf("fallback default = %s/%s", dec.ProviderID, dec.ModelID)
	}
	if !strings.Contains(dec.Reasoning, "fallback") {
		t.Errorf("fallback reasoning missing: %q", dec.Reasoning)
	}
}

func TestRouteAllEliminatedFallsBackToFirstDeclared(t *testing.T) {
	eng := NewEngine(EngineConfig{})
	// Impossible constraint set eliminates everything.
	dec := eng.Route(context.Background(), makeRequest("hi"), "u1", testProviders(), RouteOptions{
		MinQuality: 0.999,
	})
	if !dec.Fallback {
		t.Fatal("expected fallback when every candidate is eliminated")
	}
	if dec.ProviderID != "openai" || dec.ModelID != "gpt-4o" {
		t.Errorf("fallback should use first declared provider/model, got %s/%s", dec.ProviderID, dec.ModelID)
	}
	if len(dec.Rejected) != 3 {
		t.Errorf("expected 3 rejected candidates, got %d", len(dec.Rejected))
	}
}

func TestRouteCostObjectivePicksCheapest(t *testing.T) {
	eng := NewEngine(EngineConfig{})
	dec := eng.Route(context.Background(), makeRequest("hi"), "u1", testProviders(), RouteOptions{
		OptimizeFor: ObjectiveCost,
	})
	if dec.ModelID != "gpt-4o-mini" {
		t.Errorf("cost objective picked %s, want gpt-4o-mini", dec.ModelID)
	}
}

func TestRouteQualityObjectivePicksBest(t *testing.T) {
	eng := NewEngine(EngineConfig{})
	dec := eng.Route(context.Background(), makeRequest("hi"), "u1", testProviders(), RouteOptions{
		OptimizeFor: ObjectiveQuality,
	})
	if dec.ModelID != "gpt-4o" {
		t.Errorf("quality objective picked %s, want gpt-4o", dec.ModelID)
	}
}

func TestRouteSpeedObjectivePicksFastest(t *testing.T) {
	eng := NewEngine(EngineConfig{})
	dec := eng.Route(context.Background(), makeRequest("hi"), "u1", testProviders(), RouteOptions{
		OptimizeFor: ObjectiveSpeed,
	})
	if dec.ModelID != "gpt-4o-mini" {
		t.Errorf("speed objective picked %s, want gpt-4o-mini", dec.ModelID)
	}
}

func TestRouteMaxCostConstraint(t *testing.T) {
	eng := NewEngine(EngineConfig{})
	dec := eng.Route(context.Background(), makeRequest("hi"), "u1", testProviders(), RouteOptions{
		OptimizeFor: ObjectiveQuality,
		MaxCostUSD:  0.001, // only gpt-4o-mini fits
	})
	if dec.ModelID != "gpt-4o-mini" {
		t.Errorf("constraint routing picked %s, want gpt-4o-mini", dec.ModelID)
	}
	found := false
	for _, r := range dec.Rejected {
		if r.ModelID == "gpt-4o" && strings.Contains(r.Reason, "cost") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected gpt-4o rejected on cost, rejects: %+v", dec.Rejected)
	}
}

func TestRouteCapabilityFilter(t *testing.T) {
	providers := []Provider{
		{ID: "p1", Models: []ModelSpec{
			{ID: "plain", BaselineQuality: 0.95},
			{ID: "vision", BaselineQuality: 0.6, Capabilities: []string{"vision"}},
		}},
	}
	eng := NewEngine(EngineConfig{})
	req := makeRequest("describe this image")
	req.RequiredCapabilities = []string{"vision"}
	dec := eng.Route(context.Background(), req, "u1", providers, RouteOptions{OptimizeFor: ObjectiveQuality})
	if dec.ModelID != "vision" {
		t.Errorf("capability routing picked %s, want vision", dec.ModelID)
	}
}

func TestRouteDeterministicTieBreak(t *testing.T) {
	// Two identical models: declaration order must win, consistently.
	providers := []Provider{
		{ID: "p1", Models: []ModelSpec{{ID: "m-first", BaselineLatencyMs: 1000, BaselineQuality: 0.8}}},
		{ID: "p2", Models: []ModelSpec{{ID: "m-second", BaselineLatencyMs: 1000, BaselineQuality: 0.8}}},
	}
	eng := NewEngine(EngineConfig{})
	for i := 0; i < 10; i++ {
		dec := eng.Route(context.Background(), makeRequest("hi"), "u1", providers, RouteOptions{})
		if dec.ModelID != "m-first" {
			t.Fatalf("tie-break not deterministic: got %s on iteration %d", dec.ModelID, i)
		}
	}
}

func TestRouteReasoningListsRejects(t *testing.T) {
	eng := NewEngine(EngineConfig{})
	dec := eng.Route(context.Background(), makeRequest("hi"), "u1", testProviders(), RouteOptions{})
	if !strings.Contains(dec.Reasoning, "selected") {
		t.Errorf("reasoning missing selection: %q", dec.Reasoning)
	}
	if !strings.Contains(dec.Reasoning, "rejected") {
		t.Errorf("reasoning should name rejected alternatives: %q", dec.Reasoning)
	}
}

func TestLearnFromExecutionFeedsPrediction(t *testing.T) {
	eng := NewEngine(EngineConfig{})
	req := makeRequest("hello there, how are you today?")

	longResponse := strings.Repeat("A complete and helpful sentence. ", 20)
	for i := 0; i < 12; i++ {
		eng.LearnFromExecution(req, "u1", ExecutionReport{
			ProviderID:     "openai",
			ModelID:        "gpt-4o-mini",
			Response:       longResponse,
			ResponseTimeMs: 700,
			CostUSD:        0.002,
		})
	}

	if eng.Ledger().Len() != 12 {
		t.Fatalf("ledger len = %d, want 12", eng.Ledger().Len())
	}

	p := NewPredictor(DefaultPredictorConfig(), eng.Ledger())
	f := ExtractFeatures(req, "u1")
	pred := p.Predict(f, "openai", ModelSpec{ID: "gpt-4o-mini"})
	if pred.Confidence != 1 {
		t.Errorf("confidence after 12 matching samples = %f, want 1.0", pred.Confidence)
	}
	if diff := pred.CostUSD - 0.002; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("learned cost = %f, want 0.002", pred.CostUSD)
	}
}

func TestLearnFromExecutionMalformedIsNoop(t *testing.T) {
	eng := NewEngine(EngineConfig{})
	eng.LearnFromExecution(makeRequest("hi"), "u1", ExecutionReport{}) // no provider/model
	eng.LearnFromExecution(makeRequest("hi"), "u1", ExecutionReport{
		ProviderID: "p1", ModelID: "m1", ResponseTimeMs: -5,
	})
	if eng.Ledger().Len() != 0 {
		t.Errorf("malformed reports must not be recorded, ledger len = %d", eng.Ledger().Len())
	}
}

func TestLearnUpdatesUserPattern(t *testing.T) {
	eng := NewEngine(EngineConfig{BaselineCostUSD: 0.03})
	req := makeRequest("hi")
	eng.LearnFromExecution(req, "alice", ExecutionReport{
		ProviderID: "openai", ModelID: "gpt-4o-mini",
		Response: "Hello! How can I help you today?", ResponseTimeMs: 500, CostUSD: 0.002,
	})

	patterns := eng.Ledger().UserPatterns("alice")
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	p := patterns[0]
	if p.RequestsByProvider["openai"] != 1 {
		t.Errorf("provider count = %d, want 1", p.RequestsByProvider["openai"])
	}
	if diff := p.CostSavedUSD - 0.028; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("cost saved = %f, want 0.028", p.CostSavedUSD)
	}
}

func TestQualityHeuristicBounds(t *testing.T) {
	f := RequestFeatures{Type: TypeSimpleChat}
	if got := ActualQuality("", f); got != 0 {
		t.Errorf("empty response quality = %f, want 0", got)
	}
	long := strings.Repeat("Sentence here. ", 5000)
	if got := ActualQuality(long, f); got < 0 || got > 1 {
		t.Errorf("quality %f out of [0,1]", got)
	}
}

func TestQualityCodeFenceBonus(t *testing.T) {
	f := RequestFeatures{Type: TypeCodeGeneration}
	body := strings.Repeat("x := compute(y)\n", 30)
	fenced := ActualQuality("```go\n"+body+"```", f)
	bare := ActualQuality(body, f)
	if fenced <= bare {
		t.Errorf("code request should reward fenced response: fenced=%f bare=%f", fenced, bare)
	}
}
