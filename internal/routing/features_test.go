package routing

import (
	"strings"
	"testing"
)

func makeRequest(content string) Request {
	return Request{
		Messages: []Message{{Role: "user", Content: content}},
	}
}

func TestEstimateTokens(t *testing.T) {
	req := makeRequest("hello world test message")
	got := EstimateTokens(req)
	// 24 chars / 4 = 6
	if got != 6 {
		t.Errorf("EstimateTokens() = %d, want 6", got)
	}
}

func TestEstimateTokensExplicit(t *testing.T) {
	req := Request{
		Messages:             []Message{{Role: "user", Content: "hello"}},
		EstimatedInputTokens: 100,
	}
	if got := EstimateTokens(req); got != 100 {
		t.Errorf("EstimateTokens() = %d, want 100 (explicit)", got)
	}
}

func TestClassifyRequest(t *testing.T) {
	cases := []struct {
		content string
		want    RequestType
	}{
		{"hi there", TypeSimpleChat},
		{"please implement a binary search function in go", TypeCodeGeneration},
		{"```python\nprint('x')\n``` fix this", TypeCodeGeneration},
		{"write a story about a lighthouse keeper", TypeCreativeWriting},
		{"analyze the quarterly revenue figures and compare them to last year", TypeAnalysis},
		{"prove that the sum of two even numbers is even, step by step", TypeComplexReasoning},
	}
	for _, c := range cases {
		if got := ClassifyRequest(makeRequest(c.content)); got != c.want {
			t.Errorf("ClassifyRequest(%q) = %s, want %s", c.content, got, c.want)
		}
	}
}

func TestClassifyRequestFirstRuleWins(t *testing.T) {
	// Contains both code and analysis vocabulary; code rule runs first.
	req := makeRequest("analyze this function and refactor it:\n```go\nfunc f() {}\n```")
	if got := ClassifyRequest(req); got != TypeCodeGeneration {
		t.Errorf("expected code_generation, got %s", got)
	}
}

func TestClassifyRequestDefaultsToOther(t *testing.T) {
	long := strings.Repeat("plain words without trigger vocabulary ", 20)
	if got := ClassifyRequest(makeRequest(long)); got != TypeOther {
		t.Errorf("expected other for long unclassified text, got %s", got)
	}
}

func TestComplexityScoreBounds(t *testing.T) {
	if got := ComplexityScore(Request{}); got != 0 {
		t.Errorf("empty request complexity = %f, want 0", got)
	}

	huge := Request{Messages: make([]Message, 20)}
	for i := range huge.Messages {
		huge.Messages[i] = Message{Role: "user", Content: strings.Repeat("x```x", 2000)}
	}
	got := ComplexityScore(huge)
	if got < 0 || got > 1 {
		t.Errorf("complexity %f out of [0,1]", got)
	}
	if got != 1 {
		t.Errorf("saturated request complexity = %f, want 1", got)
	}
}

func TestComplexityCodeFenceBump(t *testing.T) {
	plain := ComplexityScore(makeRequest("short question"))
	fenced := ComplexityScore(makeRequest("short question ```code```"))
	if fenced <= plain {
		t.Errorf("code fence should raise complexity: plain=%f fenced=%f", plain, fenced)
	}
}

func TestExtractFeaturesDeterministic(t *testing.T) {
	req := makeRequest("implement a queue")
	a := ExtractFeatures(req, "user-1")
	b := ExtractFeatures(req, "user-1")
	if a != b {
		t.Errorf("feature extraction not deterministic: %+v vs %+v", a, b)
	}
}

func TestExtractFeaturesEmptyInput(t *testing.T) {
	f := ExtractFeatures(Request{}, "user-1")
	if f.EstimatedTokens != 0 || f.Complexity != 0 {
		t.Errorf("empty request should zero numeric features, got %+v", f)
	}
	if f.Type != TypeOther {
		t.Errorf("empty request type = %s, want other", f.Type)
	}
	if f.PatternID == "" {
		t.Error("pattern id must always be populated")
	}
}

func TestPatternIDSeparatesUsersAndTypes(t *testing.T) {
	a := PatternID("alice", TypeSimpleChat)
	b := PatternID("bob", TypeSimpleChat)
	c := PatternID("alice", TypeAnalysis)
	if a == b || a == c {
		t.Errorf("pattern ids should differ across users and types: %s %s %s", a, b, c)
	}
	if a != PatternID("alice", TypeSimpleChat) {
		t.Error("pattern id must be stable")
	}
}
