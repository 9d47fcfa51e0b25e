package routing

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// EstimateTokens estimates the token count for a request (chars/4 heuristic).
// If EstimatedInputTokens is set on the request, that value is returned directly.
func EstimateTokens(req Request) int {
	if req.EstimatedInputTokens > 0 {
		return req.EstimatedInputTokens
	}
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}

// classificationRule is one step of the request-type cascade. First match wins.
type classificationRule struct {
	reqType  RequestType
	keywords []string
}

// classificationCascade is evaluated in order against the lowercased request
// text. Code detection runs before everything else because code requests often
// also contain reasoning/analysis vocabulary.
var classificationCascade = []classificationRule{
	{TypeCodeGeneration, []string{"```", "write code", "function", "implement", "refactor", "debug", "compile", "script", "regex", "sql query", "unit test"}},
	{TypeCreativeWriting, []string{"write a story", "poem", "fiction", "creative", "screenplay", "lyrics", "essay about"}},
	{TypeAnalysis, []string{"analyze", "analyse", "summarize", "summarise", "compare", "evaluate", "review the", "pros and cons", "break down"}},
	{TypeComplexReasoning, []string{"step by step", "prove", "reason about", "why does", "logic", "theorem", "derive", "trade-off", "tradeoff"}},
}

// ClassifyRequest runs the rule cascade over the request text and returns the
// first matching type. Short conversational requests with no keyword hits are
// simple_chat; everything else is other.
func ClassifyRequest(req Request) RequestType {
	text := strings.ToLower(joinContent(req.Messages))
	for _, rule := range classificationCascade {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.reqType
			}
		}
	}
	if len(text) > 0 && len(text) < 200 && len(req.Messages) <= 2 {
		return TypeSimpleChat
	}
	return TypeOther
}

// ComplexityScore combines message length, code-fence presence, and message
// count into a single 0-1 score.
func ComplexityScore(req Request) float64 {
	text := joinContent(req.Messages)
	if text == "" {
		return 0
	}

	// Length contributes up to 0.5: saturates at 4000 chars.
	lengthScore := float64(len(text)) / 4000.0
	if lengthScore > 1 {
		lengthScore = 1
	}

	// Code fences contribute a fixed 0.3.
	codeScore := 0.0
	if strings.Contains(text, "```") {
		codeScore = 1.0
	}

	// Multi-turn depth contributes up to 0.2: saturates at 10 messages.
	turnScore := float64(len(req.Messages)) / 10.0
	if turnScore > 1 {
		turnScore = 1
	}

	return lengthScore*0.5 + codeScore*0.3 + turnScore*0.2
}

// PatternID buckets a user's history by request type. FNV-1a keeps it cheap
// and stable across restarts.
func PatternID(userID string, reqType RequestType) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte(":"))
	_, _ = h.Write([]byte(reqType))
	return fmt.Sprintf("%016x", h.Sum64())
}

// ExtractFeatures computes the full feature vector for a request. Pure and
// total: empty input yields zeroed fields with type other.
func ExtractFeatures(req Request, userID string) RequestFeatures {
	reqType := ClassifyRequest(req)
	return RequestFeatures{
		EstimatedTokens: EstimateTokens(req),
		Complexity:      ComplexityScore(req),
		Type:            reqType,
		PatternID:       PatternID(userID, reqType),
	}
}

func joinContent(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}
