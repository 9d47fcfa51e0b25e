package routing

import "strings"

// ActualQuality scores a completed response on [0,1] from cheap structural
// proxies. The exact formula is a policy choice, not a contract: it blends a
// length band (0.5), requested-structure presence (0.3), and a sentence
// termination proxy for coherence (0.2).
//
//   - Length: full credit between 200 and 4000 chars, linear ramp below,
//     gentle falloff above (floored at 0.4 for very long responses).
//   - Structure: code requests earn it with a code fence; everything else
//     with multi-paragraph or multi-sentence shape.
//   - Coherence: a response ending mid-sentence was likely truncated.
func ActualQuality(response string, f RequestFeatures) float64 {
	response = strings.TrimSpace(response)
	if response == "" {
		return 0
	}

	n := len(response)
	var lengthScore float64
	switch {
	case n < 200:
		lengthScore = float64(n) / 200.0
	case n <= 4000:
		lengthScore = 1
	default:
		lengthScore = 1 - float64(n-4000)/16000.0
		if lengthScore < 0.4 {
			lengthScore = 0.4
		}
	}

	var structureScore float64
	if f.Type == TypeCodeGeneration {
		if strings.Contains(response, "```") {
			structureScore = 1
		}
	} else {
		switch {
		case strings.Contains(response, "\n\n"):
			structureScore = 1
		case strings.Count(response, ". ") >= 2:
			structureScore = 0.8
		default:
			structureScore = 0.4
		}
	}

	coherenceScore := 0.3
	last := response[n-1]
	if last == '.' || last == '!' || last == '?' || last == '`' || strings.HasSuffix(response, "```") {
		coherenceScore = 1
	}

	q := lengthScore*0.5 + structureScore*0.3 + coherenceScore*0.2
	if q > 1 {
		q = 1
	}
	return q
}
