package quiz

import (
	"encoding/json"
	"strings"
	"unicode"
)

// Question is one generated multiple-choice question: exactly four options
// keyed A-D, one of which is correct.
type Question struct {
	ID            string            `json:"id"`
	Text          string            `json:"question"`
	Options       map[string]string `json:"options"`
	CorrectOption string            `json:"correct_answer"`
	AutoGenerated bool              `json:"is_auto_generated"`
}

// Verdict is the grounded judgement of a free-text answer.
type Verdict struct {
	IsCorrect   bool    `json:"is_correct"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

var optionKeys = []string{"A", "B", "C", "D"}

const (
	minQuestionLength = 8

	// Two options this alike make the question ambiguous.
	optionSimilarityThreshold = 0.88
	// An option this close to the stem gives the answer away.
	stemSimilarityThreshold = 0.90
	// Two questions this alike count as duplicates of each other.
	questionSimilarityThreshold = 0.80
)

// isValidMCQ applies the structural acceptance rules; any violation discards
// the candidate.
func isValidMCQ(q Question) bool {
	if len(strings.TrimSpace(q.Text)) < minQuestionLength {
		return false
	}
	if len(q.Options) != len(optionKeys) {
		return false
	}

	normalizedOptions := make(map[string]string, len(optionKeys))
	for _, key := range optionKeys {
		option, ok := q.Options[key]
		if !ok || strings.TrimSpace(option) == "" {
			return false
		}
		normalizedOptions[key] = normalizeText(option)
	}

	correct, ok := normalizedOptions[q.CorrectOption]
	if !ok || correct == "" {
		return false
	}

	seen := make(map[string]bool, len(optionKeys))
	for _, norm := range normalizedOptions {
		if norm == "" || seen[norm] {
			return false
		}
		seen[norm] = true
	}

	for i := 0; i < len(optionKeys); i++ {
		for j := i + 1; j < len(optionKeys); j++ {
			if similarityRatio(normalizedOptions[optionKeys[i]], normalizedOptions[optionKeys[j]]) >= optionSimilarityThreshold {
				return false
			}
		}
	}

	normQuestion := normalizeText(q.Text)
	for _, norm := range normalizedOptions {
		if similarityRatio(norm, normQuestion) >= stemSimilarityThreshold {
			return false
		}
	}

	return true
}

// normalizeText aggressively normalizes text so duplicates and
// near-duplicates compare equal: lowercase, punctuation stripped, whitespace
// collapsed.
func normalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// similarityRatio scores two normalized strings in [0,1] using character
// bigram overlap (Sørensen-Dice). 1 means identical, 0 means disjoint.
func similarityRatio(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}

	bigrams := func(s string) map[string]int {
		grams := make(map[string]int, len(s))
		runes := []rune(s)
		for i := 0; i+1 < len(runes); i++ {
			grams[string(runes[i:i+2])]++
		}
		return grams
	}

	gramsA := bigrams(a)
	gramsB := bigrams(b)

	var overlap, total int
	for gram, countA := range gramsA {
		total += countA
		if countB, ok := gramsB[gram]; ok {
			if countA < countB {
				overlap += countA
			} else {
				overlap += countB
			}
		}
	}
	for _, countB := range gramsB {
		total += countB
	}

	if total == 0 {
		return 0
	}
	return 2 * float64(overlap) / float64(total)
}

// extractJSONArray pulls a JSON array of question candidates out of raw model
// output, tolerating surrounding prose and markdown fences. It returns false
// on any parse failure so malformed output is discarded, never propagated.
func extractJSONArray(raw string) ([]Question, bool) {
	cleaned := stripFences(raw)

	var parsed []Question
	if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil {
		return parsed, true
	}

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

// extractJSONObject does the same for a single JSON object payload.
func extractJSONObject(raw string, out any) bool {
	cleaned := stripFences(raw)

	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return true
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return false
	}
	return json.Unmarshal([]byte(cleaned[start:end+1]), out) == nil
}

func stripFences(raw string) string {
	cleaned := strings.ReplaceAll(raw, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}
