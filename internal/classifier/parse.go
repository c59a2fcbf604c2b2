package classifier

import (
	"encoding/json"
	"strings"
)

// ParseCategory extracts the category from a model answer. It accepts the
// requested JSON object, the same object wrapped in a code fence or prose,
// and a bare category name. ok is false when the model declined to answer.
func ParseCategory(raw string) (string, bool) {
	text := strings.TrimSpace(stripFence(raw))
	if text == "" {
		return "", false
	}

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		var payload struct {
			Category *string `json:"category"`
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err == nil {
			if payload.Category == nil {
				return "", false
			}
			return normalize(*payload.Category)
		}
	}

	// single line plain answer
	if strings.ContainsAny(text, "\n{}") {
		return "", false
	}
	return normalize(text)
}

func normalize(s string) (string, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"'.`)
	switch strings.ToLower(s) {
	case "", "null", "none", "n/a", "unknown":
		return "", false
	}
	return s, true
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:] // language hint
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
