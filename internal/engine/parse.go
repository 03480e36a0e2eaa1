package engine

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Insights shorter than this are discarded as noise.
const minInsightLength = 10

var (
	jsonArrayRe  = regexp.MustCompile(`(?s)\[.*\]`)
	bulletRe     = regexp.MustCompile(`^[-*•]\s*`)
	numberingRe  = regexp.MustCompile(`^\d+[.)]\s*`)
	structuralRe = regexp.MustCompile(`^[\[\],\s]*$`)
)

// ParseInsights extracts insight strings from a free-form reasoning-service
// response. Strategies in order: JSON array extraction, line splitting with
// bullet/numbering prefixes stripped, then the whole response as a single
// insight. Results are trimmed, short entries dropped, and exact duplicates
// removed preserving first occurrence. Never returns an error: a response the
// parser cannot make sense of yields an empty slice.
func ParseInsights(response string) []string {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil
	}

	var raw []string
	if m := jsonArrayRe.FindString(response); m != "" {
		var arr []string
		if err := json.Unmarshal([]byte(m), &arr); err == nil {
			raw = arr
		}
	}
	if raw == nil {
		for _, line := range strings.Split(response, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || structuralRe.MatchString(line) {
				continue
			}
			line = bulletRe.ReplaceAllString(line, "")
			line = numberingRe.ReplaceAllString(line, "")
			raw = append(raw, line)
		}
	}
	if len(raw) == 0 {
		raw = []string{response}
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, insight := range raw {
		insight = strings.TrimSpace(insight)
		if len(insight) <= minInsightLength {
			continue
		}
		if _, dup := seen[insight]; dup {
			continue
		}
		seen[insight] = struct{}{}
		out = append(out, insight)
	}
	return out
}
