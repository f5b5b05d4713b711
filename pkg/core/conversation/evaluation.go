package conversation

import (
	"encoding/json"
	"strings"

	"github.com/vango-go/vai-interview/pkg/core/types"
)

// ParseEvaluation decodes a model evaluation, tolerating a fenced code block
// around the JSON body. Any decode failure yields types.FallbackEvaluation(raw)
// and false.
func ParseEvaluation(raw string) (types.Evaluation, bool) {
	body := stripCodeFence(raw)
	var ev types.Evaluation
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return types.FallbackEvaluation(raw), false
	}
	return ev, true
}

// stripCodeFence removes a leading ``` marker (with an optional language tag on
// the same line) and a trailing ``` marker.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && isFenceTag(rest[:nl]) {
			rest = rest[nl+1:]
		} else {
			rest = strings.TrimLeftFunc(rest, isTagRune)
		}
		s = rest
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isFenceTag(s string) bool {
	for _, r := range strings.TrimSpace(s) {
		if !isTagRune(r) {
			return false
		}
	}
	return true
}

func isTagRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_'
}
