package vision

import (
	"regexp"
	"strconv"
	"strings"
)

var numberPattern = regexp.MustCompile(`-?\d+`)

// ParseIndices extracts tile indices from a model reply. Numeric tokens are
// taken from anywhere in the text, deduplicated in first-seen order, and any
// value outside [0, gridSize) is dropped. A reply that leads with "none", or
// that carries no digits at all, yields an empty list.
func ParseIndices(text string, gridSize int) []int {
	out := []int{}
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" || strings.HasPrefix(strings.Trim(t, "\"'`*. "), "none") {
		return out
	}
	seen := make(map[int]bool)
	for _, tok := range numberPattern.FindAllString(t, -1) {
		n, err := strconv.Atoi(tok)
		if err != nil || n < 0 || n >= gridSize || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// restrict keeps the indices present in candidates. A nil candidate list
// keeps everything.
func restrict(indices, candidates []int) []int {
	if candidates == nil {
		return indices
	}
	allowed := make(map[int]bool, len(candidates))
	for _, c := range candidates {
		allowed[c] = true
	}
	out := []int{}
	for _, i := range indices {
		if allowed[i] {
			out = append(out, i)
		}
	}
	return out
}
