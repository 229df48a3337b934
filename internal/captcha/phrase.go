package captcha

import (
	"regexp"
	"strings"
)

// DefaultTarget is used when no phrase can be recovered.
const DefaultTarget = "objects"

var (
	sentencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)select all (?:squares|images) (?:with|containing|of) (?:an? |the )?(.+)`),
		regexp.MustCompile(`(?i)click (?:on )?(?:each|all) images? (?:containing|with|of) (?:an? |the )?(.+)`),
	}

	// Trailing instructions that the DOM text run often glues onto the target.
	suffixMarkers = []string{
		"if there are none",
		"once there are none",
		"until there are none",
		"click verify",
		"click skip",
		"then click",
		"\n",
	}
)

// ExtractTargetPhrase prefers the dedicated target node text, then a
// sentence pattern in the instruction, then fallback, then DefaultTarget.
func ExtractTargetPhrase(targetText, instructionText, fallback string) string {
	if p := cleanPhrase(targetText); p != "" {
		return p
	}
	for _, re := range sentencePatterns {
		if m := re.FindStringSubmatch(instructionText); m != nil {
			if p := cleanPhrase(m[1]); p != "" {
				return p
			}
		}
	}
	if p := cleanPhrase(fallback); p != "" {
		return p
	}
	return DefaultTarget
}

func cleanPhrase(s string) string {
	lower := strings.ToLower(s)
	cut := len(s)
	for _, marker := range suffixMarkers {
		if i := strings.Index(lower, marker); i >= 0 && i < cut {
			cut = i
		}
	}
	s = strings.Join(strings.Fields(s[:cut]), " ")
	return strings.Trim(s, " .,:;!?\"'")
}
