package captcha

// Confidence reflects how success was observed. Not a calibrated probability.
const (
	ConfidenceVerified    = 0.95
	ConfidenceSurfaceGone = 0.85
	ConfidenceAssumed     = 0.8
)

// SolveResult is returned once per Solve and not mutated afterwards.
type SolveResult struct {
	Success       bool         `json:"success"`
	SelectedTiles []int        `json:"selected_tiles,omitempty"`
	Confidence    float64      `json:"confidence"`
	Attempts      int          `json:"attempts"`
	Target        string       `json:"target,omitempty"`
	Error         string       `json:"error,omitempty"`
	NeedsSkip     bool         `json:"needs_skip"`
	Provider      ProviderKind `json:"provider,omitempty"`
	State         string       `json:"state,omitempty"`
}
