package captcha

// ProviderKind names a CAPTCHA vendor the solver knows how to drive.
type ProviderKind string

const (
	ProviderUnknown    ProviderKind = ""
	ProviderOwl        ProviderKind = "owl"
	ProviderRecaptcha  ProviderKind = "recaptcha"
	ProviderCloudflare ProviderKind = "cloudflare"
)

// ParseProviderKind accepts the names used on the command line and in configs.
func ParseProviderKind(s string) (ProviderKind, bool) {
	switch s {
	case "owl":
		return ProviderOwl, true
	case "recaptcha", "recaptcha-v2":
		return ProviderRecaptcha, true
	case "cloudflare", "hcaptcha", "turnstile":
		return ProviderCloudflare, true
	case "", "auto":
		return ProviderUnknown, true
	}
	return ProviderUnknown, false
}

type ChallengeType string

const (
	ChallengeUnknown        ChallengeType = ""
	ChallengeCheckbox       ChallengeType = "checkbox"
	ChallengeImageSelection ChallengeType = "image_selection"
	ChallengeText           ChallengeType = "text"
)

// Classification is the upstream classifier's description of a detected
// challenge. It is read-only for the solver.
type Classification struct {
	Type     ChallengeType
	Provider ProviderKind

	CheckboxSelector    string
	ChallengeSelector   string
	GridSelector        string
	TileSelector        string
	TargetSelector      string
	InstructionSelector string
	SubmitSelector      string
	SkipSelector        string
	RefreshSelector     string

	GridSize     int
	TargetPhrase string
	HasSkip      bool
	HasRefresh   bool
}

// IsImageSelection reports whether the classifier saw a tile grid challenge.
// A checkbox classification also qualifies since the grid appears after the click.
func (c Classification) IsImageSelection() bool {
	return c.Type == ChallengeImageSelection || c.Type == ChallengeCheckbox
}

// Or returns v unless it is empty.
func Or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
