// Package provider drives image-grid CAPTCHAs to completion. One shared
// engine runs the solve state machine; each vendor contributes a surface that
// knows its selectors, frames and feedback banners.
package provider

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
	"github.com/polzovatel/browser-captcha-solver/internal/captcha"
	"github.com/polzovatel/browser-captcha-solver/internal/config"
	"github.com/polzovatel/browser-captcha-solver/internal/llm"
	"github.com/polzovatel/browser-captcha-solver/internal/metrics"
)

// Protocol solves one vendor's challenge on a session. Solve never returns
// an error; failures are described by the result. Concurrent Solve calls on
// the same session are not supported.
type Protocol interface {
	Kind() captcha.ProviderKind
	// Detect returns a confidence in [0, 1] that this provider is on the page.
	Detect(ctx context.Context, session browser.Session) float64
	Solve(ctx context.Context, session browser.Session, cls captcha.Classification, vision llm.Vision, maxAttempts int) captcha.SolveResult
}

// Options are shared by every provider.
type Options struct {
	Config  config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Collector
	// Seed fixes the human input randomness. Zero seeds from the clock.
	Seed int64
}

type State int

const (
	StateIdle State = iota
	StateCheckboxClicked
	StateAwaitingChallenge
	StateChallengeActive
	StateSubmitting
	StateRetry
	StateSelectMore
	StateUnclear
	StateSolved
	StateExhausted
	StateFailed
)

var stateNames = [...]string{
	StateIdle:              "IDLE",
	StateCheckboxClicked:   "CHECKBOX_CLICKED",
	StateAwaitingChallenge: "AWAITING_CHALLENGE_OR_AUTOVERIFY",
	StateChallengeActive:   "CHALLENGE_ACTIVE",
	StateSubmitting:        "SUBMITTING",
	StateRetry:             "RETRY",
	StateSelectMore:        "SELECT_MORE",
	StateUnclear:           "UNCLEAR",
	StateSolved:            "SOLVED",
	StateExhausted:         "EXHAUSTED",
	StateFailed:            "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}
