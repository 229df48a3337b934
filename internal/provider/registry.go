package provider

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
	"github.com/polzovatel/browser-captcha-solver/internal/captcha"
	"github.com/polzovatel/browser-captcha-solver/internal/llm"
	"github.com/polzovatel/browser-captcha-solver/internal/metrics"
)

const (
	detectThreshold = 0.5
	hintBonus       = 0.1

	msgNoProvider = "no supported captcha provider detected"
)

// Registry picks the provider for a page and hands the solve to it.
type Registry struct {
	protocols []Protocol
	metrics   *metrics.Collector
	logger    zerolog.Logger
}

// NewRegistry returns a registry holding the Owl, reCAPTCHA and Cloudflare providers.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		metrics: opts.Metrics,
		logger:  opts.Logger.With().Str("comp", "registry").Logger(),
	}
	r.Register(NewOwl(opts))
	r.Register(NewRecaptcha(opts))
	r.Register(NewCloudflare(opts))
	return r
}

// Register adds p, replacing any provider of the same kind.
func (r *Registry) Register(p Protocol) {
	for i, existing := range r.protocols {
		if existing.Kind() == p.Kind() {
			r.protocols[i] = p
			return
		}
	}
	r.protocols = append(r.protocols, p)
}

func (r *Registry) Get(kind captcha.ProviderKind) (Protocol, bool) {
	for _, p := range r.protocols {
		if p.Kind() == kind {
			return p, true
		}
	}
	return nil, false
}

// Detect scores every provider and returns the best one at or above the
// threshold. A provider named by the classification gets a small bonus.
func (r *Registry) Detect(ctx context.Context, session browser.Session, cls captcha.Classification) (Protocol, float64) {
	var (
		best      Protocol
		bestScore float64
	)
	for _, p := range r.protocols {
		score := p.Detect(ctx, session)
		if score > 0 && cls.Provider != captcha.ProviderUnknown && cls.Provider == p.Kind() {
			score += hintBonus
		}
		r.logger.Debug().Str("provider", string(p.Kind())).Float64("score", score).Msg("provider detection")
		if score > bestScore {
			best, bestScore = p, score
		}
	}
	if bestScore < detectThreshold {
		return nil, bestScore
	}
	return best, bestScore
}

// Solve detects the provider and delegates to it.
func (r *Registry) Solve(ctx context.Context, session browser.Session, cls captcha.Classification, vision llm.Vision, maxAttempts int) captcha.SolveResult {
	p, score := r.Detect(ctx, session, cls)
	if p == nil {
		r.logger.Warn().Float64("best_score", score).Msg(msgNoProvider)
		r.metrics.RecordSolve("", false, 0, 0)
		return captcha.SolveResult{Error: msgNoProvider, State: StateFailed.String()}
	}
	r.logger.Info().Str("provider", string(p.Kind())).Float64("score", score).Msg("provider selected")
	return p.Solve(ctx, session, cls, vision, maxAttempts)
}
