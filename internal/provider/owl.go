package provider

import (
	"context"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
	"github.com/polzovatel/browser-captcha-solver/internal/captcha"
	"github.com/polzovatel/browser-captcha-solver/internal/config"
	"github.com/polzovatel/browser-captcha-solver/internal/grid"
	"github.com/polzovatel/browser-captcha-solver/internal/llm"
)

// Default selectors of the first-party Owl widget. Classification selectors
// take precedence when present.
const (
	owlRootSel        = ".owl-captcha"
	owlDataSel        = "[data-owl-captcha]"
	owlCheckboxSel    = "#owl-captcha-checkbox"
	owlChallengeSel   = ".owl-captcha-challenge"
	owlTargetSel      = ".owl-captcha-target"
	owlInstructionSel = ".owl-captcha-instruction"
	owlGridSel        = ".owl-captcha-grid"
	owlTileSel        = ".owl-captcha-tile"
	owlVerifySel      = "#owl-captcha-verify"
	owlSkipSel        = "#owl-captcha-skip"
	owlRefreshSel     = "#owl-captcha-refresh"
	owlVerifiedSel    = ".owl-captcha-verified"
	owlErrorSel       = ".owl-captcha-error"
	owlSelectMoreSel  = ".owl-captcha-error-select-more"
)

var owlFallback = grid.Fallback{Tile9: 100, Tile16: 75, Gap: 4}

type Owl struct {
	engine *engine
}

func NewOwl(opts Options) *Owl {
	return &Owl{engine: newEngine(owlSurface{}, opts)}
}

func (o *Owl) Kind() captcha.ProviderKind { return captcha.ProviderOwl }

func (o *Owl) Detect(ctx context.Context, session browser.Session) float64 {
	return o.engine.detect(ctx, session)
}

func (o *Owl) Solve(ctx context.Context, session browser.Session, cls captcha.Classification, vision llm.Vision, maxAttempts int) captcha.SolveResult {
	return o.engine.solve(ctx, session, cls, vision, maxAttempts)
}

// owlSurface lives in the top-level document.
type owlSurface struct {
	checkbox, challenge, target, instruction string
	grid, tile, verify, skipBtn, refreshBtn     string
}

func (owlSurface) kind() captcha.ProviderKind { return captcha.ProviderOwl }

func (owlSurface) timings(cfg config.Config) config.ProviderTimings { return cfg.Owl }

func (owlSurface) bind(cls captcha.Classification) (surface, string) {
	if !cls.IsImageSelection() {
		return nil, "classification is not an image selection challenge"
	}
	return owlSurface{
		checkbox:    captcha.Or(cls.CheckboxSelector, owlCheckboxSel),
		challenge:   captcha.Or(cls.ChallengeSelector, owlChallengeSel),
		target:      captcha.Or(cls.TargetSelector, owlTargetSel),
		instruction: captcha.Or(cls.InstructionSelector, owlInstructionSel),
		grid:        captcha.Or(cls.GridSelector, owlGridSel),
		tile:        captcha.Or(cls.TileSelector, owlTileSel),
		verify:      captcha.Or(cls.SubmitSelector, owlVerifySel),
		skipBtn:     captcha.Or(cls.SkipSelector, owlSkipSel),
		refreshBtn:  captcha.Or(cls.RefreshSelector, owlRefreshSel),
	}, ""
}

func (owlSurface) detect(ctx context.Context, scanner *browser.Scanner) float64 {
	top := browser.FrameRef{}
	switch {
	case visibleAny(ctx, scanner, top, owlRootSel):
		return 0.95
	case visibleAny(ctx, scanner, top, owlDataSel, owlCheckboxSel):
		return 0.9
	}
	return 0
}

func (o owlSurface) clickCheckbox(ctx context.Context, r *run) error {
	return r.clickIn(ctx, nil, browser.FrameRef{}, o.checkbox)
}

func (o owlSurface) isVerified(ctx context.Context, r *run) bool {
	if r.visible(ctx, browser.FrameRef{}, owlVerifiedSel) {
		return true
	}
	el, ok := r.scanner.First(ctx, browser.FrameRef{}, o.checkbox)
	return ok && (el.Attr("aria-checked") == "true" || hasClass(el, "checked"))
}

func (o owlSurface) challengeVisible(ctx context.Context, r *run) (bool, error) {
	return r.present(ctx, browser.FrameRef{}, o.challenge)
}

func (o owlSurface) readChallenge(ctx context.Context, r *run) challengeInfo {
	top := browser.FrameRef{}
	info := challengeInfo{
		Target:      r.scanner.Text(ctx, top, o.target),
		Instruction: r.scanner.Text(ctx, top, o.instruction),
	}
	if el, ok := r.scanner.First(ctx, top, o.grid); ok {
		info.GridClass = el.Class
	}
	if tiles, err := r.scanner.Visible(ctx, top, o.tile); err == nil {
		info.TileCount = len(tiles)
	}
	return info
}

func (owlSurface) normalizeMode(m captcha.ModeState) captcha.ModeState { return m }

func (o owlSurface) region(_ context.Context, _ *run, mode captcha.ModeState) grid.Region {
	return grid.Region{
		Container:   o.grid,
		Tiles:       o.tile,
		ErrorBanner: owlErrorSel,
		Size:        mode.GridSize,
		Fallback:    owlFallback,
		Label:       "owl",
	}
}

func (o owlSurface) submit(ctx context.Context, r *run) error {
	return r.clickIn(ctx, nil, browser.FrameRef{}, o.verify)
}

func (o owlSurface) skip(ctx context.Context, r *run) error {
	return r.clickIn(ctx, nil, browser.FrameRef{}, o.skipBtn, o.verify)
}

func (o owlSurface) refresh(ctx context.Context, r *run) error {
	return r.clickIn(ctx, nil, browser.FrameRef{}, o.refreshBtn)
}

func (owlSurface) feedback(ctx context.Context, r *run) feedback {
	top := browser.FrameRef{}
	if r.visible(ctx, top, owlSelectMoreSel) {
		return feedbackSelectMore
	}
	el, ok := r.scanner.First(ctx, top, owlErrorSel)
	if !ok {
		return feedbackNone
	}
	if containsFold(el.Text, "select more", "select all matching", "also") {
		return feedbackSelectMore
	}
	return feedbackRetry
}

func (owlSurface) assumeAutoVerify() bool { return false }

func visibleAny(ctx context.Context, scanner *browser.Scanner, frame browser.FrameRef, selectors ...string) bool {
	_, ok := scanner.First(ctx, frame, selectors...)
	return ok
}
