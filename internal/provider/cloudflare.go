package provider

import (
	"context"
	"errors"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
	"github.com/polzovatel/browser-captcha-solver/internal/captcha"
	"github.com/polzovatel/browser-captcha-solver/internal/config"
	"github.com/polzovatel/browser-captcha-solver/internal/grid"
	"github.com/polzovatel/browser-captcha-solver/internal/llm"
)

const (
	cfIframeSel      = `iframe[src*="challenges.cloudflare.com"]`
	cfTurnstileSel   = ".cf-turnstile"
	cfSuccessSel     = "#success"
	hcCheckboxIframe = `iframe[src*="hcaptcha.com"][src*="frame=checkbox"]`
	hcChallengeFrame = `iframe[src*="hcaptcha.com"][src*="frame=challenge"]`
	hcWidgetSel      = ".h-captcha"

	hcCheckboxSel = "#checkbox"
	hcPromptSel   = ".prompt-text"
	hcGridSel     = ".task-grid"
	hcTileSel     = ".task-image"
	hcSubmitSel   = ".button-submit"
	hcRefreshSel  = ".refresh.button"
	hcErrorSel    = ".error-text"

	hcChallengeMinWidth = 250
)

var (
	cfFrame          = browser.FrameRef{URLContains: "challenges.cloudflare.com"}
	hcCheckboxDoc    = browser.FrameRef{URLContains: "frame=checkbox"}
	hcChallengeDoc   = browser.FrameRef{URLContains: "frame=challenge"}
	hcCheckboxOffset = browser.Point{X: 30, Y: 38}
	cfTurnstileSpot  = browser.Point{X: 30, Y: 32}

	hcFallback = grid.Fallback{Tile9: 123, Tile16: 90, Gap: 5}
)

type Cloudflare struct {
	engine *engine
}

func NewCloudflare(opts Options) *Cloudflare {
	return &Cloudflare{engine: newEngine(cloudflareSurface{}, opts)}
}

func (p *Cloudflare) Kind() captcha.ProviderKind { return captcha.ProviderCloudflare }

func (p *Cloudflare) Detect(ctx context.Context, session browser.Session) float64 {
	return p.engine.detect(ctx, session)
}

func (p *Cloudflare) Solve(ctx context.Context, session browser.Session, cls captcha.Classification, vision llm.Vision, maxAttempts int) captcha.SolveResult {
	return p.engine.solve(ctx, session, cls, vision, maxAttempts)
}

// cloudflareSurface handles hCaptcha iframes either on the page itself or
// nested inside a Cloudflare challenge iframe.
type cloudflareSurface struct{}

func (cloudflareSurface) kind() captcha.ProviderKind { return captcha.ProviderCloudflare }

func (cloudflareSurface) timings(cfg config.Config) config.ProviderTimings { return cfg.Cloudflare }

func (s cloudflareSurface) bind(captcha.Classification) (surface, string) { return s, "" }

func (cloudflareSurface) detect(ctx context.Context, scanner *browser.Scanner) float64 {
	top := browser.FrameRef{}
	switch {
	case visibleAny(ctx, scanner, top, hcChallengeFrame, hcCheckboxIframe):
		return 0.9
	case visibleAny(ctx, scanner, top, cfIframeSel):
		return 0.85
	case visibleAny(ctx, scanner, top, cfTurnstileSel):
		return 0.7
	case visibleAny(ctx, scanner, top, hcWidgetSel):
		return 0.6
	}
	return 0
}

// chain returns the frame links leading to the iframe matched by selector,
// looking on the page first and then inside the Cloudflare wrapper.
func (s cloudflareSurface) chain(ctx context.Context, r *run, selector string, minWidth float64) ([]grid.FrameLink, bool) {
	links, ok, _ := s.locate(ctx, r, selector, minWidth)
	return links, ok
}

// locate is chain with scan failures reported. A nil error with no links
// means every document on the way was read and the iframe is absent.
func (cloudflareSurface) locate(ctx context.Context, r *run, selector string, minWidth float64) ([]grid.FrameLink, bool, error) {
	top := browser.FrameRef{}
	if _, ok, err := r.scanner.FindLargest(ctx, top, selector, minWidth); err != nil {
		return nil, false, err
	} else if ok {
		return []grid.FrameLink{{Selector: selector, MinWidth: minWidth}}, true, nil
	}
	_, ok, err := r.scanner.FindLargest(ctx, top, cfIframeSel, 0)
	if err != nil || !ok {
		return nil, false, err
	}
	_, ok, err = r.scanner.FindLargest(ctx, cfFrame, selector, minWidth)
	if err != nil || !ok {
		return nil, false, err
	}
	return []grid.FrameLink{
		{Selector: cfIframeSel},
		{Parent: cfFrame, Selector: selector, MinWidth: minWidth},
	}, true, nil
}

func (s cloudflareSurface) clickCheckbox(ctx context.Context, r *run) error {
	links, ok := s.chain(ctx, r, hcCheckboxIframe, 0)
	if !ok {
		// Turnstile without an hCaptcha widget: the checkbox sits at a fixed
		// spot in the Cloudflare frame.
		if _, found := r.scanner.Largest(ctx, browser.FrameRef{}, cfIframeSel, 0); found {
			return r.clickFrameAt(ctx, []grid.FrameLink{{Selector: cfIframeSel}}, cfTurnstileSpot)
		}
		return errElementNotFound
	}
	err := r.clickIn(ctx, links, hcCheckboxDoc, hcCheckboxSel, `[role="checkbox"]`)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errElementNotFound) && !errors.Is(err, browser.ErrFrameNotFound) {
		return err
	}
	return r.clickFrameAt(ctx, links, hcCheckboxOffset)
}

func (cloudflareSurface) isVerified(ctx context.Context, r *run) bool {
	if el, ok := r.scanner.First(ctx, hcCheckboxDoc, hcCheckboxSel); ok && el.Attr("aria-checked") == "true" {
		return true
	}
	return r.visible(ctx, cfFrame, cfSuccessSel)
}

func (s cloudflareSurface) challengeVisible(ctx context.Context, r *run) (bool, error) {
	_, ok, err := s.locate(ctx, r, hcChallengeFrame, hcChallengeMinWidth)
	return ok, err
}

func (cloudflareSurface) readChallenge(ctx context.Context, r *run) challengeInfo {
	prompt := r.scanner.Text(ctx, hcChallengeDoc, hcPromptSel)
	info := challengeInfo{Instruction: prompt}
	if el, ok := r.scanner.First(ctx, hcChallengeDoc, hcGridSel); ok {
		info.GridClass = el.Class
	}
	if tiles, err := r.scanner.Visible(ctx, hcChallengeDoc, hcTileSel); err == nil {
		info.TileCount = len(tiles)
	}
	return info
}

// normalizeMode pins hCaptcha grids to static 3x3 separate images.
func (cloudflareSurface) normalizeMode(captcha.ModeState) captcha.ModeState {
	return captcha.ModeState{GridSize: 9, GridType: captcha.GridSeparateImages}
}

func (s cloudflareSurface) region(ctx context.Context, r *run, mode captcha.ModeState) grid.Region {
	links, _ := s.chain(ctx, r, hcChallengeFrame, hcChallengeMinWidth)
	if links == nil {
		links = []grid.FrameLink{{Selector: hcChallengeFrame, MinWidth: hcChallengeMinWidth}}
	}
	return grid.Region{
		Frames:      links,
		Frame:       hcChallengeDoc,
		Container:   hcGridSel,
		Tiles:       hcTileSel,
		ErrorBanner: hcErrorSel,
		Size:        mode.GridSize,
		Fallback:    hcFallback,
		Label:       "cloudflare",
	}
}

func (s cloudflareSurface) clickChallenge(ctx context.Context, r *run, selectors ...string) error {
	links, ok := s.chain(ctx, r, hcChallengeFrame, hcChallengeMinWidth)
	if !ok {
		return browser.ErrFrameNotFound
	}
	return r.clickIn(ctx, links, hcChallengeDoc, selectors...)
}

func (s cloudflareSurface) submit(ctx context.Context, r *run) error {
	return s.clickChallenge(ctx, r, hcSubmitSel)
}

// skip uses the submit button, which turns into Skip with nothing selected.
func (s cloudflareSurface) skip(ctx context.Context, r *run) error {
	return s.clickChallenge(ctx, r, hcSubmitSel)
}

func (s cloudflareSurface) refresh(ctx context.Context, r *run) error {
	return s.clickChallenge(ctx, r, hcRefreshSel)
}

func (cloudflareSurface) feedback(ctx context.Context, r *run) feedback {
	el, ok := r.scanner.First(ctx, hcChallengeDoc, hcErrorSel)
	if !ok || el.Text == "" {
		return feedbackNone
	}
	if containsFold(el.Text, "select more", "also") {
		return feedbackSelectMore
	}
	return feedbackRetry
}

func (cloudflareSurface) assumeAutoVerify() bool { return true }
