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
	rcAnchorIframeSel = `iframe[src*="recaptcha/api2/anchor"], iframe[src*="recaptcha/enterprise/anchor"]`
	rcBframeIframeSel = `iframe[src*="recaptcha/api2/bframe"], iframe[src*="recaptcha/enterprise/bframe"]`
	rcWidgetSel       = ".g-recaptcha"

	rcAnchorSel      = "#recaptcha-anchor"
	rcCheckboxBorder = ".recaptcha-checkbox-border"
	rcCheckedClass   = "recaptcha-checkbox-checked"

	rcTargetSel      = ".rc-imageselect-desc-wrapper strong, .rc-imageselect-desc strong, .rc-imageselect-desc-no-canonical strong"
	rcInstructionSel = ".rc-imageselect-desc-wrapper"
	rcTableSel       = `table[class*="rc-imageselect-table"]`
	rcTileSel        = "td.rc-imageselect-tile"
	rcVerifySel      = "#recaptcha-verify-button"
	rcReloadSel      = "#recaptcha-reload-button"

	rcIncorrectSel  = ".rc-imageselect-incorrect-response"
	rcSelectMoreSel = ".rc-imageselect-error-select-more, .rc-imageselect-error-dynamic-more, .rc-imageselect-error-select-something"
	rcErrorBanners  = ".rc-imageselect-incorrect-response, .rc-imageselect-error-select-more, .rc-imageselect-error-dynamic-more, .rc-imageselect-error-select-something"

	rcBframeMinWidth = 250
)

var (
	rcAnchorFrame = browser.FrameRef{URLContains: "/anchor"}
	rcBframe      = browser.FrameRef{URLContains: "/bframe"}

	rcAnchorLinks = []grid.FrameLink{{Selector: rcAnchorIframeSel, MinWidth: 100}}
	rcBframeLinks = []grid.FrameLink{{Selector: rcBframeIframeSel, MinWidth: rcBframeMinWidth}}

	// Checkbox position inside the anchor frame when the element itself is
	// hidden behind an overlay.
	rcCheckboxOffset = browser.Point{X: 28, Y: 30}

	rcFallback = grid.Fallback{Tile9: 126, Tile16: 95, Gap: 4}
)

type Recaptcha struct {
	engine *engine
}

func NewRecaptcha(opts Options) *Recaptcha {
	return &Recaptcha{engine: newEngine(recaptchaSurface{}, opts)}
}

func (p *Recaptcha) Kind() captcha.ProviderKind { return captcha.ProviderRecaptcha }

func (p *Recaptcha) Detect(ctx context.Context, session browser.Session) float64 {
	return p.engine.detect(ctx, session)
}

func (p *Recaptcha) Solve(ctx context.Context, session browser.Session, cls captcha.Classification, vision llm.Vision, maxAttempts int) captcha.SolveResult {
	return p.engine.solve(ctx, session, cls, vision, maxAttempts)
}

// recaptchaSurface spans two iframes: the anchor with the checkbox and the
// bframe with the tile grid.
type recaptchaSurface struct{}

func (recaptchaSurface) kind() captcha.ProviderKind { return captcha.ProviderRecaptcha }

func (recaptchaSurface) timings(cfg config.Config) config.ProviderTimings { return cfg.Recaptcha }

func (s recaptchaSurface) bind(captcha.Classification) (surface, string) { return s, "" }

func (recaptchaSurface) detect(ctx context.Context, scanner *browser.Scanner) float64 {
	top := browser.FrameRef{}
	if _, ok := scanner.Largest(ctx, top, rcBframeIframeSel, rcBframeMinWidth); ok {
		return 0.95
	}
	switch {
	case visibleAny(ctx, scanner, top, rcAnchorIframeSel):
		return 0.9
	case visibleAny(ctx, scanner, top, rcWidgetSel):
		return 0.6
	}
	return 0
}

func (recaptchaSurface) clickCheckbox(ctx context.Context, r *run) error {
	err := r.clickIn(ctx, rcAnchorLinks, rcAnchorFrame, rcCheckboxBorder, rcAnchorSel)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errElementNotFound) && !errors.Is(err, browser.ErrFrameNotFound) {
		return err
	}
	r.logger.Debug().Err(err).Msg("checkbox element not reachable; clicking anchor frame position")
	return r.clickFrameAt(ctx, rcAnchorLinks, rcCheckboxOffset)
}

func (recaptchaSurface) isVerified(ctx context.Context, r *run) bool {
	el, ok := r.scanner.First(ctx, rcAnchorFrame, rcAnchorSel)
	return ok && (el.Attr("aria-checked") == "true" || hasClass(el, rcCheckedClass))
}

// challengeVisible treats a bframe parked far above the viewport as hidden.
func (recaptchaSurface) challengeVisible(ctx context.Context, r *run) (bool, error) {
	el, ok, err := r.scanner.FindLargest(ctx, browser.FrameRef{}, rcBframeIframeSel, rcBframeMinWidth)
	if err != nil {
		return false, err
	}
	return ok && el.Y > -1000, nil
}

func (recaptchaSurface) readChallenge(ctx context.Context, r *run) challengeInfo {
	info := challengeInfo{
		Target:      r.scanner.Text(ctx, rcBframe, rcTargetSel),
		Instruction: r.scanner.Text(ctx, rcBframe, rcInstructionSel),
	}
	if el, ok := r.scanner.First(ctx, rcBframe, rcTableSel); ok {
		info.GridClass = el.Class
	}
	if tiles, err := r.scanner.Visible(ctx, rcBframe, rcTileSel); err == nil {
		info.TileCount = len(tiles)
	}
	return info
}

func (recaptchaSurface) normalizeMode(m captcha.ModeState) captcha.ModeState { return m }

func (recaptchaSurface) region(_ context.Context, _ *run, mode captcha.ModeState) grid.Region {
	return grid.Region{
		Frames:      rcBframeLinks,
		Frame:       rcBframe,
		Container:   rcTableSel,
		Tiles:       rcTileSel,
		ErrorBanner: rcErrorBanners,
		Size:        mode.GridSize,
		Fallback:    rcFallback,
		Label:       "recaptcha",
	}
}

func (recaptchaSurface) submit(ctx context.Context, r *run) error {
	return r.clickIn(ctx, rcBframeLinks, rcBframe, rcVerifySel)
}

// skip uses the verify button, which reads "Skip" while nothing is selected.
func (s recaptchaSurface) skip(ctx context.Context, r *run) error {
	return s.submit(ctx, r)
}

func (recaptchaSurface) refresh(ctx context.Context, r *run) error {
	return r.clickIn(ctx, rcBframeLinks, rcBframe, rcReloadSel)
}

func (recaptchaSurface) feedback(ctx context.Context, r *run) feedback {
	if r.visible(ctx, rcBframe, rcIncorrectSel) {
		return feedbackRetry
	}
	if r.visible(ctx, rcBframe, rcSelectMoreSel) {
		return feedbackSelectMore
	}
	return feedbackNone
}

func (recaptchaSurface) assumeAutoVerify() bool { return true }
