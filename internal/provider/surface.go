package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
	"github.com/polzovatel/browser-captcha-solver/internal/captcha"
	"github.com/polzovatel/browser-captcha-solver/internal/config"
	"github.com/polzovatel/browser-captcha-solver/internal/grid"
	"github.com/polzovatel/browser-captcha-solver/internal/human"
	"github.com/polzovatel/browser-captcha-solver/internal/llm"
)

var errElementNotFound = errors.New("element not found")

type feedback int

const (
	feedbackNone feedback = iota
	feedbackRetry
	feedbackSelectMore
)

// challengeInfo is the raw DOM evidence read at the start of an attempt.
type challengeInfo struct {
	Target      string
	Instruction string
	GridClass   string
	TileCount   int
}

// surface is the vendor-specific half of a provider.
type surface interface {
	kind() captcha.ProviderKind
	timings(cfg config.Config) config.ProviderTimings
	// bind validates the classification and returns the surface to use for
	// this solve, or a non-empty reason to refuse.
	bind(cls captcha.Classification) (surface, string)
	detect(ctx context.Context, scanner *browser.Scanner) float64

	clickCheckbox(ctx context.Context, r *run) error
	isVerified(ctx context.Context, r *run) bool
	// challengeVisible reports whether the challenge surface is on screen. A
	// non-nil error means the page could not be read and the answer is unknown.
	challengeVisible(ctx context.Context, r *run) (bool, error)
	readChallenge(ctx context.Context, r *run) challengeInfo
	normalizeMode(m captcha.ModeState) captcha.ModeState
	region(ctx context.Context, r *run, mode captcha.ModeState) grid.Region

	submit(ctx context.Context, r *run) error
	skip(ctx context.Context, r *run) error
	refresh(ctx context.Context, r *run) error
	feedback(ctx context.Context, r *run) feedback

	// assumeAutoVerify reports whether a checkbox click that never produced a
	// challenge counts as a low confidence success.
	assumeAutoVerify() bool
}

// run is the per-Solve working state.
type run struct {
	kind      captcha.ProviderKind
	session   browser.Session
	scanner   *browser.Scanner
	sampler   *grid.Sampler
	pointer   *human.Pointer
	synth     *human.Synthesizer
	cls       captcha.Classification
	vision    llm.Vision
	selection *captcha.TileSelection
	logger    zerolog.Logger

	attempt int
	state   State
	target  string
	lastErr string
}

func (r *run) transition(s State) {
	r.state = s
	r.logger.Debug().
		Str("state", s.String()).
		Int("attempt", r.attempt).
		Str("provider", string(r.kind)).
		Msg("state transition")
}

// visible reports whether any selector matches a visible element in frame.
func (r *run) visible(ctx context.Context, frame browser.FrameRef, selectors ...string) bool {
	_, ok := r.scanner.First(ctx, frame, selectors...)
	return ok
}

// present is visible with failed scans reported instead of read as absence.
func (r *run) present(ctx context.Context, frame browser.FrameRef, selectors ...string) (bool, error) {
	_, ok, err := r.scanner.Find(ctx, frame, selectors...)
	return ok, err
}

// clickIn clicks the first visible element matching selectors in frame. links
// lead from the top-level page to frame.
func (r *run) clickIn(ctx context.Context, links []grid.FrameLink, frame browser.FrameRef, selectors ...string) error {
	el, ok := r.scanner.First(ctx, frame, selectors...)
	if !ok {
		return fmt.Errorf("%w: %s in %s", errElementNotFound, strings.Join(nonEmpty(selectors), ", "), frame)
	}
	offset, err := grid.FrameOffset(ctx, r.scanner, links)
	if err != nil {
		return err
	}
	return r.pointer.ClickRect(ctx, el.Rect().Offset(offset))
}

// clickFrameAt clicks a fixed point inside the innermost frame of links.
func (r *run) clickFrameAt(ctx context.Context, links []grid.FrameLink, at browser.Point) error {
	offset, err := grid.FrameOffset(ctx, r.scanner, links)
	if err != nil {
		return err
	}
	return r.pointer.Click(ctx, offset.Add(at))
}

func nonEmpty(xs []string) []string {
	out := xs[:0:0]
	for _, x := range xs {
		if strings.TrimSpace(x) != "" {
			out = append(out, x)
		}
	}
	return out
}

func hasClass(el browser.ElementInfo, class string) bool {
	for _, c := range strings.Fields(el.Class) {
		if c == class {
			return true
		}
	}
	return false
}

func containsFold(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
