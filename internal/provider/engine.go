package provider

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
	"github.com/polzovatel/browser-captcha-solver/internal/captcha"
	"github.com/polzovatel/browser-captcha-solver/internal/config"
	"github.com/polzovatel/browser-captcha-solver/internal/grid"
	"github.com/polzovatel/browser-captcha-solver/internal/human"
	"github.com/polzovatel/browser-captcha-solver/internal/llm"
	"github.com/polzovatel/browser-captcha-solver/internal/metrics"
	"github.com/polzovatel/browser-captcha-solver/internal/vision"
)

// engine runs the solve state machine for one surface.
type engine struct {
	surface surface
	cfg     config.Config
	pt      config.ProviderTimings
	matcher *vision.Matcher
	metrics *metrics.Collector
	seed    int64
	logger  zerolog.Logger
}

func newEngine(s surface, opts Options) *engine {
	logger := opts.Logger.With().Str("comp", "provider").Str("provider", string(s.kind())).Logger()
	return &engine{
		surface: s,
		cfg:     opts.Config,
		pt:      s.timings(opts.Config),
		matcher: vision.NewMatcher(opts.Config.Vision.MaxTokens, opts.Config.Vision.Temperature, opts.Logger),
		metrics: opts.Metrics,
		seed:    opts.Seed,
		logger:  logger,
	}
}

func (e *engine) scanner(session browser.Session) *browser.Scanner {
	t := e.cfg.Timings
	return browser.NewScanner(session, t.ScanTimeout, t.ScanPollInterval)
}

func (e *engine) detect(ctx context.Context, session browser.Session) float64 {
	if ctx.Err() != nil {
		return 0
	}
	return e.surface.detect(ctx, e.scanner(session))
}

// attemptOutcome is the verdict of one pass through the attempt loop.
type attemptOutcome struct {
	solved     bool
	confidence float64
}

func (e *engine) solve(ctx context.Context, session browser.Session, cls captcha.Classification, v llm.Vision, maxAttempts int) (res captcha.SolveResult) {
	kind := e.surface.kind()
	started := time.Now()
	res = captcha.SolveResult{Provider: kind}
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	defer func() {
		// Spending the whole budget without success always asks for a new
		// challenge instance, however the last attempt ended.
		if !res.Success && maxAttempts > 0 && res.Attempts >= maxAttempts {
			res.NeedsSkip = true
		}
		e.metrics.RecordSolve(string(kind), res.Success, res.Attempts, time.Since(started))
		e.logger.Info().
			Bool("success", res.Success).
			Int("attempts", res.Attempts).
			Float64("confidence", res.Confidence).
			Str("state", res.State).
			Str("error", res.Error).
			Msg("solve finished")
	}()

	if v == nil {
		res.Error = vision.MsgVisionUnavailable
		res.State = StateFailed.String()
		return res
	}
	s, reason := e.surface.bind(cls)
	if reason != "" {
		res.Error = reason
		res.State = StateFailed.String()
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		res.State = StateFailed.String()
		return res
	}

	r := e.newRun(session, cls, v)
	fail := func(msg string) captcha.SolveResult {
		r.transition(StateFailed)
		res.Error = msg
		res.State = r.state.String()
		return res
	}
	succeed := func(conf float64) captcha.SolveResult {
		r.transition(StateSolved)
		res.Success = true
		res.Confidence = conf
		res.SelectedTiles = r.selection.Selected()
		res.Target = r.target
		res.State = r.state.String()
		return res
	}

	r.transition(StateIdle)
	if s.isVerified(ctx, r) {
		return succeed(captcha.ConfidenceVerified)
	}

	if visible, _ := s.challengeVisible(ctx, r); !visible {
		if err := s.clickCheckbox(ctx, r); err != nil {
			if ctx.Err() != nil {
				return fail(ctx.Err().Error())
			}
			return fail(fmt.Sprintf("checkbox click failed: %v", err))
		}
		r.transition(StateCheckboxClicked)
		if err := human.Sleep(ctx, e.cfg.Timings.CheckboxSettle); err != nil {
			return fail(err.Error())
		}

		r.transition(StateAwaitingChallenge)
		switch e.awaitChallenge(ctx, s, r) {
		case awaitVerified:
			return succeed(captcha.ConfidenceVerified)
		case awaitTimeout:
			if ctx.Err() != nil {
				return fail(ctx.Err().Error())
			}
			if s.assumeAutoVerify() {
				r.logger.Info().Msg("no challenge after checkbox; assuming auto-verify")
				return succeed(captcha.ConfidenceAssumed)
			}
			r.logger.Warn().Msg("challenge did not appear after checkbox")
		}
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r.attempt = attempt
		res.Attempts = attempt
		out := e.attempt(ctx, s, r)
		if err := ctx.Err(); err != nil {
			return fail(err.Error())
		}
		if out.solved {
			return succeed(out.confidence)
		}
	}

	r.transition(StateExhausted)
	res.NeedsSkip = true
	res.Target = r.target
	res.SelectedTiles = r.selection.Selected()
	res.State = r.state.String()
	res.Error = r.lastErr
	if res.Error == "" {
		res.Error = fmt.Sprintf("challenge not solved after %d attempts", maxAttempts)
	}
	return res
}

func (e *engine) newRun(session browser.Session, cls captcha.Classification, v llm.Vision) *run {
	t := e.cfg.Timings
	scanner := e.scanner(session)
	synth := human.New(e.seed)
	return &run{
		kind:      e.surface.kind(),
		session:   session,
		scanner:   scanner,
		sampler:   grid.NewSampler(session, scanner, e.cfg.DebugDir, e.logger),
		pointer:   human.NewPointer(session, synth, t.PointerStepBase, t.DwellMin, t.DwellMax),
		synth:     synth,
		cls:       cls,
		vision:    v,
		selection: captcha.NewTileSelection(),
		logger:    e.logger,
	}
}

type awaitResult int

const (
	awaitTimeout awaitResult = iota
	awaitVerified
	awaitChallenge
)

// awaitChallenge polls until the provider reports verification, shows the
// challenge, or the provider's auto-verify timeout passes.
func (e *engine) awaitChallenge(ctx context.Context, s surface, r *run) awaitResult {
	deadline := time.Now().Add(e.pt.AutoVerifyTimeout)
	for {
		if s.isVerified(ctx, r) {
			return awaitVerified
		}
		if visible, err := s.challengeVisible(ctx, r); err == nil && visible {
			return awaitChallenge
		}
		if time.Now().After(deadline) {
			return awaitTimeout
		}
		if human.Sleep(ctx, e.cfg.Timings.AutoVerifyPollInterval) != nil {
			return awaitTimeout
		}
	}
}

// attempt is one pass: detect mode, capture, ask the model, click, submit
// and interpret the page's verdict.
func (e *engine) attempt(ctx context.Context, s surface, r *run) attemptOutcome {
	r.selection.Reset()
	r.transition(StateChallengeActive)

	if visible, err := s.challengeVisible(ctx, r); err == nil && !visible && s.isVerified(ctx, r) {
		return attemptOutcome{solved: true, confidence: captcha.ConfidenceVerified}
	}

	info := s.readChallenge(ctx, r)
	mode := s.normalizeMode(captcha.DetectMode(captcha.ModeInput{
		InstructionText: info.Instruction,
		GridClass:       info.GridClass,
		TileCount:       info.TileCount,
		DeclaredSize:    r.cls.GridSize,
	}))
	r.target = captcha.ExtractTargetPhrase(info.Target, info.Instruction, r.cls.TargetPhrase)
	region := s.region(ctx, r, mode)

	r.logger.Debug().
		Int("attempt", r.attempt).
		Str("mode", mode.String()).
		Str("target", r.target).
		Msg("challenge read")

	capture, err := r.sampler.CaptureGrid(ctx, region)
	if err != nil || capture.Empty() {
		r.logger.Warn().Err(err).Int("attempt", r.attempt).Msg("grid capture failed; refreshing")
		r.lastErr = fmt.Sprintf("grid capture failed: %v", err)
		e.refresh(ctx, s, r)
		return attemptOutcome{}
	}
	if capture.Geometry.Size != mode.GridSize {
		mode = s.normalizeMode(captcha.DetectMode(captcha.ModeInput{
			InstructionText: info.Instruction,
			TileCount:       capture.Geometry.Size,
		}))
	}

	matches := e.identify(ctx, r, capture, mode, nil)
	if len(matches) == 0 {
		if mode.FourByFour && mode.GridType == captcha.GridSlicedImage {
			return e.skipEmpty(ctx, s, r)
		}
		r.logger.Warn().Int("attempt", r.attempt).Msg("no matching tiles; refreshing")
		e.refresh(ctx, s, r)
		return attemptOutcome{}
	}

	if human.Sleep(ctx, r.synth.Delay(e.cfg.Timings.ThinkMin, e.cfg.Timings.ThinkMax)) != nil {
		return attemptOutcome{}
	}
	e.clickTiles(ctx, r, capture.Geometry, matches)

	if mode.Dynamic {
		e.dynamicRounds(ctx, r, region, mode, matches)
	}

	verdict, conf := e.submitAndInterpret(ctx, s, r)
	switch verdict {
	case verdictSolved:
		return attemptOutcome{solved: true, confidence: conf}
	case verdictSelectMore:
		r.transition(StateSelectMore)
		if e.selectMore(ctx, s, r, region, mode) {
			verdict, conf = e.interpret(ctx, s, r)
			if verdict == verdictSolved {
				return attemptOutcome{solved: true, confidence: conf}
			}
			if verdict == verdictUnclear {
				return e.recheck(ctx, s, r)
			}
		}
		return attemptOutcome{}
	case verdictUnclear:
		return e.recheck(ctx, s, r)
	default:
		r.transition(StateRetry)
		return attemptOutcome{}
	}
}

// skipEmpty handles a 4x4 sliced grid with no matches: the object may be
// absent, so Skip is the right answer within the same attempt.
func (e *engine) skipEmpty(ctx context.Context, s surface, r *run) attemptOutcome {
	r.logger.Info().Int("attempt", r.attempt).Msg("no matches on 4x4 grid; skipping")
	r.transition(StateSubmitting)
	if err := s.skip(ctx, r); err != nil {
		r.logger.Warn().Err(err).Msg("skip failed")
		r.lastErr = fmt.Sprintf("skip failed: %v", err)
		return attemptOutcome{}
	}
	if human.Sleep(ctx, e.pt.SubmitSettle) != nil {
		return attemptOutcome{}
	}
	verdict, conf := e.interpret(ctx, s, r)
	if verdict == verdictSolved {
		return attemptOutcome{solved: true, confidence: conf}
	}
	return attemptOutcome{}
}

// identify runs one vision call and records its outcome.
func (e *engine) identify(ctx context.Context, r *run, capture grid.Capture, mode captcha.ModeState, candidates []int) []int {
	res := e.matcher.IdentifyMatches(ctx, r.vision, vision.Request{
		Image:      capture.Image,
		Target:     r.target,
		GridSize:   capture.Geometry.Size,
		GridType:   mode.GridType,
		Provider:   r.kind,
		Candidates: candidates,
	})
	switch {
	case res.Err != "":
		r.lastErr = res.Err
		e.metrics.RecordVisionCall(string(r.kind), metrics.VisionError)
	case len(res.Indices) == 0:
		e.metrics.RecordVisionCall(string(r.kind), metrics.VisionNone)
	default:
		e.metrics.RecordVisionCall(string(r.kind), metrics.VisionMatch)
	}
	return res.Indices
}

// clickTiles clicks indices in shuffled order with random gaps.
func (e *engine) clickTiles(ctx context.Context, r *run, geom grid.Geometry, indices []int) {
	for k, i := range r.synth.Shuffle(indices) {
		if k > 0 {
			if human.Sleep(ctx, r.synth.Delay(e.pt.ClickGapMin, e.pt.ClickGapMax)) != nil {
				return
			}
		}
		rect, ok := geom.ClickTarget(i)
		if !ok {
			continue
		}
		if err := r.pointer.ClickRect(ctx, rect); err != nil {
			r.logger.Warn().Err(err).Int("tile", i).Msg("tile click failed")
			continue
		}
		r.selection.RecordClick(i)
	}
	r.logger.Debug().Ints("tiles", indices).Msg("tiles clicked")
}

// dynamicRounds re-examines replaced tiles until no new matches turn up for
// DynamicIdleRounds rounds or DynamicMaxRounds is spent.
func (e *engine) dynamicRounds(ctx context.Context, r *run, region grid.Region, mode captcha.ModeState, clicked []int) {
	t := e.cfg.Timings
	pending := sortedCopy(clicked)
	idle := 0
	for round := 1; round <= t.DynamicMaxRounds && idle < t.DynamicIdleRounds; round++ {
		if human.Sleep(ctx, t.DynamicReplaceWait) != nil {
			return
		}
		for _, i := range pending {
			r.selection.MarkReplaced(i)
		}
		capture, err := r.sampler.CaptureGrid(ctx, region)
		if err != nil || capture.Empty() {
			r.logger.Warn().Err(err).Int("round", round).Msg("dynamic recapture failed")
			return
		}
		matches := e.identify(ctx, r, capture, mode, pending)
		r.logger.Debug().Int("round", round).Ints("pending", pending).Ints("matches", matches).Msg("dynamic round")
		if len(matches) == 0 {
			idle++
			continue
		}
		idle = 0
		e.clickTiles(ctx, r, capture.Geometry, matches)
		pending = sortedCopy(matches)
	}
}

// selectMore looks for matching tiles that are not selected yet, clicks them
// and resubmits. It reports whether anything was resubmitted.
func (e *engine) selectMore(ctx context.Context, s surface, r *run, region grid.Region, mode captcha.ModeState) bool {
	capture, err := r.sampler.CaptureGrid(ctx, region)
	if err != nil || capture.Empty() {
		return false
	}
	extra := r.selection.Unselected(e.identify(ctx, r, capture, mode, nil))
	if len(extra) == 0 {
		r.logger.Debug().Msg("select more: no additional tiles")
		return false
	}
	e.clickTiles(ctx, r, capture.Geometry, extra)
	r.transition(StateSubmitting)
	if err := s.submit(ctx, r); err != nil {
		r.logger.Warn().Err(err).Msg("resubmit failed")
		return false
	}
	return human.Sleep(ctx, e.pt.SubmitSettle) == nil
}

type verdict int

const (
	verdictUnclear verdict = iota
	verdictSolved
	verdictRetry
	verdictSelectMore
)

func (e *engine) submitAndInterpret(ctx context.Context, s surface, r *run) (verdict, float64) {
	r.transition(StateSubmitting)
	if e.cfg.AutoSubmit {
		if err := s.submit(ctx, r); err != nil {
			r.logger.Warn().Err(err).Msg("submit failed")
			r.lastErr = fmt.Sprintf("submit failed: %v", err)
			return verdictRetry, 0
		}
	}
	if human.Sleep(ctx, e.pt.SubmitSettle) != nil {
		return verdictRetry, 0
	}
	return e.interpret(ctx, s, r)
}

// interpret polls the page for a verdict in priority order: verified,
// challenge gone, retry banner, select-more banner. A page that cannot be
// read never counts as the challenge being gone.
func (e *engine) interpret(ctx context.Context, s surface, r *run) (verdict, float64) {
	t := e.cfg.Timings
	deadline := time.Now().Add(t.ResultPollTimeout)
	for {
		if s.isVerified(ctx, r) {
			return verdictSolved, captcha.ConfidenceVerified
		}
		visible, err := s.challengeVisible(ctx, r)
		if err != nil {
			r.logger.Debug().Err(err).Msg("challenge visibility unknown")
		} else if !visible {
			return verdictSolved, captcha.ConfidenceSurfaceGone
		}
		switch s.feedback(ctx, r) {
		case feedbackRetry:
			r.logger.Info().Int("attempt", r.attempt).Msg("challenge rejected the answer")
			return verdictRetry, 0
		case feedbackSelectMore:
			return verdictSelectMore, 0
		}
		if time.Now().After(deadline) {
			return verdictUnclear, 0
		}
		if human.Sleep(ctx, t.ResultPollInterval) != nil {
			return verdictUnclear, 0
		}
	}
}

// recheck gives an unclear result one more look after a delay.
func (e *engine) recheck(ctx context.Context, s surface, r *run) attemptOutcome {
	r.transition(StateUnclear)
	if human.Sleep(ctx, e.cfg.Timings.UnclearRecheckDelay) != nil {
		return attemptOutcome{}
	}
	if s.isVerified(ctx, r) {
		return attemptOutcome{solved: true, confidence: captcha.ConfidenceVerified}
	}
	visible, err := s.challengeVisible(ctx, r)
	if err == nil && !visible {
		return attemptOutcome{solved: true, confidence: captcha.ConfidenceSurfaceGone}
	}
	if err != nil {
		r.logger.Warn().Err(err).Msg("challenge state unreadable after submit")
	}
	r.lastErr = "verification result unclear"
	return attemptOutcome{}
}

// refresh asks for a new challenge instance. A classification that reports
// Skip but no refresh control gets Skip, and Skip backs up a failed refresh.
func (e *engine) refresh(ctx context.Context, s surface, r *run) {
	var err error
	if r.cls.HasSkip && !r.cls.HasRefresh {
		err = s.skip(ctx, r)
	} else if err = s.refresh(ctx, r); err != nil && r.cls.HasSkip {
		r.logger.Debug().Err(err).Msg("refresh unavailable; skipping instead")
		err = s.skip(ctx, r)
	}
	if err != nil {
		r.logger.Warn().Err(err).Msg("refresh failed")
	}
	_ = human.Sleep(ctx, e.cfg.Timings.RefreshSettle)
}

func sortedCopy(xs []int) []int {
	out := append([]int(nil), xs...)
	sort.Ints(out)
	return out
}
