package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
	"github.com/polzovatel/browser-captcha-solver/internal/browser/browsertest"
	"github.com/polzovatel/browser-captcha-solver/internal/config"
	"github.com/polzovatel/browser-captcha-solver/internal/grid"
	"github.com/polzovatel/browser-captcha-solver/internal/llm"
)

func testOptions() Options {
	cfg := config.Default()
	t := &cfg.Timings
	t.ScanTimeout = 50 * time.Millisecond
	t.ScanPollInterval = time.Millisecond
	t.CheckboxSettle = time.Millisecond
	t.AutoVerifyPollInterval = time.Millisecond
	t.ThinkMin, t.ThinkMax = time.Millisecond, 2*time.Millisecond
	t.DynamicReplaceWait = time.Millisecond
	t.ResultPollTimeout = 20 * time.Millisecond
	t.ResultPollInterval = time.Millisecond
	t.UnclearRecheckDelay = time.Millisecond
	t.RefreshSettle = time.Millisecond
	t.PointerStepBase = time.Microsecond
	t.DwellMin, t.DwellMax = time.Millisecond, 2*time.Millisecond

	fast := config.ProviderTimings{
		AutoVerifyTimeout: 30 * time.Millisecond,
		ClickGapMin:       time.Millisecond,
		ClickGapMax:       2 * time.Millisecond,
		SubmitSettle:      time.Millisecond,
	}
	cfg.Owl, cfg.Recaptcha, cfg.Cloudflare = fast, fast, fast
	return Options{Config: cfg, Logger: zerolog.Nop(), Seed: 7}
}

// scriptedVision answers with replies in order, then "none".
type scriptedVision struct {
	mu      sync.Mutex
	replies []string
	fail    string
	reqs    []llm.VisionRequest
}

func newVision(replies ...string) *scriptedVision {
	return &scriptedVision{replies: replies}
}

func (v *scriptedVision) CompleteWithImage(_ context.Context, req llm.VisionRequest) llm.VisionResult {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reqs = append(v.reqs, req)
	if v.fail != "" {
		return llm.VisionResult{Error: v.fail}
	}
	if len(v.replies) == 0 {
		return llm.VisionResult{Success: true, Content: "none"}
	}
	reply := v.replies[0]
	v.replies = v.replies[1:]
	return llm.VisionResult{Success: true, Content: reply}
}

func (v *scriptedVision) calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.reqs)
}

// button is a clickable rect with a handler counting its clicks.
type button struct {
	rect   browser.Rect
	clicks int
	on     func(n int)
}

// page routes fake session clicks to buttons.
type page struct {
	sess    *browsertest.Session
	mu      sync.Mutex
	buttons []*button
}

func newPage() *page {
	p := &page{sess: browsertest.New()}
	p.sess.OnClick = p.route
	return p
}

func (p *page) button(r browser.Rect, on func(n int)) *button {
	b := &button{rect: r, on: on}
	p.mu.Lock()
	p.buttons = append(p.buttons, b)
	p.mu.Unlock()
	return b
}

func (p *page) route(pt browser.Point) {
	p.mu.Lock()
	var hit *button
	for _, b := range p.buttons {
		if b.rect.Contains(pt) {
			hit = b
			break
		}
	}
	if hit != nil {
		hit.clicks++
	}
	p.mu.Unlock()
	if hit != nil && hit.on != nil {
		hit.on(hit.clicks)
	}
}

func (b *button) count(p *page) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return b.clicks
}

func tileElements(selector string, g grid.Geometry) []browser.ElementInfo {
	out := make([]browser.ElementInfo, 0, len(g.Tiles))
	for _, r := range g.Tiles {
		out = append(out, browsertest.Element(selector, r.X, r.Y, r.Width, r.Height))
	}
	return out
}

func withText(el browser.ElementInfo, text string) browser.ElementInfo {
	el.Text = text
	return el
}

func withClass(el browser.ElementInfo, class string) browser.ElementInfo {
	el.Class = class
	return el
}

func withAttr(el browser.ElementInfo, name, value string) browser.ElementInfo {
	if el.Attributes == nil {
		el.Attributes = map[string]string{}
	}
	el.Attributes[name] = value
	return el
}

func clicksOn(sess *browsertest.Session, g grid.Geometry, offset browser.Point) []int {
	out := make([]int, len(g.Tiles))
	for i, r := range g.Tiles {
		out[i] = sess.ClickCount(r.Offset(offset))
	}
	return out
}
