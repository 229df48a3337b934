package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
)

const (
	defaultNavTimeout = 30 * time.Second
)

// Launcher owns playwright lifecycle.
type Launcher struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	headless bool
}

func NewLauncher(ctx context.Context, headless bool) (*Launcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: browser, headless: headless}, nil
}

// NewSession opens a fresh context and page.
func (l *Launcher) NewSession(ctx context.Context, logger zerolog.Logger) (*PlaywrightSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bctx, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(defaultNavTimeout.Milliseconds()))
	return &PlaywrightSession{
		context: bctx,
		page:    page,
		scans:   make(map[string][]ElementInfo),
		logger:  logger,
	}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

// PlaywrightSession implements Session on one playwright page.
type PlaywrightSession struct {
	context playwright.BrowserContext
	page    playwright.Page
	logger  zerolog.Logger

	mu    sync.Mutex
	scans map[string][]ElementInfo
}

func (s *PlaywrightSession) Page() playwright.Page {
	return s.page
}

func (s *PlaywrightSession) Close(ctx context.Context) error {
	_ = ctx
	if s.page != nil {
		_ = s.page.Close()
	}
	if s.context != nil {
		return s.context.Close()
	}
	return nil
}

func (s *PlaywrightSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(defaultNavTimeout.Milliseconds())),
	})
	return wrap(err)
}

func (s *PlaywrightSession) ClickAt(ctx context.Context, p Point, hold time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mouse := s.page.Mouse()
	if err := mouse.Move(p.X, p.Y); err != nil {
		return wrap(err)
	}
	if err := mouse.Down(); err != nil {
		return wrap(err)
	}
	if hold > 0 {
		select {
		case <-ctx.Done():
			_ = mouse.Up()
			return ctx.Err()
		case <-time.After(hold):
		}
	}
	return wrap(mouse.Up())
}

func (s *PlaywrightSession) MoveTo(ctx context.Context, p Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(s.page.Mouse().Move(p.X, p.Y))
}

func (s *PlaywrightSession) ScanRegion(ctx context.Context, contextID string, frame FrameRef, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fr, err := s.frameFor(frame)
	if err != nil {
		return err
	}
	val, err := fr.Evaluate(playwrightScanScript, selector)
	if err != nil {
		return wrap(err)
	}
	// Round-trip through JSON to get typed elements.
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("marshal scan: %w", err)
	}
	var elems []ElementInfo
	if err := json.Unmarshal(raw, &elems); err != nil {
		return fmt.Errorf("decode scan: %w", err)
	}
	s.mu.Lock()
	s.scans[contextID] = elems
	s.mu.Unlock()
	s.logger.Debug().
		Str("context_id", contextID).
		Str("frame", frame.String()).
		Str("selector", selector).
		Int("elements", len(elems)).
		Msg("scan stored")
	return nil
}

func (s *PlaywrightSession) GetScannedElements(contextID string) ([]ElementInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elems, ok := s.scans[contextID]
	if ok {
		delete(s.scans, contextID)
	}
	return elems, ok
}

func (s *PlaywrightSession) ExecuteScript(ctx context.Context, frame FrameRef, js string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fr, err := s.frameFor(frame)
	if err != nil {
		return err
	}
	_, err = fr.Evaluate(js)
	return wrap(err)
}

func (s *PlaywrightSession) CaptureScreenshot(ctx context.Context, clip Rect) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if clip.Empty() {
		return nil, fmt.Errorf("empty clip %+v", clip)
	}
	data, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
		Clip: &playwright.Rect{
			X:      clip.X,
			Y:      clip.Y,
			Width:  clip.Width,
			Height: clip.Height,
		},
	})
	if err != nil {
		return nil, wrap(err)
	}
	return data, nil
}

func (s *PlaywrightSession) frameFor(ref FrameRef) (playwright.Frame, error) {
	if ref.IsTop() {
		return s.page.MainFrame(), nil
	}
	for _, fr := range s.page.Frames() {
		if ref.Name != "" && fr.Name() == ref.Name {
			return fr, nil
		}
		if ref.URLContains != "" && strings.Contains(fr.URL(), ref.URLContains) {
			return fr, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFrameNotFound, ref)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}
