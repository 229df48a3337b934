package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// ChromeSession implements Session over chromedp. Frames are resolved through
// contentDocument, so cross-origin frames report ErrFrameNotFound.
type ChromeSession struct {
	allocCancel context.CancelFunc
	cancel      context.CancelFunc
	ctx         context.Context
	logger      zerolog.Logger

	mu    sync.Mutex
	scans map[string][]ElementInfo
}

func NewChromeSession(headless bool, logger zerolog.Logger) (*ChromeSession, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug().Msgf(format, args...)
		}),
	)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, chromeWrap(err)
	}
	return &ChromeSession{
		allocCancel: allocCancel,
		cancel:      cancel,
		ctx:         ctx,
		logger:      logger,
		scans:       make(map[string][]ElementInfo),
	}, nil
}

func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromeWrap(chromedp.Run(s.ctx, chromedp.Navigate(url)))
}

func (s *ChromeSession) Close(ctx context.Context) error {
	_ = ctx
	s.cancel()
	s.allocCancel()
	return nil
}

func (s *ChromeSession) ClickAt(ctx context.Context, p Point, hold time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromeWrap(chromedp.Run(s.ctx,
		chromedp.ActionFunc(func(c context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y).Do(c)
		}),
		chromedp.ActionFunc(func(c context.Context) error {
			return input.DispatchMouseEvent(input.MousePressed, p.X, p.Y).
				WithButton(input.Left).WithClickCount(1).Do(c)
		}),
		chromedp.Sleep(hold),
		chromedp.ActionFunc(func(c context.Context) error {
			return input.DispatchMouseEvent(input.MouseReleased, p.X, p.Y).
				WithButton(input.Left).WithClickCount(1).Do(c)
		}),
	))
}

func (s *ChromeSession) MoveTo(ctx context.Context, p Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromeWrap(chromedp.Run(s.ctx, chromedp.ActionFunc(func(c context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y).Do(c)
	})))
}

func (s *ChromeSession) ScanRegion(ctx context.Context, contextID string, frame FrameRef, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var res chromeScanResult
	if err := chromedp.Run(s.ctx, chromedp.Evaluate(chromeScanScript(frame, selector), &res)); err != nil {
		return chromeWrap(err)
	}
	if !res.Found {
		return fmt.Errorf("%w: %s", ErrFrameNotFound, frame)
	}
	s.mu.Lock()
	s.scans[contextID] = res.Elements
	s.mu.Unlock()
	s.logger.Debug().
		Str("context_id", contextID).
		Str("frame", frame.String()).
		Str("selector", selector).
		Int("elements", len(res.Elements)).
		Msg("scan stored")
	return nil
}

func (s *ChromeSession) GetScannedElements(contextID string) ([]ElementInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elems, ok := s.scans[contextID]
	if ok {
		delete(s.scans, contextID)
	}
	return elems, ok
}

func (s *ChromeSession) ExecuteScript(ctx context.Context, frame FrameRef, js string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromeWrap(chromedp.Run(s.ctx, chromedp.Evaluate(chromeFrameScript(frame, js), nil)))
}

func (s *ChromeSession) CaptureScreenshot(ctx context.Context, clip Rect) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if clip.Empty() {
		return nil, fmt.Errorf("empty clip %+v", clip)
	}
	var buf []byte
	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithClip(&page.Viewport{X: clip.X, Y: clip.Y, Width: clip.Width, Height: clip.Height, Scale: 1}).
			Do(c)
		return err
	}))
	if err != nil {
		return nil, chromeWrap(err)
	}
	return buf, nil
}

func chromeWrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("chromedp: %w", err)
}
