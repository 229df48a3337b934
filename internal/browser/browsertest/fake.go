// Package browsertest provides an in-memory browser.Session for tests.
package browsertest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
)

// Click is one recorded ClickAt call.
type Click struct {
	Point browser.Point
	Hold  time.Duration
}

// Session is a scriptable page. Scans answer from a table keyed by frame and
// selector; clicks are recorded and handed to OnClick.
type Session struct {
	mu       sync.Mutex
	elements map[key][]browser.ElementInfo
	pending  map[string][]browser.ElementInfo
	frames   map[browser.FrameRef]bool

	Clicks  []Click
	Moves   []browser.Point
	Scripts []string
	Shots   []browser.Rect
	Scans   []string

	// OnClick runs after each click is recorded, outside the lock.
	OnClick func(p browser.Point)
	// ScanErr, when set, fails every scan.
	ScanErr error
	// Scale multiplies screenshot pixel dimensions, mimicking device pixel ratio.
	Scale float64
}

type key struct {
	frame    browser.FrameRef
	selector string
}

func New() *Session {
	return &Session{
		elements: make(map[key][]browser.ElementInfo),
		pending:  make(map[string][]browser.ElementInfo),
		frames:   map[browser.FrameRef]bool{{}: true},
		Scale:    1,
	}
}

// Set replaces the elements a scan of selector in frame returns. Setting
// elements for a frame makes the frame resolvable.
func (s *Session) Set(frame browser.FrameRef, selector string, elems ...browser.ElementInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[frame] = true
	s.elements[key{frame, selector}] = append([]browser.ElementInfo(nil), elems...)
}

// Clear removes whatever selector in frame returned.
func (s *Session) Clear(frame browser.FrameRef, selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.elements, key{frame, selector})
}

// FailScans makes every later scan return err. A nil err restores scanning.
func (s *Session) FailScans(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScanErr = err
}

func (s *Session) ClickAt(ctx context.Context, p browser.Point, hold time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.Clicks = append(s.Clicks, Click{Point: p, Hold: hold})
	handler := s.OnClick
	s.mu.Unlock()
	if handler != nil {
		handler(p)
	}
	return nil
}

func (s *Session) MoveTo(ctx context.Context, p browser.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.Moves = append(s.Moves, p)
	s.mu.Unlock()
	return nil
}

func (s *Session) ScanRegion(ctx context.Context, contextID string, frame browser.FrameRef, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScanErr != nil {
		return s.ScanErr
	}
	if !s.frames[frame] {
		return browser.ErrFrameNotFound
	}
	s.Scans = append(s.Scans, contextID)
	s.pending[contextID] = append([]browser.ElementInfo(nil), s.elements[key{frame, selector}]...)
	return nil
}

func (s *Session) GetScannedElements(contextID string) ([]browser.ElementInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elems, ok := s.pending[contextID]
	if ok {
		delete(s.pending, contextID)
	}
	return elems, ok
}

func (s *Session) ExecuteScript(ctx context.Context, frame browser.FrameRef, js string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.Scripts = append(s.Scripts, js)
	s.mu.Unlock()
	return nil
}

// CaptureScreenshot returns a grey PNG sized to clip times Scale.
func (s *Session) CaptureScreenshot(ctx context.Context, clip browser.Rect) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.Shots = append(s.Shots, clip)
	scale := s.Scale
	s.mu.Unlock()
	w, h := int(clip.Width*scale), int(clip.Height*scale)
	img := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	for y := 0; y < img.Bounds().Dy(); y++ {
		for x := 0; x < img.Bounds().Dx(); x++ {
			img.Set(x, y, color.Gray{Y: 128})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ClickCount returns how many clicks landed inside r.
func (s *Session) ClickCount(r browser.Rect) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.Clicks {
		if r.Contains(c.Point) {
			n++
		}
	}
	return n
}

// Element builds a visible element with the given box.
func Element(selector string, x, y, w, h float64) browser.ElementInfo {
	return browser.ElementInfo{
		Selector: selector,
		X:        x,
		Y:        y,
		Width:    w,
		Height:   h,
		Visible:  true,
	}
}
