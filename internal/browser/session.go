package browser

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	// ErrFrameNotFound is returned when no frame matches a FrameRef.
	ErrFrameNotFound = errors.New("frame not found")
	// ErrScanTimeout is returned when scan results never became readable.
	ErrScanTimeout = errors.New("scan results not delivered before timeout")
)

// Session is the browser capability the solver drives. Coordinates are
// top-level page coordinates; scans inside a frame report frame-relative rects.
type Session interface {
	// ClickAt presses the left button at p, holds it for hold and releases.
	ClickAt(ctx context.Context, p Point, hold time.Duration) error
	MoveTo(ctx context.Context, p Point) error
	// ScanRegion starts a DOM scan of frame for selector. Results are published
	// under contextID and read with GetScannedElements.
	ScanRegion(ctx context.Context, contextID string, frame FrameRef, selector string) error
	// GetScannedElements returns the scan stored under contextID. The entry is
	// consumed by a successful read.
	GetScannedElements(contextID string) ([]ElementInfo, bool)
	// ExecuteScript runs js in frame without waiting for a value.
	ExecuteScript(ctx context.Context, frame FrameRef, js string) error
	// CaptureScreenshot returns a PNG of clip.
	CaptureScreenshot(ctx context.Context, clip Rect) ([]byte, error)
}

// Navigator is implemented by backends the CLI can drive directly.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
	Close(ctx context.Context) error
}

// FrameRef selects the document a scan or script runs in. The zero value is
// the top-level page.
type FrameRef struct {
	URLContains string `json:"url_contains,omitempty"`
	Name        string `json:"name,omitempty"`
}

func (f FrameRef) IsTop() bool { return f.URLContains == "" && f.Name == "" }

func (f FrameRef) String() string {
	switch {
	case f.IsTop():
		return "top"
	case f.Name != "":
		return "name=" + f.Name
	default:
		return "url~" + f.URLContains
	}
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(o Point) Point { return Point{X: p.X + o.X, Y: p.Y + o.Y} }

func (p Point) Distance(o Point) float64 { return math.Hypot(o.X-p.X, o.Y-p.Y) }

type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

func (r Rect) Center() Point { return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2} }

func (r Rect) Offset(p Point) Rect {
	r.X += p.X
	r.Y += p.Y
	return r
}

func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.Width && p.Y >= r.Y && p.Y < r.Y+r.Height
}

// Union returns the smallest rect covering r and o. Empty rects are ignored.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	x0, y0 := math.Min(r.X, o.X), math.Min(r.Y, o.Y)
	x1 := math.Max(r.X+r.Width, o.X+o.Width)
	y1 := math.Max(r.Y+r.Height, o.Y+o.Height)
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// ElementInfo is one scanned DOM element.
type ElementInfo struct {
	Selector   string            `json:"selector"`
	Tag        string            `json:"tag"`
	ID         string            `json:"id"`
	Class      string            `json:"class"`
	Text       string            `json:"text"`
	X          float64           `json:"x"`
	Y          float64           `json:"y"`
	Width      float64           `json:"width"`
	Height     float64           `json:"height"`
	Visible    bool              `json:"visible"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (e ElementInfo) Rect() Rect {
	return Rect{X: e.X, Y: e.Y, Width: e.Width, Height: e.Height}
}

func (e ElementInfo) Attr(name string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[name]
}
