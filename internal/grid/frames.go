package grid

import (
	"context"
	"fmt"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
)

// FrameBox is an iframe element's rect in its parent document plus the
// inset of its content box (border and padding).
type FrameBox struct {
	Rect  browser.Rect
	Inset browser.Point
}

// ResolveAbsoluteFrameOffset composes the offsets of a frame chain ordered
// from the top-level page inwards. An empty chain is the top-level page.
func ResolveAbsoluteFrameOffset(chain []FrameBox) browser.Point {
	var p browser.Point
	for _, f := range chain {
		p.X += f.Rect.X + f.Inset.X
		p.Y += f.Rect.Y + f.Inset.Y
	}
	return p
}

// FrameLink locates one iframe of a chain: Selector is scanned inside Parent
// and the largest visible match at least MinWidth wide is taken.
type FrameLink struct {
	Parent   browser.FrameRef
	Selector string
	MinWidth float64
	Inset    browser.Point
}

// ResolveChain scans every link and returns the boxes for ResolveAbsoluteFrameOffset.
func ResolveChain(ctx context.Context, scanner *browser.Scanner, links []FrameLink) ([]FrameBox, error) {
	boxes := make([]FrameBox, 0, len(links))
	for i, link := range links {
		el, ok := scanner.Largest(ctx, link.Parent, link.Selector, link.MinWidth)
		if !ok {
			return nil, fmt.Errorf("frame link %d (%s in %s): %w", i, link.Selector, link.Parent, browser.ErrFrameNotFound)
		}
		boxes = append(boxes, FrameBox{Rect: el.Rect(), Inset: link.Inset})
	}
	return boxes, nil
}

// FrameOffset is ResolveChain followed by ResolveAbsoluteFrameOffset.
func FrameOffset(ctx context.Context, scanner *browser.Scanner, links []FrameLink) (browser.Point, error) {
	boxes, err := ResolveChain(ctx, scanner, links)
	if err != nil {
		return browser.Point{}, err
	}
	return ResolveAbsoluteFrameOffset(boxes), nil
}
