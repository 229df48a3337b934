package grid

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strconv"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
)

// Badge is the numbered label drawn on tile Index. Tile is the screen rect the
// label belongs to; Pixel is where it was drawn in the image.
type Badge struct {
	Index int
	Tile  browser.Rect
	Pixel image.Rectangle
}

const (
	badgePadX   = 4
	badgePadY   = 3
	badgeMargin = 2
)

// RenderBadges draws a 0-based index in the top-left corner of every tile of
// g onto a PNG screenshot of g.Bounds().
func RenderBadges(data []byte, g Geometry) ([]byte, []Badge, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("decode screenshot: %w", err)
	}
	bounds := g.Bounds()
	if bounds.Empty() {
		return nil, nil, ErrNoGrid
	}

	dc := gg.NewContextForImage(src)
	dc.SetFontFace(basicfont.Face7x13)
	scaleX := float64(src.Bounds().Dx()) / bounds.Width
	scaleY := float64(src.Bounds().Dy()) / bounds.Height

	badges := make([]Badge, 0, len(g.Tiles))
	for i, tile := range g.Tiles {
		badges = append(badges, drawBadge(dc, i, tile, bounds, scaleX, scaleY))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, nil, fmt.Errorf("encode labelled grid: %w", err)
	}
	return buf.Bytes(), badges, nil
}

func drawBadge(dc *gg.Context, index int, tile, bounds browser.Rect, scaleX, scaleY float64) Badge {
	label := strconv.Itoa(index)
	w, h := dc.MeasureString(label)
	x := (tile.X-bounds.X)*scaleX + badgeMargin
	y := (tile.Y-bounds.Y)*scaleY + badgeMargin
	bw, bh := w+2*badgePadX, h+2*badgePadY

	dc.SetRGBA(0, 0, 0, 0.8)
	dc.DrawRectangle(x, y, bw, bh)
	dc.Fill()
	dc.SetRGB(1, 1, 0)
	dc.DrawStringAnchored(label, x+bw/2, y+bh/2, 0.5, 0.5)

	return Badge{
		Index: index,
		Tile:  tile,
		Pixel: image.Rect(int(x), int(y), int(x+bw), int(y+bh)),
	}
}
