package grid

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
	"github.com/polzovatel/browser-captcha-solver/internal/browser/browsertest"
)

func greyPNG(t testing.TB, w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.Gray{Y: 128})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestResolveAbsoluteFrameOffset(t *testing.T) {
	assert.Equal(t, browser.Point{}, ResolveAbsoluteFrameOffset(nil))
	chain := []FrameBox{
		{Rect: browser.Rect{X: 100, Y: 50, Width: 400, Height: 600}},
		{Rect: browser.Rect{X: 20, Y: 30, Width: 300, Height: 500}, Inset: browser.Point{X: 1, Y: 1}},
	}
	assert.Equal(t, browser.Point{X: 121, Y: 81}, ResolveAbsoluteFrameOffset(chain))
}

func TestNewGeometryRowMajor(t *testing.T) {
	g := NewGeometry(browser.Point{X: 100, Y: 200}, 9, 100, 100, 4)
	require.True(t, g.Valid())
	assert.Equal(t, 3, g.Rows)
	assert.Equal(t, browser.Rect{X: 100, Y: 200, Width: 100, Height: 100}, g.Tiles[0])
	assert.Equal(t, browser.Rect{X: 308, Y: 200, Width: 100, Height: 100}, g.Tiles[2])
	assert.Equal(t, browser.Rect{X: 100, Y: 304, Width: 100, Height: 100}, g.Tiles[3])
	assert.Equal(t, browser.Rect{X: 100, Y: 200, Width: 308, Height: 308}, g.Bounds())

	_, ok := g.ClickTarget(9)
	assert.False(t, ok)
	_, ok = g.ClickTarget(-1)
	assert.False(t, ok)
	assert.Equal(t, -1, g.IndexAt(browser.Point{X: 5, Y: 5}))
}

func TestBadgesMatchClickTargets(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.SampledFrom([]int{9, 16}).Draw(rt, "size")
		tile := float64(rapid.IntRange(20, 90).Draw(rt, "tile"))
		gap := float64(rapid.IntRange(0, 6).Draw(rt, "gap"))
		origin := browser.Point{
			X: float64(rapid.IntRange(0, 800).Draw(rt, "x")),
			Y: float64(rapid.IntRange(0, 800).Draw(rt, "y")),
		}
		g := NewGeometry(origin, size, tile, tile, gap)
		b := g.Bounds()

		out, badges, err := RenderBadges(greyPNG(t, int(b.Width), int(b.Height)), g)
		if err != nil {
			rt.Fatalf("render: %v", err)
		}
		if len(badges) != size {
			rt.Fatalf("got %d badges, want %d", len(badges), size)
		}
		img, err := png.Decode(bytes.NewReader(out))
		if err != nil {
			rt.Fatalf("decode: %v", err)
		}
		for i, badge := range badges {
			target, ok := g.ClickTarget(i)
			if !ok || badge.Index != i || badge.Tile != target || target != g.Tiles[i] {
				rt.Fatalf("badge %d out of step with click target", i)
			}
			if g.IndexAt(target.Center()) != i {
				rt.Fatalf("tile %d center resolves to %d", i, g.IndexAt(target.Center()))
			}
			px := int(target.X - b.X)
			py := int(target.Y - b.Y)
			if badge.Pixel.Min.X < px || badge.Pixel.Min.X >= px+int(target.Width) ||
				badge.Pixel.Min.Y < py || badge.Pixel.Min.Y >= py+int(target.Height) {
				rt.Fatalf("badge %d drawn at %v outside tile at %d,%d", i, badge.Pixel.Min, px, py)
			}
			r, _, _, _ := img.At(badge.Pixel.Min.X+1, badge.Pixel.Min.Y+1).RGBA()
			if r>>8 > 100 {
				rt.Fatalf("badge %d background not drawn (r=%d)", i, r>>8)
			}
		}
	})
}

func TestRenderBadgesScalesToImage(t *testing.T) {
	g := NewGeometry(browser.Point{X: 10, Y: 10}, 9, 50, 50, 0)
	_, badges, err := RenderBadges(greyPNG(t, 300, 300), g)
	require.NoError(t, err)
	assert.Equal(t, 100+badgeMargin, badges[1].Pixel.Min.X)
	assert.Equal(t, 200+badgeMargin, badges[8].Pixel.Min.Y)

	_, _, err = RenderBadges([]byte("not a png"), g)
	assert.Error(t, err)
	_, _, err = RenderBadges(greyPNG(t, 5, 5), Geometry{})
	assert.ErrorIs(t, err, ErrNoGrid)
}

func TestOrderRowMajorRecoversShuffledGrid(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.SampledFrom([]int{9, 16}).Draw(rt, "size")
		tile := float64(rapid.IntRange(20, 120).Draw(rt, "tile"))
		g := NewGeometry(browser.Point{X: 40, Y: 70}, size, tile, tile, 2)

		perm := rapid.Permutation(g.Tiles).Draw(rt, "perm")
		jittered := make([]browser.Rect, len(perm))
		for i, r := range perm {
			r.Y += float64(rapid.IntRange(-3, 3).Draw(rt, "jitter"))
			jittered[i] = r
		}
		ordered := OrderRowMajor(jittered)
		for i := range ordered {
			if ordered[i].X != g.Tiles[i].X || ordered[i].Y-g.Tiles[i].Y > 3 || g.Tiles[i].Y-ordered[i].Y > 3 {
				rt.Fatalf("position %d: got %v want %v", i, ordered[i], g.Tiles[i])
			}
		}
	})
}

func TestFromTilesKeepsFirstFullGrid(t *testing.T) {
	g := NewGeometry(browser.Point{X: 0, Y: 0}, 16, 50, 50, 0)
	extra := append([]browser.Rect{{X: 0, Y: 500, Width: 50, Height: 50}}, g.Tiles...)
	got := FromTiles(extra, 16)
	require.True(t, got.Valid())
	assert.Equal(t, g.Tiles, got.Tiles)
	assert.Equal(t, 50.0, got.TileWidth)
	assert.True(t, FromTiles(nil, 9).Empty())
}

const (
	frameSel = `iframe[src*="challenge"]`
	tileSel  = ".tile"
	gridSel  = ".grid"
	errSel   = ".error"
)

var challengeFrame = browser.FrameRef{URLContains: "challenge"}

func newSampler(sess *browsertest.Session, dir string) *Sampler {
	return NewSampler(sess, browser.NewScanner(sess, 200*time.Millisecond, time.Millisecond), dir, zerolog.Nop())
}

func TestLocateUsesScannedTilesInsideFrame(t *testing.T) {
	sess := browsertest.New()
	sess.Set(browser.FrameRef{}, frameSel,
		browsertest.Element(frameSel, 0, 0, 50, 50),
		browsertest.Element(frameSel, 100, 40, 400, 580),
	)
	g := NewGeometry(browser.Point{X: 10, Y: 120}, 9, 120, 120, 4)
	var tiles []browser.ElementInfo
	for i := len(g.Tiles) - 1; i >= 0; i-- {
		r := g.Tiles[i]
		tiles = append(tiles, browsertest.Element(tileSel, r.X, r.Y, r.Width, r.Height))
	}
	sess.Set(challengeFrame, tileSel, tiles...)

	region := Region{
		Frames: []FrameLink{{Selector: frameSel, MinWidth: 200}},
		Frame:  challengeFrame,
		Tiles:  tileSel,
		Size:   9,
	}
	geom, err := newSampler(sess, "").Locate(context.Background(), region)
	require.NoError(t, err)
	require.True(t, geom.Valid())
	assert.Equal(t, browser.Rect{X: 110, Y: 160, Width: 120, Height: 120}, geom.Tiles[0])
	assert.Equal(t, browser.Rect{X: 358, Y: 408, Width: 120, Height: 120}, geom.Tiles[8])
}

func TestLocateFallbackAppliesBannerShift(t *testing.T) {
	sess := browsertest.New()
	sess.Set(browser.FrameRef{}, gridSel, browsertest.Element(gridSel, 10, 100, 300, 300))
	sess.Set(browser.FrameRef{}, errSel, browsertest.Element(errSel, 10, 100, 300, 40))

	region := Region{
		Container:   gridSel,
		Tiles:       tileSel,
		ErrorBanner: errSel,
		Size:        9,
		Fallback:    Fallback{Tile9: 100, Tile16: 75},
	}
	geom, err := newSampler(sess, "").Locate(context.Background(), region)
	require.NoError(t, err)
	assert.Equal(t, browser.Rect{X: 10, Y: 140, Width: 100, Height: 100}, geom.Tiles[0])

	sess.Clear(browser.FrameRef{}, errSel)
	region.Size = 16
	geom, err = newSampler(sess, "").Locate(context.Background(), region)
	require.NoError(t, err)
	assert.Len(t, geom.Tiles, 16)
	assert.Equal(t, browser.Rect{X: 10, Y: 100, Width: 75, Height: 75}, geom.Tiles[0])
}

func TestLocateDerivesTileFromContainerWidth(t *testing.T) {
	sess := browsertest.New()
	sess.Set(browser.FrameRef{}, gridSel, browsertest.Element(gridSel, 0, 0, 306, 306))
	geom, err := newSampler(sess, "").Locate(context.Background(), Region{
		Container: gridSel,
		Size:      9,
		Fallback:  Fallback{Gap: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, geom.TileWidth)
	assert.Equal(t, browser.Rect{X: 206, Y: 206, Width: 100, Height: 100}, geom.Tiles[8])
}

func TestLocatePartialFourByFourKeepsDeclaredSize(t *testing.T) {
	sess := browsertest.New()
	g := NewGeometry(browser.Point{X: 0, Y: 0}, 16, 99, 99, 0)
	var tiles []browser.ElementInfo
	for i, r := range g.Tiles {
		if i == 5 || i == 10 || i == 15 {
			continue
		}
		tiles = append(tiles, browsertest.Element(tileSel, r.X, r.Y, r.Width, r.Height))
	}
	require.Len(t, tiles, 13)
	sess.Set(browser.FrameRef{}, tileSel, tiles...)
	sess.Set(browser.FrameRef{}, gridSel, browsertest.Element(gridSel, 0, 0, 396, 396))

	geom, err := newSampler(sess, "").Locate(context.Background(), Region{
		Container: gridSel,
		Tiles:     tileSel,
		Size:      16,
	})
	require.NoError(t, err)
	assert.Equal(t, 16, geom.Size)
	assert.Equal(t, 4, geom.Rows)
	assert.Equal(t, browser.Rect{X: 297, Y: 0, Width: 99, Height: 99}, geom.Tiles[3])
	assert.Equal(t, browser.Rect{X: 0, Y: 99, Width: 99, Height: 99}, geom.Tiles[4])

	// Without a declared size, more than nine tiles still means 4x4.
	geom, err = newSampler(sess, "").Locate(context.Background(), Region{Container: gridSel, Tiles: tileSel})
	require.NoError(t, err)
	assert.Equal(t, 16, geom.Size)

	// Nine visible tiles of a declared 4x4 are not a 3x3.
	sess.Set(browser.FrameRef{}, tileSel, tiles[:9]...)
	geom, err = newSampler(sess, "").Locate(context.Background(), Region{Container: gridSel, Tiles: tileSel, Size: 16})
	require.NoError(t, err)
	assert.Equal(t, 16, geom.Size)
	assert.Equal(t, 99.0, geom.TileWidth)
}

func TestCaptureGridNoGrid(t *testing.T) {
	sess := browsertest.New()
	capture, err := newSampler(sess, "").CaptureGrid(context.Background(), Region{Container: gridSel, Tiles: tileSel})
	assert.ErrorIs(t, err, ErrNoGrid)
	assert.True(t, capture.Empty())
	assert.Empty(t, sess.Shots)
}

func TestCaptureGridMissingFrame(t *testing.T) {
	sess := browsertest.New()
	_, err := newSampler(sess, "").CaptureGrid(context.Background(), Region{
		Frames:    []FrameLink{{Selector: frameSel}},
		Container: gridSel,
	})
	assert.True(t, errors.Is(err, browser.ErrFrameNotFound))
}

func TestCaptureGridLabelsAndDumps(t *testing.T) {
	dir := t.TempDir()
	sess := browsertest.New()
	sess.Scale = 2
	g := NewGeometry(browser.Point{X: 100, Y: 200}, 9, 100, 100, 0)
	var tiles []browser.ElementInfo
	for _, r := range g.Tiles {
		tiles = append(tiles, browsertest.Element(tileSel, r.X, r.Y, r.Width, r.Height))
	}
	sess.Set(browser.FrameRef{}, tileSel, tiles...)

	capture, err := newSampler(sess, dir).CaptureGrid(context.Background(), Region{Tiles: tileSel, Label: "owl"})
	require.NoError(t, err)
	assert.False(t, capture.Empty())
	require.Len(t, sess.Shots, 1)
	assert.Equal(t, g.Bounds(), sess.Shots[0])
	assert.Equal(t, 200+badgeMargin, capture.Badges[1].Pixel.Min.X)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "owl-")
}
