package grid

import (
	"math"
	"sort"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
)

// Geometry is the screen layout of a challenge grid. Tiles are row-major:
// index 0 is top-left. The same order is used for badges and clicks.
type Geometry struct {
	Size       int
	Rows       int
	Cols       int
	TileWidth  float64
	TileHeight float64
	Origin     browser.Point
	Tiles      []browser.Rect
}

// Dimension returns the side length of a square grid of size tiles.
func Dimension(size int) int {
	if size == 16 {
		return 4
	}
	return 3
}

// NewGeometry lays out a uniform grid anchored at origin.
func NewGeometry(origin browser.Point, size int, tileW, tileH, gap float64) Geometry {
	n := Dimension(size)
	g := Geometry{
		Size:       n * n,
		Rows:       n,
		Cols:       n,
		TileWidth:  tileW,
		TileHeight: tileH,
		Origin:     origin,
		Tiles:      make([]browser.Rect, 0, n*n),
	}
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			g.Tiles = append(g.Tiles, browser.Rect{
				X:      origin.X + float64(c)*(tileW+gap),
				Y:      origin.Y + float64(r)*(tileH+gap),
				Width:  tileW,
				Height: tileH,
			})
		}
	}
	return g
}

// FromTiles builds a geometry from scanned tile rects. Rects are ordered
// row-major and the first size of them are kept.
func FromTiles(rects []browser.Rect, size int) Geometry {
	ordered := OrderRowMajor(rects)
	n := Dimension(size)
	if len(ordered) > n*n {
		ordered = ordered[:n*n]
	}
	g := Geometry{Size: len(ordered), Rows: n, Cols: n, Tiles: ordered}
	if len(ordered) == 0 {
		return Geometry{}
	}
	g.Origin = browser.Point{X: ordered[0].X, Y: ordered[0].Y}
	var w, h float64
	for _, r := range ordered {
		w += r.Width
		h += r.Height
	}
	g.TileWidth = w / float64(len(ordered))
	g.TileHeight = h / float64(len(ordered))
	return g
}

// OrderRowMajor sorts rects into rows by their top edge, then by x within a
// row. Tops within half a tile height are treated as the same row.
func OrderRowMajor(rects []browser.Rect) []browser.Rect {
	out := append([]browser.Rect(nil), rects...)
	if len(out) < 2 {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Y < out[j].Y })

	minH := math.Inf(1)
	for _, r := range out {
		if r.Height > 0 && r.Height < minH {
			minH = r.Height
		}
	}
	tol := 4.0
	if !math.IsInf(minH, 1) {
		tol = math.Max(tol, minH/2)
	}

	rowOf := make([]int, len(out))
	row, rowTop := 0, out[0].Y
	for i, r := range out {
		if r.Y-rowTop > tol {
			row++
			rowTop = r.Y
		}
		rowOf[i] = row
	}
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if rowOf[ia] != rowOf[ib] {
			return rowOf[ia] < rowOf[ib]
		}
		return out[ia].X < out[ib].X
	})
	sorted := make([]browser.Rect, len(out))
	for i, k := range idx {
		sorted[i] = out[k]
	}
	return sorted
}

// Valid reports whether the geometry holds a full 3x3 or 4x4 grid.
func (g Geometry) Valid() bool {
	return (g.Size == 9 || g.Size == 16) && len(g.Tiles) == g.Size
}

func (g Geometry) Empty() bool { return len(g.Tiles) == 0 }

// Bounds covers every tile.
func (g Geometry) Bounds() browser.Rect {
	var b browser.Rect
	for _, t := range g.Tiles {
		b = b.Union(t)
	}
	return b
}

// ClickTarget returns the screen rect of tile i.
func (g Geometry) ClickTarget(i int) (browser.Rect, bool) {
	if i < 0 || i >= len(g.Tiles) {
		return browser.Rect{}, false
	}
	return g.Tiles[i], true
}

// IndexAt returns the tile containing p, or -1.
func (g Geometry) IndexAt(p browser.Point) int {
	for i, t := range g.Tiles {
		if t.Contains(p) {
			return i
		}
	}
	return -1
}
