package grid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
)

// ErrNoGrid means neither tiles nor a grid container could be located.
// Callers refresh the challenge and try again.
var ErrNoGrid = errors.New("no challenge grid located")

// Fallback holds the default tile sizes used when tiles cannot be scanned.
type Fallback struct {
	Tile9  float64
	Tile16 float64
	Gap    float64
}

func (f Fallback) tile(size int) float64 {
	if size == 16 {
		return f.Tile16
	}
	return f.Tile9
}

// Region tells the sampler where a provider's grid lives.
type Region struct {
	// Frames leads from the top-level page to the document holding the grid.
	Frames []FrameLink
	// Frame is the document holding the grid.
	Frame       browser.FrameRef
	Container   string
	Tiles       string
	ErrorBanner string
	// Size is the expected tile count from mode detection.
	Size     int
	Fallback Fallback
	// Label names debug dumps.
	Label string
}

// Capture is a labelled screenshot and the geometry it was rendered from.
type Capture struct {
	Image    []byte
	Geometry Geometry
	Badges   []Badge
}

func (c Capture) Empty() bool { return len(c.Image) == 0 || c.Geometry.Empty() }

type Sampler struct {
	session  browser.Session
	scanner  *browser.Scanner
	debugDir string
	logger   zerolog.Logger
}

func NewSampler(session browser.Session, scanner *browser.Scanner, debugDir string, logger zerolog.Logger) *Sampler {
	return &Sampler{
		session:  session,
		scanner:  scanner,
		debugDir: debugDir,
		logger:   logger.With().Str("comp", "grid").Logger(),
	}
}

// CaptureGrid locates the grid, screenshots it and draws tile numbers. On
// failure the returned Capture is empty.
func (s *Sampler) CaptureGrid(ctx context.Context, region Region) (Capture, error) {
	geom, err := s.Locate(ctx, region)
	if err != nil {
		return Capture{}, err
	}
	shot, err := s.session.CaptureScreenshot(ctx, geom.Bounds())
	if err != nil {
		return Capture{}, fmt.Errorf("capture grid: %w", err)
	}
	labelled, badges, err := RenderBadges(shot, geom)
	if err != nil {
		return Capture{}, err
	}
	s.dump(region.Label, labelled)

	s.logger.Debug().
		Int("tiles", len(geom.Tiles)).
		Float64("origin_x", geom.Origin.X).
		Float64("origin_y", geom.Origin.Y).
		Float64("tile_w", geom.TileWidth).
		Int("bytes", len(labelled)).
		Msg("grid captured")

	return Capture{Image: labelled, Geometry: geom, Badges: badges}, nil
}

// Locate computes the screen geometry of the grid without capturing it.
func (s *Sampler) Locate(ctx context.Context, region Region) (Geometry, error) {
	if err := ctx.Err(); err != nil {
		return Geometry{}, err
	}
	offset, err := FrameOffset(ctx, s.scanner, region.Frames)
	if err != nil {
		return Geometry{}, fmt.Errorf("resolve frame offset: %w", err)
	}

	// Only a complete set of tiles defines the layout. A partial set (tiles
	// mid-repaint or hidden) keeps the declared size and uses the container.
	size := region.Size
	if region.Tiles != "" {
		tiles, err := s.scanner.Visible(ctx, region.Frame, region.Tiles)
		full := 0
		switch n := len(tiles); {
		case err != nil:
		case n >= 16:
			full = 16
		case n == 9 && size != 16:
			full = 9
		case n > 9 && size != 9:
			size = 16
		}
		if full > 0 {
			rects := make([]browser.Rect, 0, len(tiles))
			for _, t := range tiles {
				rects = append(rects, t.Rect().Offset(offset))
			}
			if geom := FromTiles(rects, full); geom.Valid() {
				return geom, nil
			}
		}
	}

	if region.Container == "" {
		return Geometry{}, ErrNoGrid
	}
	container, ok := s.scanner.Largest(ctx, region.Frame, region.Container, 0)
	if !ok {
		return Geometry{}, ErrNoGrid
	}
	origin := browser.Point{X: container.X, Y: container.Y + s.bannerShift(ctx, region, container)}

	if size != 16 {
		size = 9
	}
	n := float64(Dimension(size))
	tile := region.Fallback.tile(size)
	if tile <= 0 {
		tile = (container.Width - region.Fallback.Gap*(n-1)) / n
	}
	if tile <= 0 {
		return Geometry{}, ErrNoGrid
	}
	s.logger.Debug().Float64("tile", tile).Int("size", size).Msg("using fallback grid layout")
	return NewGeometry(origin.Add(offset), size, tile, tile, region.Fallback.Gap), nil
}

// bannerShift returns how far an error banner pushes the grid down. The
// container is re-queried; if it has not moved yet while a banner overlaps
// its top edge, the banner height is applied.
func (s *Sampler) bannerShift(ctx context.Context, region Region, container browser.ElementInfo) float64 {
	if region.ErrorBanner == "" {
		return 0
	}
	banner, ok := s.scanner.First(ctx, region.Frame, region.ErrorBanner)
	if !ok || banner.Height <= 0 {
		return 0
	}
	again, ok := s.scanner.Largest(ctx, region.Frame, region.Container, 0)
	if !ok {
		return 0
	}
	if math.Abs(again.Y-container.Y) > 0.5 {
		return again.Y - container.Y
	}
	if banner.Y < container.Y+banner.Height && banner.Y+banner.Height > container.Y {
		s.logger.Debug().Float64("banner_h", banner.Height).Msg("error banner shifts grid")
		return banner.Height
	}
	return 0
}

func (s *Sampler) dump(label string, img []byte) {
	if s.debugDir == "" {
		return
	}
	if label == "" {
		label = "grid"
	}
	name := filepath.Join(s.debugDir, fmt.Sprintf("%s-%d.png", label, time.Now().UnixNano()))
	if err := os.MkdirAll(s.debugDir, 0o755); err != nil {
		s.logger.Warn().Err(err).Msg("debug dir unavailable")
		return
	}
	if err := os.WriteFile(name, img, 0o644); err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("debug dump failed")
		return
	}
	s.logger.Debug().Str("file", name).Msg("grid image saved")
}
