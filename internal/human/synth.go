// Package human produces randomized timing and pointer motion so that click
// sequences do not follow a fixed rhythm or straight lines.
package human

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
)

const (
	minSteps    = 4
	maxSteps    = 40
	pxPerStep   = 12.0
	curvature   = 0.3
	maxBend     = 120.0
	tileInnerPc = 0.6
)

// Step is one pointer position and the pause to take after reaching it.
type Step struct {
	Point browser.Point
	Pause time.Duration
}

// Synthesizer is safe for concurrent use. It remembers the last pointer
// position so consecutive paths chain.
type Synthesizer struct {
	mu      sync.Mutex
	rng     *rand.Rand
	last    browser.Point
	hasLast bool
}

// New returns a Synthesizer seeded with seed, or with the clock when seed is 0.
func New(seed int64) *Synthesizer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Synthesizer{rng: rand.New(rand.NewSource(seed))}
}

func (s *Synthesizer) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// uniform returns a value in [lo, hi).
func (s *Synthesizer) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.float()
}

// DelayMs samples an integer in [min, max]. Swapped bounds are tolerated.
func (s *Synthesizer) DelayMs(min, max int) int {
	if max < min {
		min, max = max, min
	}
	if max == min {
		return min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + s.rng.Intn(max-min+1)
}

// Delay samples a duration in [min, max] with millisecond resolution.
func (s *Synthesizer) Delay(min, max time.Duration) time.Duration {
	if max < min {
		min, max = max, min
	}
	if max-min < time.Millisecond {
		return min
	}
	return min + time.Duration(s.DelayMs(0, int((max-min)/time.Millisecond)))*time.Millisecond
}

// Dwell is the button hold time of one click.
func (s *Synthesizer) Dwell(min, max time.Duration) time.Duration {
	return s.Delay(min, max)
}

// ClickPath returns the points from (exclusive) to to (inclusive) along a
// cubic Bezier with random bend. Intermediate points get up to jitter px of
// noise; the final point is exact.
func (s *Synthesizer) ClickPath(from, to browser.Point, jitter float64) []browser.Point {
	dist := from.Distance(to)
	if dist < 2 {
		return []browser.Point{to}
	}
	steps := int(math.Round(dist / pxPerStep))
	steps = min(max(steps, minSteps), maxSteps)

	dx, dy := (to.X-from.X)/dist, (to.Y-from.Y)/dist
	bend := math.Min(curvature*dist, maxBend)
	o1 := s.uniform(-bend, bend)
	o2 := s.uniform(-bend, bend)
	c1 := browser.Point{X: from.X + 0.3*(to.X-from.X) - dy*o1, Y: from.Y + 0.3*(to.Y-from.Y) + dx*o1}
	c2 := browser.Point{X: from.X + 0.7*(to.X-from.X) - dy*o2, Y: from.Y + 0.7*(to.Y-from.Y) + dx*o2}

	pts := make([]browser.Point, 0, steps)
	for i := 1; i <= steps; i++ {
		if i == steps {
			pts = append(pts, to)
			break
		}
		t := easeInOut(float64(i) / float64(steps))
		p := bezier(from, c1, c2, to, t)
		if jitter > 0 {
			p.X += s.uniform(-jitter, jitter)
			p.Y += s.uniform(-jitter, jitter)
		}
		pts = append(pts, p)
	}
	return pts
}

// PathTo builds a timed path from the last known position to to and records
// to as the new position. The first call starts at to.
func (s *Synthesizer) PathTo(to browser.Point, jitter float64, stepBase time.Duration) []Step {
	s.mu.Lock()
	from, ok := s.last, s.hasLast
	s.mu.Unlock()
	if !ok {
		from = to
	}
	pts := s.ClickPath(from, to, jitter)
	steps := make([]Step, len(pts))
	for i, p := range pts {
		steps[i] = Step{Point: p, Pause: StepPause(stepBase, i+1, len(pts))}
	}
	s.SetPosition(to)
	return steps
}

// StepPause is slower near both ends of a path than in the middle.
func StepPause(base time.Duration, i, n int) time.Duration {
	if n <= 0 {
		return base
	}
	u := float64(i) / float64(n+1)
	return time.Duration(float64(base) * (1 + 1.5*(1-math.Sin(math.Pi*u))))
}

// Shuffle returns a random permutation of xs. Lists of two or more distinct
// values never come back in ascending order.
func (s *Synthesizer) Shuffle(xs []int) []int {
	out := append([]int(nil), xs...)
	s.mu.Lock()
	s.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	s.mu.Unlock()
	if len(out) > 1 && ascending(out) {
		out[0], out[len(out)-1] = out[len(out)-1], out[0]
	}
	return out
}

// TilePoint picks a point inside the central part of r.
func (s *Synthesizer) TilePoint(r browser.Rect) browser.Point {
	c := r.Center()
	hw, hh := r.Width*tileInnerPc/2, r.Height*tileInnerPc/2
	return browser.Point{X: c.X + s.uniform(-hw, hw), Y: c.Y + s.uniform(-hh, hh)}
}

func (s *Synthesizer) Position() (browser.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

func (s *Synthesizer) SetPosition(p browser.Point) {
	s.mu.Lock()
	s.last, s.hasLast = p, true
	s.mu.Unlock()
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func easeInOut(u float64) float64 {
	return 0.5 - 0.5*math.Cos(math.Pi*u)
}

func bezier(p0, p1, p2, p3 browser.Point, t float64) browser.Point {
	mt := 1 - t
	a, b, c, d := mt*mt*mt, 3*mt*mt*t, 3*mt*t*t, t*t*t
	return browser.Point{
		X: a*p0.X + b*p1.X + c*p2.X + d*p3.X,
		Y: a*p0.Y + b*p1.Y + c*p2.Y + d*p3.Y,
	}
}

func ascending(xs []int) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i] < xs[i-1] {
			return false
		}
	}
	return true
}
