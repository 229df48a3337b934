package human

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
	"github.com/polzovatel/browser-captcha-solver/internal/browser/browsertest"
)

func TestClickPathProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := New(rapid.Int64Range(1, 1<<40).Draw(rt, "seed"))
		from := browser.Point{X: rapid.Float64Range(0, 1500).Draw(rt, "fx"), Y: rapid.Float64Range(0, 900).Draw(rt, "fy")}
		to := browser.Point{X: rapid.Float64Range(0, 1500).Draw(rt, "tx"), Y: rapid.Float64Range(0, 900).Draw(rt, "ty")}
		jitter := rapid.Float64Range(0, 3).Draw(rt, "jitter")

		path := s.ClickPath(from, to, jitter)
		if len(path) == 0 || len(path) > maxSteps {
			rt.Fatalf("path has %d points", len(path))
		}
		if path[len(path)-1] != to {
			rt.Fatalf("path ends at %v, want %v", path[len(path)-1], to)
		}
		dist := from.Distance(to)
		if dist >= 2 && len(path) < minSteps {
			rt.Fatalf("path of %.1fpx has only %d points", dist, len(path))
		}
		limit := dist + 2*maxBend + jitter + 1
		for _, p := range path {
			if from.Distance(p) > limit {
				rt.Fatalf("point %v strays %.1fpx from start", p, from.Distance(p))
			}
		}
	})
}

func TestClickPathShortDistance(t *testing.T) {
	s := New(1)
	to := browser.Point{X: 10.5, Y: 10}
	assert.Equal(t, []browser.Point{to}, s.ClickPath(browser.Point{X: 10, Y: 10}, to, 2))
}

func TestSeededSynthesizersAgree(t *testing.T) {
	a, b := New(42), New(42)
	from, to := browser.Point{X: 0, Y: 0}, browser.Point{X: 400, Y: 300}
	assert.Equal(t, a.ClickPath(from, to, 1), b.ClickPath(from, to, 1))
	assert.Equal(t, a.DelayMs(100, 500), b.DelayMs(100, 500))
	assert.Equal(t, a.Shuffle([]int{1, 2, 3, 4}), b.Shuffle([]int{1, 2, 3, 4}))
}

func TestStepPauseSlowAtEnds(t *testing.T) {
	base := 10 * time.Millisecond
	n := 21
	mid := StepPause(base, 11, n)
	first := StepPause(base, 1, n)
	last := StepPause(base, n, n)
	assert.Greater(t, first, mid)
	assert.Greater(t, last, mid)
	assert.InDelta(t, float64(first), float64(last), float64(time.Microsecond))
	assert.GreaterOrEqual(t, mid, base)
}

func TestDelayBounds(t *testing.T) {
	s := New(7)
	for i := 0; i < 200; i++ {
		d := s.DelayMs(150, 450)
		require.GreaterOrEqual(t, d, 150)
		require.LessOrEqual(t, d, 450)
		dd := s.Delay(600*time.Millisecond, 1200*time.Millisecond)
		require.GreaterOrEqual(t, dd, 600*time.Millisecond)
		require.LessOrEqual(t, dd, 1200*time.Millisecond)
	}
	assert.Equal(t, 300, s.DelayMs(300, 300))
	d := s.DelayMs(500, 100)
	assert.True(t, d >= 100 && d <= 500)
	assert.Equal(t, time.Second, s.Delay(time.Second, time.Second))
}

func TestShuffleNeverAscending(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := New(rapid.Int64Range(1, 1<<40).Draw(rt, "seed"))
		n := rapid.IntRange(2, 16).Draw(rt, "n")
		in := make([]int, n)
		for i := range in {
			in[i] = i
		}
		out := s.Shuffle(in)
		if ascending(out) {
			rt.Fatalf("shuffle returned index order %v", out)
		}
		sorted := append([]int(nil), out...)
		sort.Ints(sorted)
		for i := range sorted {
			if sorted[i] != i {
				rt.Fatalf("not a permutation: %v", out)
			}
		}
	})
	assert.Equal(t, []int{5}, New(1).Shuffle([]int{5}))
	assert.Empty(t, New(1).Shuffle(nil))
}

func TestTilePointInsideTile(t *testing.T) {
	s := New(3)
	r := browser.Rect{X: 100, Y: 200, Width: 100, Height: 80}
	for i := 0; i < 100; i++ {
		p := s.TilePoint(r)
		require.True(t, r.Contains(p), "point %v outside %v", p, r)
		require.InDelta(t, r.Center().X, p.X, 30.01)
		require.InDelta(t, r.Center().Y, p.Y, 24.01)
	}
}

func TestPathToChainsPositions(t *testing.T) {
	s := New(9)
	first := s.PathTo(browser.Point{X: 50, Y: 50}, 0, time.Millisecond)
	require.Len(t, first, 1)
	second := s.PathTo(browser.Point{X: 350, Y: 250}, 0, time.Millisecond)
	assert.Greater(t, len(second), 1)
	assert.Equal(t, browser.Point{X: 350, Y: 250}, second[len(second)-1].Point)
	pos, ok := s.Position()
	assert.True(t, ok)
	assert.Equal(t, browser.Point{X: 350, Y: 250}, pos)
}

func TestPointerClick(t *testing.T) {
	sess := browsertest.New()
	p := NewPointer(sess, New(5), time.Microsecond, 10*time.Millisecond, 20*time.Millisecond)
	p.Synth().SetPosition(browser.Point{X: 0, Y: 0})

	target := browser.Rect{X: 300, Y: 300, Width: 100, Height: 100}
	require.NoError(t, p.ClickRect(context.Background(), target))
	require.Len(t, sess.Clicks, 1)
	assert.True(t, target.Contains(sess.Clicks[0].Point))
	assert.GreaterOrEqual(t, sess.Clicks[0].Hold, 10*time.Millisecond)
	assert.LessOrEqual(t, sess.Clicks[0].Hold, 20*time.Millisecond)
	assert.GreaterOrEqual(t, len(sess.Moves), minSteps)
	assert.Equal(t, sess.Clicks[0].Point, sess.Moves[len(sess.Moves)-1])
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), 0))
}
