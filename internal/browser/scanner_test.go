package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
	"github.com/polzovatel/browser-captcha-solver/internal/browser/browsertest"
)

func TestScannerUsesFreshContextIDs(t *testing.T) {
	sess := browsertest.New()
	sess.Set(browser.FrameRef{}, ".tile", browsertest.Element("#a", 0, 0, 10, 10))
	sc := browser.NewScanner(sess, 50*time.Millisecond, time.Millisecond)

	for i := 0; i < 3; i++ {
		elems, err := sc.Scan(context.Background(), browser.FrameRef{}, ".tile")
		require.NoError(t, err)
		require.Len(t, elems, 1)
	}
	require.Len(t, sess.Scans, 3)
	assert.NotEqual(t, sess.Scans[0], sess.Scans[1])
	assert.NotEqual(t, sess.Scans[1], sess.Scans[2])
}

func TestScannerSeesMutations(t *testing.T) {
	sess := browsertest.New()
	sc := browser.NewScanner(sess, 50*time.Millisecond, time.Millisecond)
	frame := browser.FrameRef{}

	_, ok := sc.First(context.Background(), frame, ".banner")
	assert.False(t, ok)

	sess.Set(frame, ".banner", browsertest.Element("#b", 5, 5, 100, 20))
	el, ok := sc.First(context.Background(), frame, ".missing", ".banner")
	require.True(t, ok)
	assert.Equal(t, "#b", el.Selector)
}

func TestScannerFiltersInvisible(t *testing.T) {
	sess := browsertest.New()
	hidden := browsertest.Element("#h", 0, 0, 50, 50)
	hidden.Visible = false
	zero := browsertest.Element("#z", 0, 0, 0, 0)
	sess.Set(browser.FrameRef{}, "iframe", hidden, zero, browsertest.Element("#small", 0, 0, 40, 40), browsertest.Element("#big", 0, 0, 400, 580))
	sc := browser.NewScanner(sess, 50*time.Millisecond, time.Millisecond)

	vis, err := sc.Visible(context.Background(), browser.FrameRef{}, "iframe")
	require.NoError(t, err)
	assert.Len(t, vis, 2)

	big, ok := sc.Largest(context.Background(), browser.FrameRef{}, "iframe", 100)
	require.True(t, ok)
	assert.Equal(t, "#big", big.Selector)

	_, ok = sc.Largest(context.Background(), browser.FrameRef{}, "iframe", 1000)
	assert.False(t, ok)
}

func TestScannerMissingFrame(t *testing.T) {
	sess := browsertest.New()
	sc := browser.NewScanner(sess, 10*time.Millisecond, time.Millisecond)
	_, err := sc.Scan(context.Background(), browser.FrameRef{URLContains: "bframe"}, "td")
	require.Error(t, err)
	assert.True(t, errors.Is(err, browser.ErrFrameNotFound))
}

type silentSession struct{ *browsertest.Session }

func (silentSession) GetScannedElements(string) ([]browser.ElementInfo, bool) { return nil, false }

func TestScannerTimesOut(t *testing.T) {
	sess := silentSession{browsertest.New()}
	sc := browser.NewScanner(sess, 5*time.Millisecond, time.Millisecond)
	_, err := sc.Scan(context.Background(), browser.FrameRef{}, "td")
	require.Error(t, err)
	assert.True(t, errors.Is(err, browser.ErrScanTimeout))
}

func TestRectHelpers(t *testing.T) {
	r := browser.Rect{X: 10, Y: 20, Width: 30, Height: 40}
	assert.Equal(t, browser.Point{X: 25, Y: 40}, r.Center())
	assert.True(t, r.Contains(browser.Point{X: 10, Y: 20}))
	assert.False(t, r.Contains(browser.Point{X: 40, Y: 20}))
	assert.Equal(t, browser.Rect{X: 15, Y: 25, Width: 30, Height: 40}, r.Offset(browser.Point{X: 5, Y: 5}))
	u := r.Union(browser.Rect{X: 0, Y: 0, Width: 5, Height: 5})
	assert.Equal(t, browser.Rect{X: 0, Y: 0, Width: 40, Height: 60}, u)
	assert.Equal(t, r, r.Union(browser.Rect{}))
}

func TestScannerFindSeparatesAbsentFromUnknown(t *testing.T) {
	sess := browsertest.New()
	sc := browser.NewScanner(sess, 10*time.Millisecond, time.Millisecond)
	top := browser.FrameRef{}
	ctx := context.Background()

	_, ok, err := sc.Find(ctx, top, ".challenge")
	assert.False(t, ok)
	assert.NoError(t, err, "a clean scan with no match is a definite absence")

	sess.Set(top, ".challenge", browsertest.Element("#c", 0, 0, 300, 300))
	sess.FailScans(errors.New("renderer busy"))
	_, ok, err = sc.Find(ctx, top, ".challenge")
	assert.False(t, ok)
	assert.Error(t, err)

	_, ok, err = sc.FindLargest(ctx, top, ".challenge", 0)
	assert.False(t, ok)
	assert.Error(t, err)

	sess.FailScans(nil)
	el, ok, err := sc.Find(ctx, top, ".missing", ".challenge")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "#c", el.Selector)

	_, ok, err = sc.Find(ctx, browser.FrameRef{URLContains: "bframe"}, ".challenge")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, browser.ErrFrameNotFound))
}
