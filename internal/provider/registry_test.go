package provider

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
	"github.com/polzovatel/browser-captcha-solver/internal/browser/browsertest"
	"github.com/polzovatel/browser-captcha-solver/internal/captcha"
	"github.com/polzovatel/browser-captcha-solver/internal/llm"
	"github.com/polzovatel/browser-captcha-solver/internal/metrics"
)

type fixedProtocol struct {
	kind  captcha.ProviderKind
	score float64
	calls int
}

func (f *fixedProtocol) Kind() captcha.ProviderKind { return f.kind }

func (f *fixedProtocol) Detect(context.Context, browser.Session) float64 { return f.score }

func (f *fixedProtocol) Solve(context.Context, browser.Session, captcha.Classification, llm.Vision, int) captcha.SolveResult {
	f.calls++
	return captcha.SolveResult{Success: true, Provider: f.kind, Confidence: 1}
}

func TestRegistryDetectsOwl(t *testing.T) {
	reg := NewRegistry(testOptions())
	sess := browsertest.New()
	sess.Set(top, owlRootSel, browsertest.Element(owlRootSel, 0, 0, 300, 300))

	p, score := reg.Detect(context.Background(), sess, captcha.Classification{})
	require.NotNil(t, p)
	assert.Equal(t, captcha.ProviderOwl, p.Kind())
	assert.InDelta(t, 0.95, score, 1e-9)
}

func TestRegistryHintBreaksTies(t *testing.T) {
	reg := NewRegistry(testOptions())
	sess := browsertest.New()
	sess.Set(top, rcWidgetSel, browsertest.Element(rcWidgetSel, 0, 0, 300, 80))
	sess.Set(top, hcWidgetSel, browsertest.Element(hcWidgetSel, 0, 200, 300, 80))

	p, _ := reg.Detect(context.Background(), sess, captcha.Classification{})
	require.NotNil(t, p)
	assert.Equal(t, captcha.ProviderRecaptcha, p.Kind(), "first registered wins a tie")

	p, score := reg.Detect(context.Background(), sess, captcha.Classification{Provider: captcha.ProviderCloudflare})
	require.NotNil(t, p)
	assert.Equal(t, captcha.ProviderCloudflare, p.Kind())
	assert.InDelta(t, 0.7, score, 1e-9)
}

func TestRegistryHintNeedsEvidence(t *testing.T) {
	reg := NewRegistry(testOptions())
	p, _ := reg.Detect(context.Background(), browsertest.New(), captcha.Classification{Provider: captcha.ProviderOwl})
	assert.Nil(t, p)
}

func TestRegistryNoProvider(t *testing.T) {
	promReg := prometheus.NewRegistry()
	opts := testOptions()
	opts.Metrics = metrics.NewCollector("", promReg)
	reg := NewRegistry(opts)

	res := reg.Solve(context.Background(), browsertest.New(), imageSelection, newVision(), 3)

	assert.False(t, res.Success)
	assert.Equal(t, "no supported captcha provider detected", res.Error)
	assert.Equal(t, "FAILED", res.State)
	assert.Equal(t, captcha.ProviderUnknown, res.Provider)

	n, err := testutil.GatherAndCount(promReg, "captcha_solves_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegistryDelegates(t *testing.T) {
	reg := NewRegistry(testOptions())
	sess := browsertest.New()
	sess.Set(top, owlRootSel, browsertest.Element(owlRootSel, 0, 0, 300, 300))

	res := reg.Solve(context.Background(), sess, imageSelection, nil, 3)
	assert.Equal(t, captcha.ProviderOwl, res.Provider)
	assert.Equal(t, "LLM client not available", res.Error)
}

func TestRegistryRegisterReplacesKind(t *testing.T) {
	reg := NewRegistry(testOptions())
	custom := &fixedProtocol{kind: captcha.ProviderOwl, score: 0.55}
	reg.Register(custom)

	got, ok := reg.Get(captcha.ProviderOwl)
	require.True(t, ok)
	assert.Same(t, custom, got)

	res := reg.Solve(context.Background(), browsertest.New(), imageSelection, newVision(), 3)
	assert.True(t, res.Success)
	assert.Equal(t, 1, custom.calls)

	_, ok = reg.Get(captcha.ProviderUnknown)
	assert.False(t, ok)
}
