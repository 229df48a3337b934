package human

import (
	"context"
	"fmt"
	"time"

	"github.com/polzovatel/browser-captcha-solver/internal/browser"
)

// Pointer replays synthesized paths on a session and clicks at the end.
type Pointer struct {
	session  browser.Session
	synth    *Synthesizer
	stepBase time.Duration
	dwellMin time.Duration
	dwellMax time.Duration
	jitter   float64
}

func NewPointer(session browser.Session, synth *Synthesizer, stepBase, dwellMin, dwellMax time.Duration) *Pointer {
	return &Pointer{
		session:  session,
		synth:    synth,
		stepBase: stepBase,
		dwellMin: dwellMin,
		dwellMax: dwellMax,
		jitter:   1.5,
	}
}

func (p *Pointer) Synth() *Synthesizer { return p.synth }

// Move walks the pointer to target.
func (p *Pointer) Move(ctx context.Context, target browser.Point) error {
	for _, step := range p.synth.PathTo(target, p.jitter, p.stepBase) {
		if err := p.session.MoveTo(ctx, step.Point); err != nil {
			return fmt.Errorf("move pointer: %w", err)
		}
		if err := Sleep(ctx, step.Pause); err != nil {
			return err
		}
	}
	return nil
}

// Click moves to target and clicks with a random dwell.
func (p *Pointer) Click(ctx context.Context, target browser.Point) error {
	if err := p.Move(ctx, target); err != nil {
		return err
	}
	if err := p.session.ClickAt(ctx, target, p.synth.Dwell(p.dwellMin, p.dwellMax)); err != nil {
		return fmt.Errorf("click at %.0f,%.0f: %w", target.X, target.Y, err)
	}
	return nil
}

// ClickRect clicks a random point near the center of r.
func (p *Pointer) ClickRect(ctx context.Context, r browser.Rect) error {
	return p.Click(ctx, p.synth.TilePoint(r))
}
