package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scanner issues scans with a fresh context id each time and polls for the
// results. Previous results are never reused: the DOM may have changed.
type Scanner struct {
	session  Session
	timeout  time.Duration
	interval time.Duration
	newID    func() string
}

func NewScanner(session Session, timeout, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Scanner{
		session:  session,
		timeout:  timeout,
		interval: interval,
		newID:    func() string { return "scan-" + uuid.NewString() },
	}
}

// Scan returns every element in frame matching selector.
func (s *Scanner) Scan(ctx context.Context, frame FrameRef, selector string) ([]ElementInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := s.newID()
	if err := s.session.ScanRegion(ctx, id, frame, selector); err != nil {
		return nil, fmt.Errorf("scan %s in %s: %w", selector, frame, err)
	}
	deadline := time.Now().Add(s.timeout)
	for {
		if elems, ok := s.session.GetScannedElements(id); ok {
			return elems, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("scan %s in %s: %w", selector, frame, ErrScanTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.interval):
		}
	}
}

// Visible returns the visible elements with a non-empty box.
func (s *Scanner) Visible(ctx context.Context, frame FrameRef, selector string) ([]ElementInfo, error) {
	elems, err := s.Scan(ctx, frame, selector)
	if err != nil {
		return nil, err
	}
	out := elems[:0]
	for _, el := range elems {
		if el.Visible && !el.Rect().Empty() {
			out = append(out, el)
		}
	}
	return out, nil
}

// First returns the first visible element for any of the selectors, tried in order.
func (s *Scanner) First(ctx context.Context, frame FrameRef, selectors ...string) (ElementInfo, bool) {
	el, ok, _ := s.Find(ctx, frame, selectors...)
	return el, ok
}

// Find is First that also reports failed scans. The error is non-nil only
// when nothing matched and at least one scan failed, so a false result with
// a nil error means every selector was checked and is absent.
func (s *Scanner) Find(ctx context.Context, frame FrameRef, selectors ...string) (ElementInfo, bool, error) {
	var scanErr error
	for _, sel := range selectors {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		elems, err := s.Visible(ctx, frame, sel)
		if err != nil {
			scanErr = err
			continue
		}
		if len(elems) > 0 {
			return elems[0], true, nil
		}
	}
	return ElementInfo{}, false, scanErr
}

// Largest returns the widest visible element at least minWidth wide.
func (s *Scanner) Largest(ctx context.Context, frame FrameRef, selector string, minWidth float64) (ElementInfo, bool) {
	el, ok, _ := s.FindLargest(ctx, frame, selector, minWidth)
	return el, ok
}

// FindLargest is Largest with the scan error reported.
func (s *Scanner) FindLargest(ctx context.Context, frame FrameRef, selector string, minWidth float64) (ElementInfo, bool, error) {
	elems, err := s.Visible(ctx, frame, selector)
	if err != nil {
		return ElementInfo{}, false, err
	}
	var best ElementInfo
	found := false
	for _, el := range elems {
		if el.Width < minWidth {
			continue
		}
		if !found || el.Width*el.Height > best.Width*best.Height {
			best = el
			found = true
		}
	}
	return best, found, nil
}

// Text joins the text of the visible elements matching selector.
func (s *Scanner) Text(ctx context.Context, frame FrameRef, selector string) string {
	elems, err := s.Visible(ctx, frame, selector)
	if err != nil {
		return ""
	}
	parts := make([]string, 0, len(elems))
	for _, el := range elems {
		if t := strings.TrimSpace(el.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
