package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"webpilot/internal/action"
)

// ElementSnapshot is a close-up of a single element: its rendered image and
// its sanitized markup.
type ElementSnapshot struct {
	Screenshot []byte `json:"-"`
	HTML       string `json:"html"`
}

// CaptureElement scrolls the element addressed by locator into view and
// returns its screenshot and markup. The same degrade rule as Snapshot
// applies: one half may fail as long as the other is returned.
func (e *Engine) CaptureElement(ctx context.Context, page *rod.Page, locator string, wait time.Duration) (*ElementSnapshot, error) {
	if locator == "" {
		return nil, fmt.Errorf("%w: locator must not be empty", action.ErrValidation)
	}
	if wait <= 0 {
		wait = 10 * time.Second
	}

	el, err := page.Context(ctx).Timeout(wait).ElementX(locator)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no element matches %q within %s", action.ErrNotFound, locator, wait)
		}
		return nil, fmt.Errorf("resolve %q: %w", locator, err)
	}
	// Swap the resolution timeout for a capture budget so the screenshot and
	// markup calls stay bounded too.
	el = el.CancelTimeout().Timeout(e.readyTimeout)

	if err := el.ScrollIntoView(); err != nil {
		e.log.Debug("scroll into view failed", zap.String("locator", locator), zap.Error(err))
	}

	snap := &ElementSnapshot{}

	shot, shotErr := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if shotErr == nil {
		snap.Screenshot = shot
	}

	raw, htmlErr := el.HTML()
	if htmlErr == nil {
		clean, err := ExtractBody(raw)
		if err != nil {
			clean = raw
		}
		snap.HTML = capDOM(clean)
	}

	if shotErr != nil && htmlErr != nil {
		return nil, fmt.Errorf("element capture failed entirely: screenshot: %v; html: %v", shotErr, htmlErr)
	}
	if shotErr != nil {
		e.log.Warn("element screenshot failed, returning markup only",
			zap.String("locator", locator), zap.Error(shotErr))
	}
	return snap, nil
}
