// Package capture produces viewport snapshots: a screenshot plus the
// serialized markup of elements currently intersecting the viewport. Both
// halves are captured independently and a failure in one never blocks the
// other; only a double failure is a hard error.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxDOMBytes caps the visible-DOM text in a snapshot.
const MaxDOMBytes = 1 << 20

// truncationMarker is appended when the DOM text exceeds the cap.
const truncationMarker = "... (truncated)"

// cdpCallTimeout bounds individual protocol calls that would otherwise block
// for as long as the renderer does.
const cdpCallTimeout = 3 * time.Second

// Snapshot is the output of a viewport capture. ScreenshotErr and DOMErr
// annotate half-failures; a snapshot with either half present is a success.
type Snapshot struct {
	Screenshot    []byte `json:"-"`
	DOM           string `json:"dom,omitempty"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Warning       string `json:"warning,omitempty"`
	ScreenshotErr string `json:"screenshot_error,omitempty"`
	DOMErr        string `json:"dom_error,omitempty"`
}

// Strategy is one way of obtaining a screenshot.
type Strategy struct {
	Name  string
	Shoot func(ctx context.Context, page *rod.Page) ([]byte, error)
}

// Engine captures snapshots by walking an ordered strategy chain.
type Engine struct {
	log          *zap.Logger
	strategies   []Strategy
	readyTimeout time.Duration
}

// NewEngine builds an engine with the default chain: the browser's native
// frame capture, then the generic screenshot call, then an OS-level screen
// grab cropped to the window rectangle on the given display.
func NewEngine(log *zap.Logger, readyTimeout time.Duration, display string) *Engine {
	e := &Engine{log: log.Named("capture"), readyTimeout: readyTimeout}
	e.strategies = []Strategy{
		{Name: "cdp", Shoot: cdpScreenshot},
		{Name: "generic", Shoot: rodScreenshot},
		{Name: "os", Shoot: osScreenshot(display)},
	}
	return e
}

// SetStrategies replaces the chain, used by tests.
func (e *Engine) SetStrategies(strategies []Strategy) { e.strategies = strategies }

// Snapshot captures the current viewport. The two halves run concurrently;
// whichever succeeds is returned, with an annotation for the half that
// failed. Only a double failure escalates to an error.
func (e *Engine) Snapshot(ctx context.Context, page *rod.Page) (*Snapshot, error) {
	snap := &Snapshot{}
	if !e.waitReady(ctx, page) {
		snap.Warning = fmt.Sprintf("page did not finish loading within %s, capturing current state", e.readyTimeout)
	}

	var (
		shot    []byte
		shotErr error
		dom     string
		domErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		shot, shotErr = e.screenshot(gctx, page)
		return nil
	})
	g.Go(func() error {
		dom, domErr = e.visibleDOM(gctx, page)
		return nil
	})
	_ = g.Wait()

	if shotErr != nil && domErr != nil {
		return nil, fmt.Errorf("capture failed entirely: screenshot: %v; dom: %v", shotErr, domErr)
	}

	snap.Screenshot = shot
	snap.DOM = dom
	if shotErr != nil {
		snap.ScreenshotErr = shotErr.Error()
		e.log.Warn("screenshot half failed, returning DOM only", zap.Error(shotErr))
	}
	if domErr != nil {
		snap.DOMErr = domErr.Error()
		e.log.Warn("DOM half failed, returning screenshot only", zap.Error(domErr))
	}

	if info, err := page.Context(ctx).Timeout(cdpCallTimeout).Info(); err == nil {
		snap.URL = info.URL
		snap.Title = info.Title
	}
	return snap, nil
}

// screenshot walks the strategy chain and returns the first success. Each
// strategy gets its own bounded context so one wedged capture path cannot
// starve the rest of the chain.
func (e *Engine) screenshot(ctx context.Context, page *rod.Page) ([]byte, error) {
	var errs []error
	for _, s := range e.strategies {
		sctx, cancel := context.WithTimeout(ctx, e.readyTimeout)
		data, err := s.Shoot(sctx, page)
		cancel()
		if err == nil && len(data) > 0 {
			e.log.Debug("screenshot captured", zap.String("strategy", s.Name), zap.Int("bytes", len(data)))
			return data, nil
		}
		if err == nil {
			err = errors.New("empty image")
		}
		e.log.Debug("screenshot strategy failed", zap.String("strategy", s.Name), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
	}
	return nil, fmt.Errorf("all strategies failed: %w", errors.Join(errs...))
}

// visibleDOMJS serializes elements intersecting the viewport. Containers
// taller than the viewport are descended into so off-screen bulk is skipped;
// script and style subtrees never contribute.
const visibleDOMJS = `
() => {
	const vh = window.innerHeight, vw = window.innerWidth;
	const skip = new Set(['SCRIPT', 'STYLE', 'NOSCRIPT', 'TEMPLATE']);
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) return false;
		return r.top < vh && r.bottom > 0 && r.left < vw && r.right > 0;
	};
	const parts = [];
	const visit = (el) => {
		if (skip.has(el.tagName) || !visible(el)) return;
		if (el.getBoundingClientRect().height <= vh) {
			parts.push(el.outerHTML);
			return;
		}
		for (const child of el.children) visit(child);
	};
	if (document.body) {
		for (const child of document.body.children) visit(child);
	}
	return parts.join('\n');
}
`

func (e *Engine) visibleDOM(ctx context.Context, page *rod.Page) (string, error) {
	res, err := page.Context(ctx).Timeout(e.readyTimeout).Evaluate(&rod.EvalOptions{JS: visibleDOMJS, ByValue: true})
	if err != nil {
		return "", fmt.Errorf("serialize visible DOM: %w", err)
	}
	return capDOM(res.Value.Str()), nil
}

// capDOM truncates to MaxDOMBytes and appends the marker.
func capDOM(dom string) string {
	if len(dom) <= MaxDOMBytes {
		return dom
	}
	return dom[:MaxDOMBytes] + truncationMarker
}

// waitReady polls document.readyState up to the budget. Capture proceeds
// either way; the return value only drives the warning annotation. Each probe
// carries its own timeout so a wedged renderer cannot stall the loop.
func (e *Engine) waitReady(ctx context.Context, page *rod.Page) bool {
	deadline := time.Now().Add(e.readyTimeout)
	for time.Now().Before(deadline) {
		res, err := page.Context(ctx).Timeout(cdpCallTimeout).Evaluate(&rod.EvalOptions{
			JS:      `() => document.readyState`,
			ByValue: true,
		})
		if err == nil && res.Value.Str() == "complete" {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return false
}

// cdpScreenshot asks the browser for a surface capture of the viewport.
func cdpScreenshot(ctx context.Context, page *rod.Page) ([]byte, error) {
	res, err := proto.PageCaptureScreenshot{
		Format:      proto.PageCaptureScreenshotFormatPng,
		FromSurface: true,
	}.Call(page.Context(ctx))
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// rodScreenshot is the generic driver screenshot call.
func rodScreenshot(ctx context.Context, page *rod.Page) ([]byte, error) {
	return page.Context(ctx).Screenshot(false, nil)
}

// osScreenshot grabs the whole display with ImageMagick and crops to the
// browser window's on-screen rectangle. Works even when the debugging
// connection can no longer produce frames.
func osScreenshot(display string) func(ctx context.Context, page *rod.Page) ([]byte, error) {
	return func(ctx context.Context, page *rod.Page) ([]byte, error) {
		if _, err := exec.LookPath("import"); err != nil {
			return nil, fmt.Errorf("imagemagick import not on PATH: %w", err)
		}
		res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
			JS: `() => ({
				x: window.screenX,
				y: window.screenY,
				w: window.outerWidth,
				h: window.outerHeight
			})`,
			ByValue: true,
		})
		if err != nil {
			return nil, fmt.Errorf("read window rectangle: %w", err)
		}
		crop := fmt.Sprintf("%dx%d+%d+%d",
			res.Value.Get("w").Int(), res.Value.Get("h").Int(),
			res.Value.Get("x").Int(), res.Value.Get("y").Int())

		cmd := exec.CommandContext(ctx, "import", "-window", "root", "-crop", crop, "png:-")
		cmd.Env = append(os.Environ(), "DISPLAY="+display)
		var out strings.Builder
		cmd.Stdout = &out
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("os screen grab: %w", err)
		}
		return []byte(out.String()), nil
	}
}
