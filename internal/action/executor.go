package action

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"webpilot/internal/console"
)

// schemeRe matches URLs that already carry an explicit scheme.
var schemeRe = regexp.MustCompile(`^\w+://`)

// cdpCallTimeout bounds individual protocol calls that would otherwise block
// for as long as the renderer does, an open dialog included.
const cdpCallTimeout = 3 * time.Second

// NormalizeURL prefixes bare hosts with https. Agents routinely pass
// "example.com" and expect it to work.
func NormalizeURL(raw string) string {
	if schemeRe.MatchString(raw) {
		return raw
	}
	return "https://" + raw
}

// NavigateResult reports where the page landed. Partial is set when the load
// event never fired within the budget; the page is still usable.
type NavigateResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Partial bool   `json:"partial,omitempty"`
}

// DispatchResult names the dispatch strategy that succeeded.
type DispatchResult struct {
	Method string `json:"method"`
}

// ScrollResult is the vertical scroll offset after the operation.
type ScrollResult struct {
	Offset int `json:"offset"`
}

// DragRequest addresses a press-move-release gesture by its two endpoints.
type DragRequest struct {
	SourceLocator string
	TargetLocator string
	WaitTime      time.Duration
}

func (r *DragRequest) waitTime() time.Duration {
	if r.WaitTime <= 0 {
		return 10 * time.Second
	}
	return r.WaitTime
}

// Executor runs the primitive interactions against a page. Each operation
// follows locate → translate → dispatch; dispatch walks an ordered fallback
// chain so a page that swallows one event form still receives the input.
type Executor struct {
	log        *zap.Logger
	console    *console.Bridge
	injector   Injector
	navTimeout time.Duration
}

// NewExecutor builds an executor. injector may be a no-op implementation when
// no display is available; the chain then stops at the CDP fallback.
func NewExecutor(log *zap.Logger, bridge *console.Bridge, injector Injector, navTimeout time.Duration) *Executor {
	return &Executor{
		log:        log.Named("action"),
		console:    bridge,
		injector:   injector,
		navTimeout: navTimeout,
	}
}

// Navigate loads rawURL and waits for the document to become ready. The
// console buffer is read before navigation and restored after, so the reset
// of page-global state does not lose captured entries. A load that never
// settles returns a partial result, not an error.
func (e *Executor) Navigate(ctx context.Context, page *rod.Page, rawURL string) (*NavigateResult, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: url must not be empty", ErrValidation)
	}
	url := NormalizeURL(rawURL)
	page = page.Context(ctx)

	preserved, err := e.console.ReadLogs(page.Timeout(cdpCallTimeout))
	if err != nil {
		e.log.Debug("console buffer unreadable before navigation", zap.Error(err))
	}

	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}
	partial := !e.waitReady(ctx, page)

	if err := e.console.EnsureInjected(page); err != nil {
		e.log.Warn("console shim re-injection failed", zap.Error(err))
	} else if err := e.console.Restore(page, preserved); err != nil {
		e.log.Warn("console buffer restore failed", zap.Error(err))
	}

	res := &NavigateResult{URL: url, Partial: partial}
	if info, err := page.Timeout(cdpCallTimeout).Info(); err == nil {
		res.URL = info.URL
		res.Title = info.Title
	}
	if partial {
		e.log.Warn("page load did not settle, returning partial result",
			zap.String("url", url), zap.Duration("budget", e.navTimeout))
	}
	return res, nil
}

// Back navigates one entry back in history.
func (e *Executor) Back(ctx context.Context, page *rod.Page) (*NavigateResult, error) {
	page = page.Context(ctx)
	if err := page.NavigateBack(); err != nil {
		return nil, fmt.Errorf("navigate back: %w", err)
	}
	partial := !e.waitReady(ctx, page)
	if err := e.console.EnsureInjected(page); err != nil {
		e.log.Warn("console shim re-injection failed", zap.Error(err))
	}

	res := &NavigateResult{Partial: partial}
	if info, err := page.Timeout(cdpCallTimeout).Info(); err == nil {
		res.URL = info.URL
		res.Title = info.Title
	}
	return res, nil
}

// waitReady polls document.readyState until complete or the budget elapses.
// Returns whether the document settled. Each probe carries its own timeout so
// a wedged renderer cannot stall the loop past the deadline.
func (e *Executor) waitReady(ctx context.Context, page *rod.Page) bool {
	deadline := time.Now().Add(e.navTimeout)
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

// Click dispatches a single click at the request's target.
func (e *Executor) Click(ctx context.Context, page *rod.Page, req *Request) (*DispatchResult, error) {
	return e.click(ctx, page, req, 1)
}

// DoubleClick dispatches a double click at the request's target.
func (e *Executor) DoubleClick(ctx context.Context, page *rod.Page, req *Request) (*DispatchResult, error) {
	return e.click(ctx, page, req, 2)
}

func (e *Executor) click(ctx context.Context, page *rod.Page, req *Request, clicks int) (*DispatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Coords != nil {
		return e.clickAt(ctx, page, *req.Coords, clicks)
	}
	return e.clickElement(ctx, page, req, clicks)
}

// clickElement walks the dispatch chain: native driver click, synthetic
// in-page event, OS-level input at the translated screen point, and finally a
// raw CDP mouse event. Each rung is tried only after the previous one failed.
func (e *Executor) clickElement(ctx context.Context, page *rod.Page, req *Request, clicks int) (*DispatchResult, error) {
	el, err := e.resolveElement(ctx, page, req.Locator, req.waitTime())
	if err != nil {
		return nil, err
	}
	if err := el.ScrollIntoView(); err != nil {
		e.log.Debug("scroll into view failed", zap.String("locator", req.Locator), zap.Error(err))
	}

	if !req.Force {
		if err := el.Click(proto.InputMouseButtonLeft, clicks); err == nil {
			return &DispatchResult{Method: "native"}, nil
		} else {
			e.log.Debug("native click failed, falling back",
				zap.String("locator", req.Locator), zap.Error(err))
		}
	}

	if err := e.syntheticClick(ctx, page, req.Locator, clicks); err == nil {
		return &DispatchResult{Method: "synthetic"}, nil
	} else {
		e.log.Debug("synthetic click failed, falling back",
			zap.String("locator", req.Locator), zap.Error(err))
	}

	point, err := elementPoint(el)
	if err != nil {
		return nil, fmt.Errorf("locate click point for %q: %w", req.Locator, err)
	}
	return e.clickAt(ctx, page, Coordinates{X: point.X, Y: point.Y}, clicks)
}

// clickAt dispatches at a viewport point: OS-level input when a display is
// available, otherwise a raw CDP mouse event pair.
func (e *Executor) clickAt(ctx context.Context, page *rod.Page, at Coordinates, clicks int) (*DispatchResult, error) {
	if e.injector != nil && e.injector.Available() {
		sx, sy, err := e.toScreen(ctx, page, at)
		if err == nil {
			if err := e.injector.Click(ctx, sx, sy, clicks); err == nil {
				return &DispatchResult{Method: "os"}, nil
			} else {
				e.log.Debug("os-level click failed, falling back", zap.Error(err))
			}
		} else {
			e.log.Debug("screen translation failed, falling back", zap.Error(err))
		}
	}

	if err := e.cdpClick(page, at, clicks); err != nil {
		return nil, fmt.Errorf("dispatch click at (%.0f,%.0f): %w", at.X, at.Y, err)
	}
	return &DispatchResult{Method: "cdp"}, nil
}

// syntheticClick dispatches MouseEvents straight at the element resolved by
// XPath inside the page, bypassing hit testing. Survives overlays that
// intercept the native click.
func (e *Executor) syntheticClick(ctx context.Context, page *rod.Page, locator string, clicks int) error {
	res, err := page.Context(ctx).Timeout(cdpCallTimeout).Evaluate(&rod.EvalOptions{
		JS: `(xpath, dbl) => {
			const el = document.evaluate(xpath, document, null,
				XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
			if (!el) return false;
			const opts = {bubbles: true, cancelable: true, view: window};
			el.dispatchEvent(new MouseEvent('mousedown', opts));
			el.dispatchEvent(new MouseEvent('mouseup', opts));
			el.dispatchEvent(new MouseEvent('click', opts));
			if (dbl) el.dispatchEvent(new MouseEvent('dblclick', opts));
			return true;
		}`,
		JSArgs:  []interface{}{locator, clicks > 1},
		ByValue: true,
	})
	if err != nil {
		return err
	}
	if !res.Value.Bool() {
		return fmt.Errorf("%w: %q vanished before synthetic dispatch", ErrNotFound, locator)
	}
	return nil
}

// cdpClick issues pressed/released events through the debugging protocol.
func (e *Executor) cdpClick(page *rod.Page, at Coordinates, clicks int) error {
	for i := 0; i < clicks; i++ {
		press := proto.InputDispatchMouseEvent{
			Type:       proto.InputDispatchMouseEventTypeMousePressed,
			X:          at.X,
			Y:          at.Y,
			Button:     proto.InputMouseButtonLeft,
			ClickCount: i + 1,
		}
		if err := press.Call(page); err != nil {
			return err
		}
		release := press
		release.Type = proto.InputDispatchMouseEventTypeMouseReleased
		if err := release.Call(page); err != nil {
			return err
		}
	}
	return nil
}

// toScreen translates a viewport point to absolute screen coordinates using
// the window's on-screen origin. The outer/inner height delta accounts for
// the title bar and toolbars above the viewport.
func (e *Executor) toScreen(ctx context.Context, page *rod.Page, at Coordinates) (float64, float64, error) {
	res, err := page.Context(ctx).Timeout(cdpCallTimeout).Evaluate(&rod.EvalOptions{
		JS: `() => ({
			x: window.screenX,
			y: window.screenY + (window.outerHeight - window.innerHeight)
		})`,
		ByValue: true,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("read window origin: %w", err)
	}
	return res.Value.Get("x").Num() + at.X, res.Value.Get("y").Num() + at.Y, nil
}

// Type sends text or a special key to the element addressed by the request.
// Literal text is sent one character at a time with an inter-keystroke delay;
// pages with input masks and autocomplete widgets miss batched input.
func (e *Executor) Type(ctx context.Context, page *rod.Page, req *Request) error {
	if req.Locator == "" {
		return fmt.Errorf("%w: type requires a locator", ErrValidation)
	}
	if req.Text == "" && req.Key == "" {
		return fmt.Errorf("%w: type requires text or a key name", ErrValidation)
	}

	el, err := e.resolveElement(ctx, page, req.Locator, req.waitTime())
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		e.log.Debug("scroll into view failed", zap.String("locator", req.Locator), zap.Error(err))
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focus %q: %w", req.Locator, err)
	}

	if req.ClearFirst {
		if err := el.SelectAllText(); err != nil {
			return fmt.Errorf("select text in %q: %w", req.Locator, err)
		}
		if err := el.Input(""); err != nil {
			return fmt.Errorf("clear %q: %w", req.Locator, err)
		}
	}

	if req.Key != "" {
		return e.PressKey(ctx, page, req.Key)
	}

	delay := req.typeDelay()
	for _, r := range req.Text {
		if err := el.Input(string(r)); err != nil {
			return fmt.Errorf("type into %q: %w", req.Locator, err)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: typing into %q cut short", ErrTimeout, req.Locator)
			}
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}

// PressKey sends a special key or ctrl-chord to whatever holds focus.
func (e *Executor) PressKey(ctx context.Context, page *rod.Page, name string) error {
	key, withCtrl, err := SpecialKey(name)
	if err != nil {
		return err
	}
	page = page.Context(ctx)
	if withCtrl {
		if err := page.KeyActions().Press(input.ControlLeft).Type(key).Do(); err != nil {
			return fmt.Errorf("press %s: %w", name, err)
		}
		return nil
	}
	if err := page.Keyboard.Type(key); err != nil {
		return fmt.Errorf("press %s: %w", name, err)
	}
	return nil
}

// Scroll moves the window by a pixel delta, or brings a located element into
// view, per the request's mode. An empty mode is inferred from the locator.
// Returns the resulting vertical offset.
func (e *Executor) Scroll(ctx context.Context, page *rod.Page, req *Request) (*ScrollResult, error) {
	if err := req.ValidateScroll(); err != nil {
		return nil, err
	}

	if req.ScrollMode == ScrollModeElement || (req.ScrollMode == "" && req.Locator != "") {
		el, err := e.resolveElement(ctx, page, req.Locator, req.waitTime())
		if err != nil {
			return nil, err
		}
		if err := el.ScrollIntoView(); err != nil {
			return nil, fmt.Errorf("scroll %q into view: %w", req.Locator, err)
		}
		return e.scrollOffset(ctx, page)
	}

	_, err := page.Context(ctx).Timeout(cdpCallTimeout).Evaluate(&rod.EvalOptions{
		JS:      `(dy) => window.scrollBy(0, dy)`,
		JSArgs:  []interface{}{req.ScrollAmount},
		ByValue: true,
	})
	if err != nil {
		return nil, fmt.Errorf("scroll by %d: %w", req.ScrollAmount, err)
	}
	return e.scrollOffset(ctx, page)
}

func (e *Executor) scrollOffset(ctx context.Context, page *rod.Page) (*ScrollResult, error) {
	res, err := page.Context(ctx).Timeout(cdpCallTimeout).Evaluate(&rod.EvalOptions{
		JS:      `() => Math.round(window.pageYOffset)`,
		ByValue: true,
	})
	if err != nil {
		return nil, fmt.Errorf("read scroll offset: %w", err)
	}
	return &ScrollResult{Offset: res.Value.Int()}, nil
}

// Drag performs a press-move-release from the source element to the target
// element, with an intermediate waypoint so drag handlers that require
// movement events fire.
func (e *Executor) Drag(ctx context.Context, page *rod.Page, req *DragRequest) error {
	if req.SourceLocator == "" || req.TargetLocator == "" {
		return fmt.Errorf("%w: drag requires source and target locators", ErrValidation)
	}

	src, err := e.resolveElement(ctx, page, req.SourceLocator, req.waitTime())
	if err != nil {
		return err
	}
	dst, err := e.resolveElement(ctx, page, req.TargetLocator, req.waitTime())
	if err != nil {
		return err
	}

	from, err := elementPoint(src)
	if err != nil {
		return fmt.Errorf("locate drag source %q: %w", req.SourceLocator, err)
	}
	to, err := elementPoint(dst)
	if err != nil {
		return fmt.Errorf("locate drag target %q: %w", req.TargetLocator, err)
	}

	mouse := page.Context(ctx).Mouse
	if err := mouse.MoveTo(*from); err != nil {
		return fmt.Errorf("move to drag source: %w", err)
	}
	if err := mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("press at drag source: %w", err)
	}
	mid := proto.Point{X: (from.X + to.X) / 2, Y: (from.Y + to.Y) / 2}
	if err := mouse.MoveTo(mid); err != nil {
		return fmt.Errorf("drag movement: %w", err)
	}
	if err := mouse.MoveTo(*to); err != nil {
		return fmt.Errorf("drag movement: %w", err)
	}
	if err := mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("release at drag target: %w", err)
	}
	return nil
}

// resolveElement waits for the locator to match within the budget. A wait
// that elapses maps to the not-found class so the guard fails fast instead of
// multiplying the wait across retries.
func (e *Executor) resolveElement(ctx context.Context, page *rod.Page, locator string, wait time.Duration) (*rod.Element, error) {
	el, err := page.Context(ctx).Timeout(wait).ElementX(locator)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no element matches %q within %s", ErrNotFound, locator, wait)
		}
		return nil, fmt.Errorf("resolve %q: %w", locator, err)
	}
	return el.CancelTimeout(), nil
}

// elementPoint picks a visible point inside the element's content quads.
func elementPoint(el *rod.Element) (*proto.Point, error) {
	shape, err := el.Shape()
	if err != nil {
		return nil, err
	}
	point := shape.OnePointInside()
	if point == nil {
		return nil, errors.New("element has no visible area")
	}
	return point, nil
}
