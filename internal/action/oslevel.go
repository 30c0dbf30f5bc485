package action

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// Injector dispatches input at the OS display level, outside the page. It is
// the last rung of the dispatch chain: events land on whatever is at the
// screen point, which works even when the page swallows synthetic events.
type Injector interface {
	// Available reports whether OS-level injection can be attempted at all.
	Available() bool

	// Click moves the cursor to absolute screen coordinates and clicks
	// clicks times with the left button.
	Click(ctx context.Context, x, y float64, clicks int) error
}

// XdoInjector shells out to xdotool against the configured X display.
type XdoInjector struct {
	log     *zap.Logger
	display string
}

// NewXdoInjector returns an injector bound to display (":1" style).
func NewXdoInjector(log *zap.Logger, display string) *XdoInjector {
	return &XdoInjector{log: log.Named("xdo"), display: display}
}

// Available checks that xdotool is on PATH.
func (x *XdoInjector) Available() bool {
	_, err := exec.LookPath("xdotool")
	return err == nil
}

// Click runs xdotool mousemove followed by click. Coordinates are absolute
// screen space; translation from viewport space happens before this call.
func (x *XdoInjector) Click(ctx context.Context, px, py float64, clicks int) error {
	if clicks < 1 {
		clicks = 1
	}
	args := []string{
		"mousemove", "--sync",
		strconv.Itoa(int(px)), strconv.Itoa(int(py)),
		"click", "--repeat", strconv.Itoa(clicks), "1",
	}
	cmd := exec.CommandContext(ctx, "xdotool", args...)
	cmd.Env = append(os.Environ(), "DISPLAY="+x.display)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("xdotool click at (%d,%d): %w: %s",
			int(px), int(py), err, string(out))
	}
	x.log.Debug("os-level click dispatched",
		zap.Int("x", int(px)), zap.Int("y", int(py)), zap.Int("clicks", clicks))
	return nil
}
