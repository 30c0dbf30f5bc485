// Package action executes the primitive browser interactions: navigate,
// click, type, scroll, drag. Every operation follows locate → translate →
// dispatch, with an ordered fallback chain for dispatch.
package action

import (
	"errors"
	"fmt"
	"time"
)

// Error classes surfaced to the command boundary.
var (
	// ErrValidation marks malformed requests, rejected before any browser
	// interaction is attempted.
	ErrValidation = errors.New("invalid action request")

	// ErrNotFound marks elements that never became present or interactable
	// within the wait budget.
	ErrNotFound = errors.New("element not found")

	// ErrTimeout marks bounded waits that elapsed.
	ErrTimeout = errors.New("operation timed out")
)

// Coordinates addresses a point in viewport space.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Request is the input to an interaction operation. Exactly one addressing
// mode, locator or coordinates, must be populated.
type Request struct {
	// Locator is an XPath expression resolved inside the page.
	Locator string

	// Coords addresses a viewport point, translated to screen space at
	// dispatch time.
	Coords *Coordinates

	// WaitTime bounds element waits. Zero means the 10s default.
	WaitTime time.Duration

	// Force skips the native-click attempt and dispatches the synthetic
	// in-page event directly.
	Force bool

	// ClearFirst empties the field before typing.
	ClearFirst bool

	// Text is the literal input for Type.
	Text string

	// Key names a special key (enter, tab, arrowdown, ...) instead of
	// literal text.
	Key string

	// Delay is the inter-keystroke delay for Type. Zero means 100ms.
	Delay time.Duration

	// ScrollMode is ScrollModePixels or ScrollModeElement; ScrollAmount
	// applies to pixel scrolling. Empty is inferred from Locator.
	ScrollMode   string
	ScrollAmount int
}

// Scroll addressing modes.
const (
	ScrollModePixels  = "pixels"
	ScrollModeElement = "element"
)

// Validate enforces addressing-mode exclusivity.
func (r *Request) Validate() error {
	hasLocator := r.Locator != ""
	hasCoords := r.Coords != nil
	if hasLocator == hasCoords {
		if hasLocator {
			return fmt.Errorf("%w: locator and coordinates are mutually exclusive", ErrValidation)
		}
		return fmt.Errorf("%w: either locator or coordinates must be provided", ErrValidation)
	}
	return nil
}

// ValidateScroll checks the scroll-specific fields.
func (r *Request) ValidateScroll() error {
	switch r.ScrollMode {
	case "", ScrollModePixels, ScrollModeElement:
	default:
		return fmt.Errorf("%w: unknown scroll mode %q", ErrValidation, r.ScrollMode)
	}
	if r.ScrollMode == ScrollModeElement && r.Locator == "" {
		return fmt.Errorf("%w: element scroll requires a locator", ErrValidation)
	}
	return nil
}

func (r *Request) waitTime() time.Duration {
	if r.WaitTime <= 0 {
		return 10 * time.Second
	}
	return r.WaitTime
}

func (r *Request) typeDelay() time.Duration {
	if r.Delay <= 0 {
		return 100 * time.Millisecond
	}
	return r.Delay
}
