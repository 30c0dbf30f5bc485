package action

import (
	"context"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"webpilot/internal/console"
)

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"example.com":              "https://example.com",
		"example.com/path?q=1":     "https://example.com/path?q=1",
		"https://example.com":      "https://example.com",
		"http://insecure.test":     "http://insecure.test",
		"file:///tmp/page.html":    "file:///tmp/page.html",
		"localhost:8080/dashboard": "https://localhost:8080/dashboard",
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeURL(raw), raw)
	}
}

func TestRequestValidateExclusivity(t *testing.T) {
	err := (&Request{}).Validate()
	assert.ErrorIs(t, err, ErrValidation)

	err = (&Request{Locator: "//button", Coords: &Coordinates{X: 1, Y: 2}}).Validate()
	assert.ErrorIs(t, err, ErrValidation)

	assert.NoError(t, (&Request{Locator: "//button"}).Validate())
	assert.NoError(t, (&Request{Coords: &Coordinates{X: 10, Y: 20}}).Validate())
}

func TestRequestDefaults(t *testing.T) {
	r := &Request{}
	assert.Equal(t, 10*time.Second, r.waitTime())
	assert.Equal(t, 100*time.Millisecond, r.typeDelay())

	r = &Request{WaitTime: time.Second, Delay: 5 * time.Millisecond}
	assert.Equal(t, time.Second, r.waitTime())
	assert.Equal(t, 5*time.Millisecond, r.typeDelay())
}

func TestSpecialKeyNames(t *testing.T) {
	key, ctrl, err := SpecialKey("enter")
	require.NoError(t, err)
	assert.Equal(t, input.Enter, key)
	assert.False(t, ctrl)

	key, ctrl, err = SpecialKey(" Escape ")
	require.NoError(t, err)
	assert.Equal(t, input.Escape, key)
	assert.False(t, ctrl)

	key, ctrl, err = SpecialKey("ArrowDown")
	require.NoError(t, err)
	assert.Equal(t, input.ArrowDown, key)
	assert.False(t, ctrl)
}

func TestSpecialKeyCtrlChords(t *testing.T) {
	key, ctrl, err := SpecialKey("ctrl+a")
	require.NoError(t, err)
	assert.Equal(t, input.KeyA, key)
	assert.True(t, ctrl)

	_, _, err = SpecialKey("ctrl+q")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSpecialKeyUnknown(t *testing.T) {
	_, _, err := SpecialKey("f13")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestClickRejectsMalformedRequest(t *testing.T) {
	e := NewExecutor(zap.NewNop(), console.NewBridge(zap.NewNop()), nil, time.Second)

	_, err := e.Click(context.Background(), nil, &Request{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.DoubleClick(context.Background(), nil, &Request{
		Locator: "//a", Coords: &Coordinates{X: 1, Y: 1},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTypeRejectsMissingInput(t *testing.T) {
	e := NewExecutor(zap.NewNop(), console.NewBridge(zap.NewNop()), nil, time.Second)

	err := e.Type(context.Background(), nil, &Request{Text: "hello"})
	assert.ErrorIs(t, err, ErrValidation, "locator is required")

	err = e.Type(context.Background(), nil, &Request{Locator: "//input"})
	assert.ErrorIs(t, err, ErrValidation, "text or key is required")
}

func TestNavigateRejectsEmptyURL(t *testing.T) {
	e := NewExecutor(zap.NewNop(), console.NewBridge(zap.NewNop()), nil, time.Second)

	_, err := e.Navigate(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidateScroll(t *testing.T) {
	assert.NoError(t, (&Request{ScrollMode: ScrollModePixels, ScrollAmount: 300}).ValidateScroll())
	assert.NoError(t, (&Request{ScrollMode: ScrollModeElement, Locator: "//footer"}).ValidateScroll())
	assert.NoError(t, (&Request{ScrollAmount: -100}).ValidateScroll(), "empty mode defaults to pixels")
	assert.NoError(t, (&Request{Locator: "//footer"}).ValidateScroll(), "empty mode with locator means element")

	err := (&Request{ScrollMode: "sideways"}).ValidateScroll()
	assert.ErrorIs(t, err, ErrValidation)

	err = (&Request{ScrollMode: ScrollModeElement}).ValidateScroll()
	assert.ErrorIs(t, err, ErrValidation, "element mode without a locator has no target")
}

func TestScrollRejectsUnknownMode(t *testing.T) {
	e := NewExecutor(zap.NewNop(), console.NewBridge(zap.NewNop()), nil, time.Second)

	_, err := e.Scroll(context.Background(), nil, &Request{ScrollMode: "diagonal"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDragRejectsMissingEndpoints(t *testing.T) {
	e := NewExecutor(zap.NewNop(), console.NewBridge(zap.NewNop()), nil, time.Second)

	err := e.Drag(context.Background(), nil, &DragRequest{SourceLocator: "//li[1]"})
	assert.ErrorIs(t, err, ErrValidation)

	err = e.Drag(context.Background(), nil, &DragRequest{TargetLocator: "//li[2]"})
	assert.ErrorIs(t, err, ErrValidation)
}
