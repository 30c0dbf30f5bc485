package capture

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func stubStrategy(name string, data []byte, err error, calls *[]string) Strategy {
	return Strategy{
		Name: name,
		Shoot: func(ctx context.Context, page *rod.Page) ([]byte, error) {
			*calls = append(*calls, name)
			return data, err
		},
	}
}

func TestScreenshotFallsBackWhenPrimaryFails(t *testing.T) {
	var calls []string
	e := NewEngine(zap.NewNop(), time.Second, ":1")
	e.SetStrategies([]Strategy{
		stubStrategy("primary", nil, errors.New("frame capture unavailable"), &calls),
		stubStrategy("fallback", []byte("png-bytes"), nil, &calls),
		stubStrategy("last", []byte("never"), nil, &calls),
	})

	data, err := e.screenshot(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, []string{"primary", "fallback"}, calls, "chain stops at first success")
}

func TestScreenshotSkipsEmptyResults(t *testing.T) {
	var calls []string
	e := NewEngine(zap.NewNop(), time.Second, ":1")
	e.SetStrategies([]Strategy{
		stubStrategy("empty", []byte{}, nil, &calls),
		stubStrategy("real", []byte("img"), nil, &calls),
	})

	data, err := e.screenshot(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), data)
}

func TestScreenshotBoundsEachStrategy(t *testing.T) {
	// A wedged capture path must not be able to block forever; every strategy
	// runs under a deadline derived from the engine budget.
	e := NewEngine(zap.NewNop(), time.Second, ":1")
	e.SetStrategies([]Strategy{{
		Name: "probe",
		Shoot: func(ctx context.Context, page *rod.Page) ([]byte, error) {
			deadline, ok := ctx.Deadline()
			require.True(t, ok, "strategy context must carry a deadline")
			assert.LessOrEqual(t, time.Until(deadline), time.Second)
			return []byte("img"), nil
		},
	}})

	_, err := e.screenshot(context.Background(), nil)
	require.NoError(t, err)
}

func TestScreenshotAllStrategiesFail(t *testing.T) {
	var calls []string
	e := NewEngine(zap.NewNop(), time.Second, ":1")
	e.SetStrategies([]Strategy{
		stubStrategy("a", nil, errors.New("boom-a"), &calls),
		stubStrategy("b", nil, errors.New("boom-b"), &calls),
	})

	_, err := e.screenshot(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom-a")
	assert.Contains(t, err.Error(), "boom-b")
}

func TestCapDOMTruncates(t *testing.T) {
	short := strings.Repeat("x", 100)
	assert.Equal(t, short, capDOM(short))

	long := strings.Repeat("y", MaxDOMBytes+500)
	capped := capDOM(long)
	assert.Len(t, capped, MaxDOMBytes+len(truncationMarker))
	assert.True(t, strings.HasSuffix(capped, truncationMarker))
}

func TestExtractBodyStripsScripts(t *testing.T) {
	doc := `<html><head><title>t</title></head><body>
		<div id="keep">hello</div>
		<script>alert(1)</script>
		<style>.x{}</style>
		<p>world<noscript>no js</noscript></p>
	</body></html>`

	out, err := ExtractBody(doc)
	require.NoError(t, err)
	assert.Contains(t, out, `<div id="keep">hello</div>`)
	assert.Contains(t, out, "<p>world</p>")
	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "style")
}

func TestExtractBodyAcceptsFragments(t *testing.T) {
	out, err := ExtractBody(`<ul><li>a</li><li>b</li></ul>`)
	require.NoError(t, err)
	assert.Equal(t, "<ul><li>a</li><li>b</li></ul>", out)
}

func TestVisibleDOMScriptSkipList(t *testing.T) {
	// The in-page serializer and the Go-side sanitizer must agree on what
	// never reaches the caller.
	for tag := range strippedTags {
		assert.Contains(t, visibleDOMJS, strings.ToUpper(tag))
	}
}
