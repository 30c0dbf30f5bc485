package console

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapKeepsMostRecentInOrder(t *testing.T) {
	entries := make([]Entry, 1500)
	for i := range entries {
		entries[i] = Entry{Level: "info", Message: fmt.Sprintf("msg-%d", i)}
	}

	capped := Cap(entries)
	assert.Len(t, capped, MaxEntries)
	assert.Equal(t, "msg-500", capped[0].Message, "oldest 500 evicted")
	assert.Equal(t, "msg-1499", capped[len(capped)-1].Message)
}

func TestCapNoopUnderLimit(t *testing.T) {
	entries := []Entry{{Message: "a"}, {Message: "b"}}
	assert.Equal(t, entries, Cap(entries))
	assert.Nil(t, Cap(nil))
}

func TestShimMatchesGoSideContract(t *testing.T) {
	// The in-page cap and marker must stay in sync with the Go constants the
	// rest of the system relies on.
	assert.Contains(t, shimJS, fmt.Sprintf("const cap = %d;", MaxEntries))
	assert.Contains(t, shimJS, "__webpilotConsole")
	assert.Contains(t, shimJS, "unhandledrejection")

	// Idempotence marker check happens before any override.
	installGuard := strings.Index(shimJS, "if (w.__webpilotConsole) return false;")
	override := strings.Index(shimJS, "console[level] =")
	assert.Greater(t, override, installGuard)
}
