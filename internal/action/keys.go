package action

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/input"
)

// specialKeys maps caller-facing key names to CDP key definitions.
var specialKeys = map[string]input.Key{
	"enter":      input.Enter,
	"return":     input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"space":      input.Space,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"up":         input.ArrowUp,
	"arrowup":    input.ArrowUp,
	"down":       input.ArrowDown,
	"arrowdown":  input.ArrowDown,
	"left":       input.ArrowLeft,
	"arrowleft":  input.ArrowLeft,
	"right":      input.ArrowRight,
	"arrowright": input.ArrowRight,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"home":       input.Home,
	"end":        input.End,
}

// ctrlCombos are the supported control-key chords.
var ctrlCombos = map[string]input.Key{
	"a": input.KeyA,
	"c": input.KeyC,
	"v": input.KeyV,
	"x": input.KeyX,
	"z": input.KeyZ,
}

// SpecialKey resolves a key name like "enter" or "ctrl+a". The second return
// is the modifier key, valid when withCtrl is true.
func SpecialKey(name string) (key input.Key, withCtrl bool, err error) {
	normalized := strings.ToLower(strings.TrimSpace(name))

	if letter, ok := strings.CutPrefix(normalized, "ctrl+"); ok {
		k, found := ctrlCombos[letter]
		if !found {
			return 0, false, fmt.Errorf("%w: unsupported key combination %q", ErrValidation, name)
		}
		return k, true, nil
	}

	k, found := specialKeys[normalized]
	if !found {
		return 0, false, fmt.Errorf("%w: unsupported special key %q", ErrValidation, name)
	}
	return k, false, nil
}
