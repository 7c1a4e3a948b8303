// Package shortcut parses, normalizes, and matches keyboard shortcuts.
//
// A shortcut string is a '+'-separated sequence where every token except the
// last is a modifier and the last token is the key, e.g. "ctrl+shift+s".
// Modifier order never affects matching: "ctrl+shift+s" and "shift+ctrl+s"
// are the same chord. The platform modifiers "ctrl", "meta", and "cmd"
// collapse into a single CtrlOrMeta flag so bindings behave identically on
// macOS and elsewhere.
package shortcut

import (
	"fmt"
	"strings"
)

// KeyEvent is the engine-level view of a keyboard event, decoupled from any
// particular UI toolkit.
type KeyEvent struct {
	Key   string
	Ctrl  bool
	Meta  bool
	Shift bool
	Alt   bool
}

// Chord is a parsed shortcut.
type Chord struct {
	Key        string
	CtrlOrMeta bool
	Shift      bool
	Alt        bool
}

// Parse splits a shortcut string into its chord. Modifiers are
// case-insensitive; the key is lower-cased. An empty key or an unknown
// modifier is an error.
func Parse(s string) (Chord, error) {
	var c Chord
	tokens := strings.Split(s, "+")
	if len(tokens) == 0 || strings.TrimSpace(tokens[len(tokens)-1]) == "" {
		return c, fmt.Errorf("shortcut %q has no key", s)
	}
	for _, tok := range tokens[:len(tokens)-1] {
		switch strings.ToLower(strings.TrimSpace(tok)) {
		case "ctrl", "meta", "cmd":
			c.CtrlOrMeta = true
		case "shift":
			c.Shift = true
		case "alt", "option":
			c.Alt = true
		default:
			return Chord{}, fmt.Errorf("shortcut %q has unknown modifier %q", s, tok)
		}
	}
	c.Key = strings.ToLower(strings.TrimSpace(tokens[len(tokens)-1]))
	return c, nil
}

// Normalize returns the canonical spelling of a shortcut: modifiers in the
// fixed order ctrl, alt, shift, followed by the lower-cased key. Two inputs
// that differ only in modifier order normalize identically.
func Normalize(s string) (string, error) {
	c, err := Parse(s)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// String renders the chord in canonical form.
func (c Chord) String() string {
	var b strings.Builder
	if c.CtrlOrMeta {
		b.WriteString("ctrl+")
	}
	if c.Alt {
		b.WriteString("alt+")
	}
	if c.Shift {
		b.WriteString("shift+")
	}
	b.WriteString(c.Key)
	return b.String()
}

// Matches reports whether the event triggers the shortcut. The key compares
// case-insensitively and all three modifier flags must match exactly; a
// modifier held on the event but absent from the shortcut is a mismatch.
func Matches(ev KeyEvent, s string) bool {
	c, err := Parse(s)
	if err != nil {
		return false
	}
	if !strings.EqualFold(ev.Key, c.Key) {
		return false
	}
	if (ev.Ctrl || ev.Meta) != c.CtrlOrMeta {
		return false
	}
	if ev.Shift != c.Shift {
		return false
	}
	return ev.Alt == c.Alt
}
