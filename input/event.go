package input

import (
	evdev "github.com/holoplot/go-evdev"
	"github.com/peco/uterm/internal/hook"
	"github.com/peco/uterm/kbd"
)

// Event is one resolved key press. It only lives for the duration of a
// single dispatch.
type Event struct {
	handled bool

	// Keycode is the raw linux keycode.
	Keycode evdev.EvCode
	// ASCII is the US layout symbol of Keycode, or kbd.NoSymbol.
	ASCII kbd.Keysym
	// Mods is the modifier state the key was resolved with.
	Mods kbd.Modifier
	// Keysyms and Codepoints are parallel. A keysym without a unicode
	// representation has kbd.Invalid as its codepoint.
	Keysyms    []kbd.Keysym
	Codepoints []uint32
}

// Handled reports whether an earlier handler acted on the event.
func (e *Event) Handled() bool {
	return e.handled
}

// MarkHandled flags the event as consumed. Later handlers still see it.
// There is no way to clear the flag.
func (e *Event) MarkHandled() {
	e.handled = true
}

// HasMods reports whether every modifier in m is active.
func (e *Event) HasMods(m kbd.Modifier) bool {
	return e.Mods&m == m
}

// Handler receives events from an Aggregator.
type Handler interface {
	HandleInput(*Aggregator, *Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(*Aggregator, *Event)

func (f HandlerFunc) HandleInput(a *Aggregator, ev *Event) {
	f(a, ev)
}

// Registration is the handle returned by Aggregator.Register.
type Registration = hook.Registration[Handler]
