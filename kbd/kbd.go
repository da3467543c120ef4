// Package kbd translates linux keycodes plus a modifier state into
// keysyms and unicode codepoints.
//
// Two backends implement the same contract: the layout backend compiles
// symbol tables for a model/layout/variant/options tuple, the plain
// backend knows a fixed US layout and is used when the layout backend
// cannot be built. Backends are immutable once constructed, so the same
// (keycode, modifiers) pair always resolves to the same result.
package kbd

import (
	"strings"

	evdev "github.com/holoplot/go-evdev"
	"github.com/pkg/errors"
)

var (
	ErrUnknownSymbol  = errors.New("unknown keysym")
	ErrUnknownLayout  = errors.New("unknown keyboard layout")
	ErrUnknownVariant = errors.New("unknown keyboard layout variant")
	ErrUnknownModel   = errors.New("unknown keyboard model")
	ErrUnknownOption  = errors.New("unknown keyboard option")
)

// Modifier is a bitmask of active modifiers.
type Modifier uint32

const (
	ShiftMask Modifier = 1 << iota
	LockMask
	ControlMask
	AltMask
	LogoMask

	// Level3Mask (AltGr) and NumLockMask take part in resolution but are
	// not reported to input observers.
	Level3Mask
	NumLockMask
)

// AllMask covers the modifiers reported to input observers.
const AllMask = ShiftMask | LockMask | ControlMask | AltMask | LogoMask

func (m Modifier) String() string {
	var parts []string
	if m&ShiftMask != 0 {
		parts = append(parts, "Shift")
	}
	if m&LockMask != 0 {
		parts = append(parts, "Lock")
	}
	if m&ControlMask != 0 {
		parts = append(parts, "Control")
	}
	if m&AltMask != 0 {
		parts = append(parts, "Alt")
	}
	if m&LogoMask != 0 {
		parts = append(parts, "Logo")
	}
	if m&Level3Mask != 0 {
		parts = append(parts, "Level3")
	}
	if m&NumLockMask != 0 {
		parts = append(parts, "NumLock")
	}
	return strings.Join(parts, "+")
}

// ModKind says how a key takes part in the modifier state.
type ModKind int

const (
	// ModNone is an ordinary key.
	ModNone ModKind = iota
	// ModHold sets its modifier while held.
	ModHold
	// ModLock toggles its modifier on each press.
	ModLock
)

// Config selects the keymap. Empty fields take defaults ("pc105", "us",
// no variant, no options).
type Config struct {
	Model   string `json:"Model" yaml:"Model"`
	Layout  string `json:"Layout" yaml:"Layout"`
	Variant string `json:"Variant" yaml:"Variant"`
	Options string `json:"Options" yaml:"Options"`
}

// Backend is the translation contract shared by all keyboard backends.
type Backend interface {
	// Resolve returns the keysyms produced by code under mods, and one
	// codepoint per keysym (Invalid when the keysym has no unicode
	// representation).
	Resolve(code evdev.EvCode, mods Modifier) ([]Keysym, []uint32)
	// ModifierOf reports whether code is a modifier key and which bit it
	// drives.
	ModifierOf(code evdev.EvCode) (Modifier, ModKind)
	// Repeats reports whether holding code should auto-repeat.
	Repeats(code evdev.EvCode) bool
	// ASCII returns the US layout, unshifted keysym for code if it is a
	// printable ASCII character, NoSymbol otherwise. It lets shortcuts
	// match regardless of the active layout.
	ASCII(code evdev.EvCode) Keysym
	NameOf(sym Keysym) (string, error)
	SymbolOf(name string) (Keysym, error)
}

// New builds the layout backend for c.
func New(c Config) (Backend, error) {
	return NewLayoutBackend(c)
}

// symbols is the shared keysym naming half of the contract.
type symbols struct{}

func (symbols) NameOf(sym Keysym) (string, error) {
	return KeysymName(sym)
}

func (symbols) SymbolOf(name string) (Keysym, error) {
	return KeysymFromName(name)
}

// modifierOfKeysym derives a key's modifier role from the keysym on its
// first level, the way keymaps bind modifiers to Shift_L, Caps_Lock and
// friends.
func modifierOfKeysym(sym Keysym) (Modifier, ModKind) {
	switch sym {
	case XKShiftL, XKShiftR:
		return ShiftMask, ModHold
	case XKControlL, XKControlR:
		return ControlMask, ModHold
	case XKAltL, XKAltR, XKMetaL, XKMetaR:
		return AltMask, ModHold
	case XKSuperL, XKSuperR:
		return LogoMask, ModHold
	case XKISOLevel3Shift:
		return Level3Mask, ModHold
	case XKCapsLock:
		return LockMask, ModLock
	case XKNumLock:
		return NumLockMask, ModLock
	}
	return 0, ModNone
}

// key is one compiled keymap entry.
type key struct {
	levels     []Keysym
	alphabetic bool
	keypad     bool
}

func newKey(levels ...Keysym) key {
	k := key{levels: levels}
	if len(levels) >= 2 {
		lo, up := levels[0], levels[1]
		k.alphabetic = lo != up && toUpper(lo) == up
	}
	for _, s := range levels {
		if isKeypad(s) {
			k.keypad = true
			break
		}
	}
	return k
}

// level picks the shift level of k under mods.
func (k key) level(mods Modifier) Keysym {
	if len(k.levels) == 0 {
		return NoSymbol
	}

	shift := mods&ShiftMask != 0
	if k.alphabetic && mods&LockMask != 0 {
		shift = !shift
	}
	if k.keypad && mods&NumLockMask != 0 {
		shift = !shift
	}

	lvl := 0
	if shift {
		lvl = 1
	}
	if mods&Level3Mask != 0 {
		lvl += 2
	}
	if lvl >= len(k.levels) {
		lvl &= 1
	}
	if lvl >= len(k.levels) {
		lvl = 0
	}
	return k.levels[lvl]
}

// resolveKey turns the level symbol into the observer-visible result,
// applying the control transformation to the codepoint.
func resolveKey(k key, mods Modifier) ([]Keysym, []uint32) {
	sym := k.level(mods)
	if sym == NoSymbol {
		return nil, nil
	}
	cp := KeysymToUnicode(sym)
	if mods&ControlMask != 0 && cp != Invalid {
		cp = controlCodepoint(cp)
	}
	return []Keysym{sym}, []uint32{cp}
}

func repeats(k key, ok bool) bool {
	if !ok || len(k.levels) == 0 {
		return false
	}
	_, kind := modifierOfKeysym(k.levels[0])
	return kind == ModNone
}
