// Package grab parses keyboard shortcuts and matches resolved key
// presses against them. A shortcut is one key or a comma separated
// sequence of keys. Each key is written either as "<Ctrl><Alt>F2" or in
// the emacs style "C-M-F2".
package grab

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/peco/uterm/kbd"
	"github.com/pkg/errors"
)

// Mask is the set of modifiers that take part in matching. Lock state
// never does.
const Mask = kbd.ShiftMask | kbd.ControlMask | kbd.AltMask | kbd.LogoMask

var modNames = map[string]kbd.Modifier{
	"shift":   kbd.ShiftMask,
	"ctrl":    kbd.ControlMask,
	"control": kbd.ControlMask,
	"alt":     kbd.AltMask,
	"mod1":    kbd.AltMask,
	"logo":    kbd.LogoMask,
	"super":   kbd.LogoMask,
	"mod4":    kbd.LogoMask,
}

var emacsMods = map[byte]kbd.Modifier{
	'C': kbd.ControlMask,
	'M': kbd.AltMask,
	'S': kbd.ShiftMask,
	's': kbd.LogoMask,
}

// Key is one step of a shortcut.
type Key struct {
	Mods kbd.Modifier
	Sym  kbd.Keysym
}

// KeyList is a shortcut sequence.
type KeyList []Key

// NewKey builds the key a press of sym under mods matches. Letters are
// compared case-insensitively, Shift is matched through Mods.
func NewKey(mods kbd.Modifier, sym kbd.Keysym) Key {
	return Key{Mods: mods & Mask, Sym: fold(sym)}
}

// Keys returns the keys one resolved press can match: one per keysym,
// then the layout independent ASCII symbol.
func Keys(mods kbd.Modifier, syms []kbd.Keysym, ascii kbd.Keysym) []Key {
	list := make([]Key, 0, len(syms)+1)
	for _, s := range syms {
		list = append(list, NewKey(mods, s))
	}
	if ascii != kbd.NoSymbol {
		list = append(list, NewKey(mods, ascii))
	}
	return list
}

func fold(sym kbd.Keysym) kbd.Keysym {
	cp := kbd.KeysymToUnicode(sym)
	if cp == kbd.Invalid || !unicode.IsLetter(rune(cp)) {
		return sym
	}
	lower := unicode.ToLower(rune(cp))
	if uint32(lower) == cp {
		return sym
	}
	return kbd.KeysymFromUnicode(uint32(lower))
}

func (k Key) Compare(x Key) int {
	switch {
	case k.Mods < x.Mods:
		return -1
	case k.Mods > x.Mods:
		return 1
	case k.Sym < x.Sym:
		return -1
	case k.Sym > x.Sym:
		return 1
	}
	return 0
}

func (k Key) String() string {
	var b strings.Builder
	for _, m := range []struct {
		mask kbd.Modifier
		name string
	}{
		{kbd.ControlMask, "Ctrl"},
		{kbd.AltMask, "Alt"},
		{kbd.LogoMask, "Logo"},
		{kbd.ShiftMask, "Shift"},
	} {
		if k.Mods&m.mask != 0 {
			fmt.Fprintf(&b, "<%s>", m.name)
		}
	}
	if n, err := kbd.KeysymName(k.Sym); err == nil {
		b.WriteString(n)
	} else {
		fmt.Fprintf(&b, "0x%x", uint32(k.Sym))
	}
	return b.String()
}

func (kl KeyList) String() string {
	list := make([]string, len(kl))
	for i := range kl {
		list[i] = kl[i].String()
	}
	return strings.Join(list, ",")
}

func (kl KeyList) Equals(x KeyList) bool {
	if len(kl) != len(x) {
		return false
	}
	for i := range kl {
		if kl[i].Compare(x[i]) != 0 {
			return false
		}
	}
	return true
}

// Parse parses a shortcut such as "<Ctrl><Logo>Right" or "C-x,C-c".
func Parse(s string) (KeyList, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("empty shortcut")
	}

	var list KeyList
	for _, term := range strings.Split(s, ",") {
		k, err := ParseKey(term)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse shortcut '%s'", s)
		}
		list = append(list, k)
	}
	return list, nil
}

// ParseKey parses a single step of a shortcut.
func ParseKey(term string) (Key, error) {
	s := strings.TrimSpace(term)
	var mods kbd.Modifier
	for {
		if strings.HasPrefix(s, "<") {
			i := strings.IndexByte(s, '>')
			if i < 0 {
				return Key{}, errors.Errorf("unterminated modifier in '%s'", term)
			}
			m, ok := modNames[strings.ToLower(s[1:i])]
			if !ok {
				return Key{}, errors.Errorf("unknown modifier '%s'", s[1:i])
			}
			mods |= m
			s = s[i+1:]
			continue
		}
		if len(s) > 2 && s[1] == '-' {
			if m, ok := emacsMods[s[0]]; ok {
				mods |= m
				s = s[2:]
				continue
			}
		}
		break
	}
	if s == "" {
		return Key{}, errors.Errorf("no key in '%s'", term)
	}

	sym, err := kbd.KeysymFromName(s)
	if err != nil {
		r, size := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError || size != len(s) {
			return Key{}, err
		}
		sym = kbd.KeysymFromUnicode(uint32(r))
	}
	return NewKey(mods, sym), nil
}
