package kbd

import (
	evdev "github.com/holoplot/go-evdev"
)

// PlainBackend is the minimal fallback backend: a fixed US layout without
// a third shift level and without options.
type PlainBackend struct {
	symbols
	keys map[evdev.EvCode]key
}

// NewPlainBackend creates the fallback backend.
func NewPlainBackend() *PlainBackend {
	keys := commonKeys()
	for code, c := range usKeys {
		keys[code] = newKey(Keysym(c[0]), Keysym(c[1]))
	}
	return &PlainBackend{keys: keys}
}

func (b *PlainBackend) Resolve(code evdev.EvCode, mods Modifier) ([]Keysym, []uint32) {
	k, ok := b.keys[code]
	if !ok {
		return nil, nil
	}
	return resolveKey(k, mods&^Level3Mask)
}

func (b *PlainBackend) ModifierOf(code evdev.EvCode) (Modifier, ModKind) {
	k, ok := b.keys[code]
	if !ok || len(k.levels) == 0 {
		return 0, ModNone
	}
	return modifierOfKeysym(k.levels[0])
}

func (b *PlainBackend) Repeats(code evdev.EvCode) bool {
	k, ok := b.keys[code]
	return repeats(k, ok)
}

func (b *PlainBackend) ASCII(code evdev.EvCode) Keysym {
	return usASCII(code)
}
