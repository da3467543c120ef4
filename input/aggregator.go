// Package input merges the evdev nodes of one seat into a single stream
// of resolved key events.
//
// An Aggregator owns its devices, tracks the combined modifier state,
// resolves keys through a kbd.Backend and implements software key
// repeat. Everything except the per-device reader goroutines runs on the
// eloop.Loop the Aggregator was created with.
package input

import (
	"time"

	"github.com/google/btree"
	evdev "github.com/holoplot/go-evdev"
	"github.com/lestrrat-go/pdebug"
	"github.com/peco/uterm/eloop"
	"github.com/peco/uterm/internal/hook"
	"github.com/peco/uterm/internal/ref"
	"github.com/peco/uterm/kbd"
	"github.com/pkg/errors"
)

var (
	ErrDeviceOpen = errors.New("failed to open input device")
	ErrDestroyed  = errors.New("input aggregator destroyed")

	// ErrUnknownSymbol is returned by the keysym name translations.
	ErrUnknownSymbol = kbd.ErrUnknownSymbol
)

const (
	DefaultRepeatDelay = 250 * time.Millisecond
	DefaultRepeatRate  = 50 * time.Millisecond
)

// Options configures an Aggregator.
type Options struct {
	Seat   string
	Keymap kbd.Config
	// RepeatDelay is the time between a key press and its first repeat,
	// RepeatRate the interval between further repeats. Zero picks the
	// defaults.
	RepeatDelay time.Duration
	RepeatRate  time.Duration
	// Opener opens device nodes. Defaults to OpenDevice.
	Opener Opener
	// Backend overrides the keyboard backend built from Keymap.
	Backend kbd.Backend
}

type repeatState struct {
	dev   *device
	code  evdev.EvCode
	timer *eloop.Timer
}

// Aggregator is one seat's merged input view.
type Aggregator struct {
	loop     *eloop.Loop
	seat     string
	backend  kbd.Backend
	delay    time.Duration
	rate     time.Duration
	opener   Opener
	refs     *ref.Count
	devices  *btree.BTreeG[*device]
	handlers hook.List[Handler]
	sleeping int
	locks    kbd.Modifier
	mods     kbd.Modifier
	repeat   repeatState
}

func deviceLess(a, b *device) bool {
	return a.path < b.path
}

// New creates an Aggregator holding one reference. When the keymap in
// options cannot be compiled the plain US backend is used instead.
func New(loop *eloop.Loop, options Options) (*Aggregator, error) {
	if loop == nil {
		return nil, errors.New("input: nil event loop")
	}
	if options.RepeatDelay < 0 || options.RepeatRate < 0 {
		return nil, errors.Errorf("input: invalid repeat delay/rate %s/%s", options.RepeatDelay, options.RepeatRate)
	}

	a := &Aggregator{
		loop:    loop,
		seat:    options.Seat,
		backend: options.Backend,
		delay:   options.RepeatDelay,
		rate:    options.RepeatRate,
		opener:  options.Opener,
		devices: btree.NewG[*device](16, deviceLess),
	}
	if a.delay == 0 {
		a.delay = DefaultRepeatDelay
	}
	if a.rate == 0 {
		a.rate = DefaultRepeatRate
	}
	if a.opener == nil {
		a.opener = OpenDevice
	}
	if a.backend == nil {
		b, err := kbd.New(options.Keymap)
		if err != nil {
			if pdebug.Enabled {
				pdebug.Printf("input: keymap %#v unusable, falling back to plain backend: %s", options.Keymap, err)
			}
			a.backend = kbd.NewPlainBackend()
		} else {
			a.backend = b
		}
	}
	a.refs = ref.New(a.destroy)
	return a, nil
}

// Seat returns the seat name the aggregator was created for.
func (a *Aggregator) Seat() string {
	return a.seat
}

// Backend returns the keyboard backend in use.
func (a *Aggregator) Backend() kbd.Backend {
	return a.backend
}

func (a *Aggregator) Ref() {
	a.refs.Ref()
}

// Unref drops a reference. Dropping the last one closes every device,
// cancels key repeat and forgets all handlers.
func (a *Aggregator) Unref() {
	a.refs.Unref()
}

func (a *Aggregator) destroyed() bool {
	return a.refs.Released()
}

func (a *Aggregator) destroy() {
	if pdebug.Enabled {
		g := pdebug.Marker("input.Aggregator.destroy (seat %s)", a.seat)
		defer g.End()
	}

	a.cancelRepeat()
	var devs []*device
	a.devices.Ascend(func(d *device) bool {
		devs = append(devs, d)
		return true
	})
	for _, d := range devs {
		a.closeDevice(d)
	}
	a.handlers.Clear()
}

// AddDevice opens the node at path and starts reading from it. Adding a
// path that is already present is a no-op.
func (a *Aggregator) AddDevice(path string) (err error) {
	if pdebug.Enabled {
		g := pdebug.Marker("input.Aggregator.AddDevice %s", path)
		defer g.BindError(&err).End()
	}

	if a.destroyed() {
		return ErrDestroyed
	}
	if _, ok := a.devices.Get(&device{path: path}); ok {
		return nil
	}

	src, err := a.opener(path)
	if err != nil {
		if errors.Is(err, ErrDeviceOpen) {
			return err
		}
		return errors.Wrapf(ErrDeviceOpen, "%s: %s", path, err)
	}

	d := &device{
		path: path,
		src:  src,
		held: make(map[evdev.EvCode]struct{}),
	}
	a.devices.ReplaceOrInsert(d)
	a.writeLEDs(d)
	go a.read(d)
	return nil
}

// RemoveDevice closes the node at path. Keys held on it are released
// without generating events. Removing an absent path is a no-op.
func (a *Aggregator) RemoveDevice(path string) {
	d, ok := a.devices.Get(&device{path: path})
	if !ok {
		return
	}
	if pdebug.Enabled {
		pdebug.Printf("input: removing %s", path)
	}
	a.closeDevice(d)
}

func (a *Aggregator) closeDevice(d *device) {
	if d.removed {
		return
	}
	d.removed = true
	a.devices.Delete(d)
	if a.repeat.dev == d {
		a.cancelRepeat()
	}
	d.held = nil
	a.updateMods()
	_ = d.src.Close()
}

func (a *Aggregator) deviceFailed(d *device, err error) {
	if d.removed {
		return
	}
	if pdebug.Enabled {
		pdebug.Printf("input: device %s failed: %s", d.path, err)
	}
	a.closeDevice(d)
}

// Devices returns the node paths of all open devices, sorted.
func (a *Aggregator) Devices() []string {
	var list []string
	a.devices.Ascend(func(d *device) bool {
		list = append(list, d.path)
		return true
	})
	return list
}

// Register adds h to the end of the handler list.
func (a *Aggregator) Register(h Handler) *Registration {
	return a.handlers.Add(h)
}

// Unregister removes a handler added with Register. A handler removed
// while an event is being dispatched is not called for that event if it
// has not been called yet.
func (a *Aggregator) Unregister(r *Registration) {
	a.handlers.Remove(r)
}

// Sleep suspends event delivery. Devices stay open. Calls nest: the
// aggregator is awake again once every Sleep has a matching WakeUp.
func (a *Aggregator) Sleep() {
	a.sleeping++
	if a.sleeping > 1 {
		return
	}
	if pdebug.Enabled {
		pdebug.Printf("input: seat %s going to sleep", a.seat)
	}
	a.cancelRepeat()
}

// WakeUp resumes event delivery once the last Sleep is balanced. Key and
// LED state are re-read from devices that can report them.
func (a *Aggregator) WakeUp() {
	if a.sleeping == 0 {
		return
	}
	a.sleeping--
	if a.sleeping > 0 {
		return
	}
	if pdebug.Enabled {
		pdebug.Printf("input: seat %s waking up", a.seat)
	}
	a.resync()
}

func (a *Aggregator) IsAwake() bool {
	return a.sleeping == 0
}

// Modifiers returns the combined modifier state, including the
// resolution-only Level3 and NumLock bits.
func (a *Aggregator) Modifiers() kbd.Modifier {
	return a.mods
}

// KeysymToString returns the name of sym.
func (a *Aggregator) KeysymToString(sym kbd.Keysym) (string, error) {
	return a.backend.NameOf(sym)
}

// StringToKeysym parses a keysym name.
func (a *Aggregator) StringToKeysym(s string) (kbd.Keysym, error) {
	return a.backend.SymbolOf(s)
}

func (a *Aggregator) handleRaw(d *device, ev *evdev.InputEvent) {
	if d.removed || a.destroyed() || ev.Type != evdev.EV_KEY {
		return
	}
	if !a.IsAwake() {
		// releases still count so keys held across a switch do not
		// come back stuck
		if ev.Value == 0 {
			delete(d.held, ev.Code)
			a.updateMods()
		}
		return
	}

	switch ev.Value {
	case 0:
		a.keyUp(d, ev.Code)
	case 1:
		a.keyDown(d, ev.Code)
	}
	// value 2 is kernel autorepeat, repeat is done in software
}

func (a *Aggregator) keyDown(d *device, code evdev.EvCode) {
	d.held[code] = struct{}{}
	if mod, kind := a.backend.ModifierOf(code); kind == kbd.ModLock {
		a.locks ^= mod
		a.writeAllLEDs()
	}
	a.updateMods()

	a.dispatch(code)

	if a.backend.Repeats(code) && !a.destroyed() && a.IsAwake() && !d.removed {
		a.startRepeat(d, code)
	}
}

func (a *Aggregator) keyUp(d *device, code evdev.EvCode) {
	delete(d.held, code)
	a.updateMods()
	if a.repeat.timer != nil && a.repeat.dev == d && a.repeat.code == code {
		a.cancelRepeat()
	}
}

func (a *Aggregator) updateMods() {
	mods := a.locks
	a.devices.Ascend(func(d *device) bool {
		for code := range d.held {
			if mod, kind := a.backend.ModifierOf(code); kind == kbd.ModHold {
				mods |= mod
			}
		}
		return true
	})
	a.mods = mods
}

func (a *Aggregator) dispatch(code evdev.EvCode) {
	syms, cps := a.backend.Resolve(code, a.mods)
	if len(syms) == 0 {
		return
	}

	ev := &Event{
		Keycode:    code,
		ASCII:      a.backend.ASCII(code),
		Mods:       a.mods & kbd.AllMask,
		Keysyms:    syms,
		Codepoints: cps,
	}

	a.Ref()
	defer a.Unref()
	a.handlers.Each(func(h Handler) {
		h.HandleInput(a, ev)
	})
}

func (a *Aggregator) startRepeat(d *device, code evdev.EvCode) {
	a.cancelRepeat()
	a.repeat.dev = d
	a.repeat.code = code
	a.repeat.timer = a.loop.AfterFunc(a.delay, a.fireRepeat)
}

func (a *Aggregator) fireRepeat() {
	d := a.repeat.dev
	code := a.repeat.code
	a.repeat.timer = nil
	if d == nil || d.removed {
		return
	}

	a.repeat.timer = a.loop.AfterFunc(a.rate, a.fireRepeat)
	a.dispatch(code)
}

func (a *Aggregator) cancelRepeat() {
	if a.repeat.timer != nil {
		a.repeat.timer.Stop()
	}
	a.repeat = repeatState{}
}

// resync replaces the held keys of every device able to report them and
// takes the lock state from the LEDs of devices that mirror it. Without
// such a device the lock state is kept.
func (a *Aggregator) resync() {
	var (
		locks   kbd.Modifier
		haveLED bool
	)
	a.devices.Ascend(func(d *device) bool {
		ss, ok := d.src.(StateSource)
		if !ok {
			return true
		}

		if keys, err := ss.State(evdev.EV_KEY); err == nil {
			held := make(map[evdev.EvCode]struct{}, len(keys))
			for code, down := range keys {
				if down {
					held[code] = struct{}{}
				}
			}
			d.held = held
		} else if pdebug.Enabled {
			pdebug.Printf("input: failed to read key state of %s: %s", d.path, err)
		}

		// LEDs that were never driven say nothing about the locks
		if ls, ok := d.src.(LEDSource); !ok || !ls.HasLEDs() {
			return true
		}
		if leds, err := ss.State(evdev.EV_LED); err == nil {
			haveLED = true
			if leds[evdev.LED_CAPSL] {
				locks |= kbd.LockMask
			}
			if leds[evdev.LED_NUML] {
				locks |= kbd.NumLockMask
			}
		}
		return true
	})

	if haveLED {
		a.locks = locks
		a.writeAllLEDs()
	}
	a.updateMods()
}

func (a *Aggregator) writeAllLEDs() {
	a.devices.Ascend(func(d *device) bool {
		a.writeLEDs(d)
		return true
	})
}

func (a *Aggregator) writeLEDs(d *device) {
	ls, ok := d.src.(LEDSource)
	if !ok || !ls.HasLEDs() {
		return
	}
	if err := ls.SetLED(evdev.LED_CAPSL, a.locks&kbd.LockMask != 0); err != nil {
		if pdebug.Enabled {
			pdebug.Printf("input: %s: %s", d.path, err)
		}
		return
	}
	if err := ls.SetLED(evdev.LED_NUML, a.locks&kbd.NumLockMask != 0); err != nil && pdebug.Enabled {
		pdebug.Printf("input: %s: %s", d.path, err)
	}
}
