package input

import (
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"github.com/jonboulle/clockwork"
	"github.com/peco/uterm/eloop"
	"github.com/peco/uterm/kbd"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	events  chan *evdev.InputEvent
	entered chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events:  make(chan *evdev.InputEvent),
		entered: make(chan struct{}, 16),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSource) ReadOne() (*evdev.InputEvent, error) {
	s.entered <- struct{}{}
	select {
	case ev, ok := <-s.events:
		if !ok {
			return nil, io.EOF
		}
		return ev, nil
	case <-s.closed:
		return nil, os.ErrClosed
	}
}

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSource) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type stateSource struct {
	*fakeSource
	keys   map[evdev.EvCode]bool
	leds   map[evdev.EvCode]bool
	noLEDs bool
}

func (s *stateSource) State(t evdev.EvType) (map[evdev.EvCode]bool, error) {
	switch t {
	case evdev.EV_KEY:
		return s.keys, nil
	case evdev.EV_LED:
		return s.leds, nil
	}
	return nil, errors.New("unsupported")
}

func (s *stateSource) SetLED(code evdev.EvCode, on bool) error {
	s.leds[code] = on
	return nil
}

func (s *stateSource) HasLEDs() bool {
	return !s.noLEDs
}

// readOnlySource reports key state like a node opened read-only: the LED
// map comes back empty.
type readOnlySource struct {
	*fakeSource
	keys map[evdev.EvCode]bool
}

func (s *readOnlySource) State(t evdev.EvType) (map[evdev.EvCode]bool, error) {
	if t == evdev.EV_KEY {
		return s.keys, nil
	}
	return map[evdev.EvCode]bool{}, nil
}

type received struct {
	at      time.Duration
	keysyms []kbd.Keysym
	cps     []uint32
	mods    kbd.Modifier
}

type harness struct {
	t       *testing.T
	start   time.Time
	clock   *clockwork.FakeClock
	loop    *eloop.Loop
	agg     *Aggregator
	sources map[string]Source
	opened  map[string]int
	got     []received
}

func newHarness(t *testing.T, options Options) *harness {
	h := &harness{
		t:       t,
		start:   time.Unix(1000, 0),
		sources: make(map[string]Source),
		opened:  make(map[string]int),
	}
	h.clock = clockwork.NewFakeClockAt(h.start)
	h.loop = eloop.New(eloop.WithClock(h.clock))
	options.Opener = h.open

	agg, err := New(h.loop, options)
	require.NoError(t, err)
	h.agg = agg
	agg.Register(HandlerFunc(func(_ *Aggregator, ev *Event) {
		h.got = append(h.got, received{
			at:      h.clock.Now().Sub(h.start),
			keysyms: ev.Keysyms,
			cps:     ev.Codepoints,
			mods:    ev.Mods,
		})
	}))
	t.Cleanup(agg.Unref)
	return h
}

func (h *harness) open(path string) (Source, error) {
	src, ok := h.sources[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	h.opened[path]++
	return src, nil
}

func waitEntered(t *testing.T, s *fakeSource) {
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "reader goroutine did not come back")
	}
}

func (h *harness) add(path string) *fakeSource {
	src := newFakeSource()
	h.sources[path] = src
	require.NoError(h.t, h.agg.AddDevice(path))
	waitEntered(h.t, src)
	return src
}

func (h *harness) addState(path string) *stateSource {
	src := &stateSource{
		fakeSource: newFakeSource(),
		keys:       map[evdev.EvCode]bool{},
		leds:       map[evdev.EvCode]bool{},
	}
	h.addSource(path, src)
	return src
}

func (h *harness) addSource(path string, src Source) {
	h.sources[path] = src
	require.NoError(h.t, h.agg.AddDevice(path))
	waitEntered(h.t, h.fake(path))
}

func (h *harness) fake(path string) *fakeSource {
	switch src := h.sources[path].(type) {
	case *fakeSource:
		return src
	case *stateSource:
		return src.fakeSource
	case *readOnlySource:
		return src.fakeSource
	}
	panic("unknown source " + path)
}

// feed delivers one raw event and dispatches it.
func (h *harness) feed(path string, code evdev.EvCode, value int32) {
	src := h.fake(path)
	select {
	case src.events <- &evdev.InputEvent{Type: evdev.EV_KEY, Code: code, Value: value}:
	case <-time.After(5 * time.Second):
		require.FailNow(h.t, "reader goroutine is not reading")
	}
	waitEntered(h.t, src)
	h.loop.Dispatch()
}

func (h *harness) press(path string, code evdev.EvCode) {
	h.feed(path, code, 1)
}

func (h *harness) release(path string, code evdev.EvCode) {
	h.feed(path, code, 0)
}

func (h *harness) tap(path string, code evdev.EvCode) {
	h.press(path, code)
	h.release(path, code)
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.loop.Dispatch()
}

func (h *harness) waitFor(cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		h.loop.Dispatch()
		if cond() {
			return
		}
		require.True(h.t, time.Now().Before(deadline), "timed out waiting for condition")
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) times() []time.Duration {
	var list []time.Duration
	for _, r := range h.got {
		list = append(list, r.at)
	}
	return list
}

const (
	kbd0 = "/dev/input/event0"
	kbd1 = "/dev/input/event1"
	kbd2 = "/dev/input/event2"
)

func TestAddRemoveDevice(t *testing.T) {
	h := newHarness(t, Options{Seat: "seat0"})
	require.Equal(t, "seat0", h.agg.Seat())

	h.add(kbd2)
	h.add(kbd0)
	require.NoError(t, h.agg.AddDevice(kbd0))
	require.Equal(t, []string{kbd0, kbd2}, h.agg.Devices())
	require.Equal(t, 1, h.opened[kbd0], "adding a present device must not reopen it")

	h.agg.RemoveDevice(kbd1)
	require.Equal(t, []string{kbd0, kbd2}, h.agg.Devices())

	src := h.fake(kbd0)
	h.agg.RemoveDevice(kbd0)
	h.agg.RemoveDevice(kbd0)
	require.Equal(t, []string{kbd2}, h.agg.Devices())
	require.True(t, src.isClosed())

	err := h.agg.AddDevice("/dev/input/nonexistent")
	require.True(t, errors.Is(err, ErrDeviceOpen), "got %v", err)
	require.Equal(t, []string{kbd2}, h.agg.Devices())
}

func TestResolvedEvents(t *testing.T) {
	h := newHarness(t, Options{})
	h.add(kbd0)

	h.press(kbd0, evdev.KEY_LEFTSHIFT)
	h.press(kbd0, evdev.KEY_A)
	h.release(kbd0, evdev.KEY_A)
	h.release(kbd0, evdev.KEY_LEFTSHIFT)
	h.tap(kbd0, evdev.KEY_A)
	h.tap(kbd0, evdev.KEY_F1)

	require.Len(t, h.got, 4)
	require.Equal(t, []kbd.Keysym{kbd.XKShiftL}, h.got[0].keysyms)
	require.Equal(t, []uint32{kbd.Invalid}, h.got[0].cps)
	require.Equal(t, kbd.ShiftMask, h.got[0].mods)
	require.Equal(t, []kbd.Keysym{'A'}, h.got[1].keysyms)
	require.Equal(t, []uint32{'A'}, h.got[1].cps)
	require.Equal(t, kbd.ShiftMask, h.got[1].mods)
	require.Equal(t, []kbd.Keysym{'a'}, h.got[2].keysyms)
	require.Equal(t, kbd.Modifier(0), h.got[2].mods)
	require.Equal(t, []kbd.Keysym{kbd.XKF1}, h.got[3].keysyms)
	require.Equal(t, kbd.Modifier(0), h.agg.Modifiers())
}

func TestModifiersAcrossDevices(t *testing.T) {
	h := newHarness(t, Options{})
	h.add(kbd0)
	h.add(kbd1)

	h.press(kbd0, evdev.KEY_LEFTCTRL)
	h.press(kbd1, evdev.KEY_RIGHTCTRL)
	h.release(kbd0, evdev.KEY_LEFTCTRL)
	require.Equal(t, kbd.ControlMask, h.agg.Modifiers(), "control still held on the second device")

	h.press(kbd0, evdev.KEY_C)
	last := h.got[len(h.got)-1]
	require.Equal(t, []uint32{0x03}, last.cps)

	h.release(kbd1, evdev.KEY_RIGHTCTRL)
	require.Equal(t, kbd.Modifier(0), h.agg.Modifiers())
}

func TestIgnoredEvents(t *testing.T) {
	h := newHarness(t, Options{})
	h.add(kbd0)

	h.feed(kbd0, evdev.KEY_A, 2)
	h.feed(kbd0, evdev.KEY_F24, 1)
	require.Empty(t, h.got)
}

func TestHandlerOrderAndHandled(t *testing.T) {
	h := newHarness(t, Options{})
	h.add(kbd0)

	var order []string
	var seen []bool
	h.agg.Register(HandlerFunc(func(_ *Aggregator, ev *Event) {
		order = append(order, "first")
		ev.MarkHandled()
	}))
	second := h.agg.Register(HandlerFunc(func(_ *Aggregator, ev *Event) {
		order = append(order, "second")
		seen = append(seen, ev.Handled())
	}))
	h.agg.Register(HandlerFunc(func(_ *Aggregator, ev *Event) {
		order = append(order, "third")
		seen = append(seen, ev.Handled())
	}))

	h.tap(kbd0, evdev.KEY_Q)
	require.Equal(t, []string{"first", "second", "third"}, order)
	require.Equal(t, []bool{true, true}, seen)

	h.agg.Unregister(second)
	order = nil
	h.tap(kbd0, evdev.KEY_Q)
	require.Equal(t, []string{"first", "third"}, order)
}

func TestUnregisterDuringDispatch(t *testing.T) {
	h := newHarness(t, Options{})
	h.add(kbd0)

	var calls []string
	var later *Registration
	h.agg.Register(HandlerFunc(func(_ *Aggregator, _ *Event) {
		calls = append(calls, "remover")
		h.agg.Unregister(later)
	}))
	later = h.agg.Register(HandlerFunc(func(_ *Aggregator, _ *Event) {
		calls = append(calls, "removed")
	}))

	h.tap(kbd0, evdev.KEY_Q)
	h.tap(kbd0, evdev.KEY_Q)
	require.Equal(t, []string{"remover", "remover"}, calls)
}

func TestKeyRepeat(t *testing.T) {
	h := newHarness(t, Options{RepeatDelay: 500 * time.Millisecond, RepeatRate: 50 * time.Millisecond})
	h.add(kbd0)

	h.press(kbd0, evdev.KEY_A)
	h.advance(500 * time.Millisecond)
	h.advance(50 * time.Millisecond)
	h.advance(50 * time.Millisecond)

	require.Equal(t, []time.Duration{
		0,
		500 * time.Millisecond,
		550 * time.Millisecond,
		600 * time.Millisecond,
	}, h.times())
	for _, r := range h.got {
		require.Equal(t, []kbd.Keysym{'a'}, r.keysyms)
	}
}

func TestKeyRepeatCanceledByRelease(t *testing.T) {
	h := newHarness(t, Options{RepeatDelay: 500 * time.Millisecond, RepeatRate: 50 * time.Millisecond})
	h.add(kbd0)

	h.press(kbd0, evdev.KEY_A)
	h.advance(500 * time.Millisecond)
	h.advance(20 * time.Millisecond)
	h.release(kbd0, evdev.KEY_A)
	h.advance(80 * time.Millisecond)
	h.advance(time.Second)

	require.Equal(t, []time.Duration{0, 500 * time.Millisecond}, h.times())
	require.Zero(t, h.loop.Timers())
}

func TestKeyRepeatReplaced(t *testing.T) {
	h := newHarness(t, Options{RepeatDelay: 500 * time.Millisecond, RepeatRate: 50 * time.Millisecond})
	h.add(kbd0)

	h.press(kbd0, evdev.KEY_A)
	h.advance(100 * time.Millisecond)
	h.press(kbd0, evdev.KEY_B)
	h.advance(400 * time.Millisecond)
	require.Len(t, h.got, 2, "the repeat of the first key was replaced")

	h.advance(100 * time.Millisecond)
	require.Len(t, h.got, 3)
	require.Equal(t, []kbd.Keysym{'b'}, h.got[2].keysyms)
	require.Equal(t, 600*time.Millisecond, h.got[2].at)

	// releasing the replaced key does not stop the current repeat
	h.release(kbd0, evdev.KEY_A)
	h.advance(50 * time.Millisecond)
	require.Len(t, h.got, 4)

	// a modifier press neither repeats nor cancels, the repeat picks it up
	h.press(kbd0, evdev.KEY_LEFTSHIFT)
	h.advance(50 * time.Millisecond)
	last := h.got[len(h.got)-1]
	require.Equal(t, []kbd.Keysym{'B'}, last.keysyms)
}

func TestSleepWake(t *testing.T) {
	h := newHarness(t, Options{})
	h.add(kbd0)
	h.add(kbd1)

	h.press(kbd0, evdev.KEY_LEFTSHIFT)
	h.tap(kbd1, evdev.KEY_NUMLOCK)
	mods := h.agg.Modifiers()
	devs := h.agg.Devices()
	require.Equal(t, kbd.ShiftMask|kbd.NumLockMask, mods)
	h.got = nil

	require.True(t, h.agg.IsAwake())
	h.agg.Sleep()
	h.agg.Sleep()
	require.False(t, h.agg.IsAwake())

	h.tap(kbd0, evdev.KEY_A)
	require.Empty(t, h.got, "events are dropped while asleep")

	h.agg.WakeUp()
	require.False(t, h.agg.IsAwake(), "sleep calls nest")
	h.agg.WakeUp()
	require.True(t, h.agg.IsAwake())
	h.agg.WakeUp()
	require.True(t, h.agg.IsAwake())

	require.Equal(t, mods, h.agg.Modifiers())
	require.Equal(t, devs, h.agg.Devices())

	h.tap(kbd0, evdev.KEY_A)
	require.Len(t, h.got, 1)
	require.Equal(t, []kbd.Keysym{'A'}, h.got[0].keysyms)
	require.Equal(t, kbd.ShiftMask, h.got[0].mods, "NumLock is not reported")
	require.True(t, (&Event{Mods: h.got[0].mods}).HasMods(kbd.ShiftMask))
}

func TestSleepCancelsRepeat(t *testing.T) {
	h := newHarness(t, Options{RepeatDelay: 500 * time.Millisecond, RepeatRate: 50 * time.Millisecond})
	h.add(kbd0)

	h.press(kbd0, evdev.KEY_A)
	h.agg.Sleep()
	h.advance(time.Second)
	h.agg.WakeUp()
	h.advance(time.Second)
	require.Len(t, h.got, 1)
}

func TestWakeResync(t *testing.T) {
	h := newHarness(t, Options{})
	src := h.addState(kbd0)
	require.False(t, src.leds[evdev.LED_CAPSL], "LEDs are written on add")

	h.agg.Sleep()
	src.keys[evdev.KEY_LEFTCTRL] = true
	src.keys[evdev.KEY_A] = false
	src.leds[evdev.LED_CAPSL] = true
	h.agg.WakeUp()

	require.Equal(t, kbd.ControlMask|kbd.LockMask, h.agg.Modifiers())
}

func TestWakeKeepsLocksWithoutLEDs(t *testing.T) {
	sources := map[string]func() Source{
		"keyboard without LEDs": func() Source {
			return &stateSource{
				fakeSource: newFakeSource(),
				keys:       map[evdev.EvCode]bool{},
				leds:       map[evdev.EvCode]bool{},
				noLEDs:     true,
			}
		},
		"read-only node": func() Source {
			return &readOnlySource{fakeSource: newFakeSource(), keys: map[evdev.EvCode]bool{}}
		},
	}
	for name, mk := range sources {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.addSource(kbd0, mk())

			h.tap(kbd0, evdev.KEY_CAPSLOCK)
			before := h.agg.Modifiers()
			require.Equal(t, kbd.LockMask, before)

			h.agg.Sleep()
			h.agg.WakeUp()
			require.Equal(t, before, h.agg.Modifiers())

			h.tap(kbd0, evdev.KEY_B)
			require.Equal(t, []kbd.Keysym{'B'}, h.got[len(h.got)-1].keysyms)
		})
	}
}

func TestReleaseWhileAsleep(t *testing.T) {
	h := newHarness(t, Options{})
	h.add(kbd0)

	h.press(kbd0, evdev.KEY_LEFTCTRL)
	h.press(kbd0, evdev.KEY_LEFTALT)
	require.Equal(t, kbd.ControlMask|kbd.AltMask, h.agg.Modifiers())

	h.agg.Sleep()
	h.release(kbd0, evdev.KEY_LEFTALT)
	h.release(kbd0, evdev.KEY_LEFTCTRL)
	h.press(kbd0, evdev.KEY_LEFTSHIFT)
	h.agg.WakeUp()
	require.Equal(t, kbd.Modifier(0), h.agg.Modifiers(), "presses are dropped while asleep, releases are not")

	h.got = nil
	h.tap(kbd0, evdev.KEY_A)
	require.Len(t, h.got, 1)
	require.Equal(t, kbd.Modifier(0), h.got[0].mods)
}

func TestLockLEDs(t *testing.T) {
	h := newHarness(t, Options{})
	src := h.addState(kbd0)

	h.tap(kbd0, evdev.KEY_CAPSLOCK)
	require.True(t, src.leds[evdev.LED_CAPSL])
	require.Equal(t, kbd.LockMask, h.agg.Modifiers())

	h.tap(kbd0, evdev.KEY_B)
	require.Equal(t, []kbd.Keysym{'B'}, h.got[len(h.got)-1].keysyms)

	h.tap(kbd0, evdev.KEY_CAPSLOCK)
	require.False(t, src.leds[evdev.LED_CAPSL])
	require.Equal(t, kbd.Modifier(0), h.agg.Modifiers())
}

func TestDeviceFailure(t *testing.T) {
	h := newHarness(t, Options{RepeatDelay: 500 * time.Millisecond, RepeatRate: 50 * time.Millisecond})
	h.add(kbd0)
	h.add(kbd1)

	h.press(kbd0, evdev.KEY_LEFTSHIFT)
	h.press(kbd0, evdev.KEY_A)
	require.Equal(t, kbd.ShiftMask, h.agg.Modifiers())

	close(h.fake(kbd0).events)
	h.waitFor(func() bool { return len(h.agg.Devices()) == 1 })
	require.Equal(t, []string{kbd1}, h.agg.Devices())
	require.Equal(t, kbd.Modifier(0), h.agg.Modifiers(), "keys held on a failed device are released")

	h.got = nil
	h.advance(time.Second)
	require.Empty(t, h.got, "repeat of a key on the failed device is canceled")

	h.tap(kbd1, evdev.KEY_A)
	require.Len(t, h.got, 1)
}

func TestUnrefClosesDevices(t *testing.T) {
	h := newHarness(t, Options{})
	src := h.add(kbd0)

	h.agg.Ref()
	h.agg.Unref()
	require.False(t, src.isClosed())

	h.agg.Unref()
	require.True(t, src.isClosed())
	require.Empty(t, h.agg.Devices())
	require.True(t, errors.Is(h.agg.AddDevice(kbd1), ErrDestroyed))
}

func TestKeysymNames(t *testing.T) {
	h := newHarness(t, Options{})

	name, err := h.agg.KeysymToString(kbd.XKReturn)
	require.NoError(t, err)
	require.Equal(t, "Return", name)

	sym, err := h.agg.StringToKeysym("udiaeresis")
	require.NoError(t, err)
	require.Equal(t, kbd.Keysym(0xfc), sym)

	_, err = h.agg.StringToKeysym("not-a-keysym")
	require.True(t, errors.Is(err, ErrUnknownSymbol))
	_, err = h.agg.KeysymToString(0x20000000)
	require.True(t, errors.Is(err, ErrUnknownSymbol))
}

func TestKeymapFallback(t *testing.T) {
	loop := eloop.New()

	agg, err := New(loop, Options{Keymap: kbd.Config{Layout: "xx"}})
	require.NoError(t, err)
	defer agg.Unref()
	_, ok := agg.Backend().(*kbd.PlainBackend)
	require.True(t, ok, "expected plain backend, got %T", agg.Backend())

	agg2, err := New(loop, Options{Keymap: kbd.Config{Layout: "de"}})
	require.NoError(t, err)
	defer agg2.Unref()
	lb, ok := agg2.Backend().(*kbd.LayoutBackend)
	require.True(t, ok)
	require.Equal(t, "de", lb.Config().Layout)

	_, err = New(loop, Options{RepeatDelay: -1})
	require.Error(t, err)
	_, err = New(nil, Options{})
	require.Error(t, err)
}

func ExampleAggregator() {
	loop := eloop.New()
	agg, err := New(loop, Options{Seat: "seat0", Keymap: kbd.Config{Layout: "us"}})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer agg.Unref()

	agg.Register(HandlerFunc(func(a *Aggregator, ev *Event) {
		for _, sym := range ev.Keysyms {
			name, _ := a.KeysymToString(sym)
			fmt.Println(name)
		}
	}))
	fmt.Println(agg.IsAwake())
	// Output: true
}
