package input

import (
	"os"

	evdev "github.com/holoplot/go-evdev"
	"github.com/lestrrat-go/pdebug"
	"github.com/pkg/errors"
)

// Source is one open input node.
type Source interface {
	// ReadOne blocks until the next raw event arrives. It returns an
	// error once the node fails or is closed.
	ReadOne() (*evdev.InputEvent, error)
	Close() error
}

// StateSource is implemented by sources that can report their current
// key or LED state. Aggregators use it to resynchronize after sleeping.
type StateSource interface {
	State(t evdev.EvType) (map[evdev.EvCode]bool, error)
}

// LEDSource is implemented by sources that accept LED output. HasLEDs
// reports whether the lock LEDs are actually driven, which makes the LED
// state read back through StateSource the aggregator's own lock state.
type LEDSource interface {
	SetLED(code evdev.EvCode, on bool) error
	HasLEDs() bool
}

// Opener opens the node at path.
type Opener func(path string) (Source, error)

type evdevSource struct {
	dev      *evdev.InputDevice
	writable bool
	leds     bool
}

// OpenDevice opens an evdev node. The node is opened read-write when
// permitted so lock LEDs can be driven, read-only otherwise.
func OpenDevice(path string) (Source, error) {
	writable := true
	dev, err := evdev.OpenWithFlags(path, os.O_RDWR)
	if err != nil {
		writable = false
		dev, err = evdev.OpenWithFlags(path, os.O_RDONLY)
	}
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceOpen, "%s: %s", path, err)
	}

	s := &evdevSource{dev: dev, writable: writable}
	if writable {
		for _, code := range dev.CapableEvents(evdev.EV_LED) {
			if code == evdev.LED_CAPSL || code == evdev.LED_NUML {
				s.leds = true
				break
			}
		}
	}

	if pdebug.Enabled {
		name, _ := dev.Name()
		pdebug.Printf("input: opened %s (%s, writable = %t, leds = %t)", path, name, writable, s.leds)
	}
	return s, nil
}

func (s *evdevSource) ReadOne() (*evdev.InputEvent, error) {
	return s.dev.ReadOne()
}

func (s *evdevSource) Close() error {
	return s.dev.Close()
}

func (s *evdevSource) State(t evdev.EvType) (map[evdev.EvCode]bool, error) {
	return s.dev.State(t)
}

func (s *evdevSource) HasLEDs() bool {
	return s.leds
}

func (s *evdevSource) SetLED(code evdev.EvCode, on bool) error {
	if !s.leds {
		return nil
	}

	var v int32
	if on {
		v = 1
	}
	if err := s.dev.WriteOne(&evdev.InputEvent{Type: evdev.EV_LED, Code: code, Value: v}); err != nil {
		return errors.Wrap(err, "failed to write LED event")
	}
	if err := s.dev.WriteOne(&evdev.InputEvent{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT}); err != nil {
		return errors.Wrap(err, "failed to write SYN_REPORT")
	}
	return nil
}

// device is one Source owned by an Aggregator.
type device struct {
	path    string
	src     Source
	held    map[evdev.EvCode]struct{}
	removed bool
}

// read forwards raw events to the aggregator's loop until the source
// fails.
func (a *Aggregator) read(d *device) {
	for {
		ev, err := d.src.ReadOne()
		if err != nil {
			a.loop.Post(func() { a.deviceFailed(d, err) })
			return
		}
		a.loop.Post(func() { a.handleRaw(d, ev) })
	}
}
