// Package monitor defines the events a device monitor reports to the
// seat manager, and a static monitor that announces an explicit list of
// device nodes instead of discovering them.
package monitor

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/btree"
	"github.com/pkg/errors"
)

var (
	ErrUnknownNode   = errors.New("unknown device node")
	ErrDuplicateNode = errors.New("device node already registered")
)

type EventType int

const (
	NewSeat EventType = iota + 1
	FreeSeat
	NewDev
	FreeDev
	HotplugDev
)

func (t EventType) String() string {
	switch t {
	case NewSeat:
		return "NEW_SEAT"
	case FreeSeat:
		return "FREE_SEAT"
	case NewDev:
		return "NEW_DEV"
	case FreeDev:
		return "FREE_DEV"
	case HotplugDev:
		return "HOTPLUG_DEV"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

type DevType int

const (
	DRM DevType = iota + 1
	FBDEV
	Input
)

func (t DevType) String() string {
	switch t {
	case DRM:
		return "drm"
	case FBDEV:
		return "fbdev"
	case Input:
		return "input"
	}
	return fmt.Sprintf("DevType(%d)", int(t))
}

// ClassifyNode guesses the device type from a /dev node name.
func ClassifyNode(node string) (DevType, error) {
	base := filepath.Base(node)
	switch {
	case strings.HasPrefix(base, "event"):
		return Input, nil
	case strings.HasPrefix(base, "card"):
		return DRM, nil
	case strings.HasPrefix(base, "fb"):
		return FBDEV, nil
	}
	return 0, errors.Wrapf(ErrUnknownNode, "cannot tell the type of %s", node)
}

type DevFlag uint

const (
	DRMBacked DevFlag = 1 << iota
	Primary
	Aux
)

func (f DevFlag) String() string {
	var parts []string
	if f&DRMBacked != 0 {
		parts = append(parts, "drm-backed")
	}
	if f&Primary != 0 {
		parts = append(parts, "primary")
	}
	if f&Aux != 0 {
		parts = append(parts, "aux")
	}
	return strings.Join(parts, "|")
}

// Seat is a seat known to a monitor. The data slot belongs to the
// consumer of the events.
type Seat struct {
	name string
	data interface{}
	devs *btree.BTreeG[*Dev]
}

func (s *Seat) Name() string {
	return s.name
}

func (s *Seat) SetData(v interface{}) {
	s.data = v
}

func (s *Seat) Data() interface{} {
	return s.data
}

// Dev is a device node assigned to a seat.
type Dev struct {
	seat  *Seat
	node  string
	typ   DevType
	flags DevFlag
	data  interface{}
}

func (d *Dev) Seat() *Seat {
	return d.seat
}

func (d *Dev) Node() string {
	return d.node
}

func (d *Dev) Type() DevType {
	return d.typ
}

func (d *Dev) Flags() DevFlag {
	return d.flags
}

func (d *Dev) SetData(v interface{}) {
	d.data = v
}

func (d *Dev) Data() interface{} {
	return d.data
}

// Event is one monitor notification. Seat data and device data are the
// values of the slots when the event was built; a handler may set new
// ones through Seat and Dev.
type Event struct {
	Type     EventType
	Seat     *Seat
	SeatName string
	SeatData interface{}
	Dev      *Dev
	DevType  DevType
	DevFlags DevFlag
	DevNode  string
	DevData  interface{}
}

func (ev *Event) String() string {
	if ev.Dev == nil {
		return fmt.Sprintf("%s %s", ev.Type, ev.SeatName)
	}
	return fmt.Sprintf("%s %s %s (%s)", ev.Type, ev.SeatName, ev.DevNode, ev.DevType)
}

type Handler interface {
	HandleMonitor(*Event)
}

type HandlerFunc func(*Event)

func (f HandlerFunc) HandleMonitor(ev *Event) {
	f(ev)
}

func seatEvent(t EventType, s *Seat) *Event {
	return &Event{Type: t, Seat: s, SeatName: s.name, SeatData: s.data}
}

func devEvent(t EventType, d *Dev) *Event {
	ev := seatEvent(t, d.seat)
	ev.Dev = d
	ev.DevType = d.typ
	ev.DevFlags = d.flags
	ev.DevNode = d.node
	ev.DevData = d.data
	return ev
}
