package monitor

import (
	"github.com/google/btree"
	"github.com/lestrrat-go/pdebug"
	"github.com/peco/uterm/internal/ref"
	"github.com/pkg/errors"
)

// Static reports seats and devices that were registered explicitly.
// Nothing is announced before the first Scan; afterwards registrations
// are announced as they happen. A Static is used from one goroutine.
type Static struct {
	handler Handler
	refs    *ref.Count
	scanned bool
	seats   *btree.BTreeG[*Seat]
	nodes   map[string]*Dev
}

func seatLess(a, b *Seat) bool {
	return a.name < b.name
}

func devLess(a, b *Dev) bool {
	return a.node < b.node
}

// NewStatic creates a monitor holding one reference.
func NewStatic(h Handler) *Static {
	m := &Static{
		handler: h,
		seats:   btree.NewG[*Seat](8, seatLess),
		nodes:   make(map[string]*Dev),
	}
	m.refs = ref.New(m.destroy)
	return m
}

func (m *Static) Ref() {
	m.refs.Ref()
}

// Unref drops a reference. Dropping the last one announces the removal
// of every device and seat.
func (m *Static) Unref() {
	m.refs.Unref()
}

func (m *Static) destroy() {
	for _, s := range m.Seats() {
		m.RemoveSeat(s.name)
	}
}

func (m *Static) emit(ev *Event) {
	if !m.scanned || m.handler == nil {
		return
	}
	if pdebug.Enabled {
		pdebug.Printf("monitor: %s", ev)
	}
	m.handler.HandleMonitor(ev)
}

// Scan announces everything registered so far. Later calls do nothing.
func (m *Static) Scan() {
	if m.scanned {
		return
	}
	if pdebug.Enabled {
		g := pdebug.Marker("monitor.Static.Scan")
		defer g.End()
	}

	m.scanned = true
	for _, s := range m.Seats() {
		m.emit(seatEvent(NewSeat, s))
		for _, d := range m.devices(s) {
			m.emit(devEvent(NewDev, d))
		}
	}
}

// Seats returns the registered seats ordered by name.
func (m *Static) Seats() []*Seat {
	var list []*Seat
	m.seats.Ascend(func(s *Seat) bool {
		list = append(list, s)
		return true
	})
	return list
}

func (m *Static) devices(s *Seat) []*Dev {
	var list []*Dev
	s.devs.Ascend(func(d *Dev) bool {
		list = append(list, d)
		return true
	})
	return list
}

// AddSeat registers a seat. Registering a known seat returns it.
func (m *Static) AddSeat(name string) *Seat {
	if s, ok := m.seats.Get(&Seat{name: name}); ok {
		return s
	}
	s := &Seat{name: name, devs: btree.NewG[*Dev](8, devLess)}
	m.seats.ReplaceOrInsert(s)
	m.emit(seatEvent(NewSeat, s))
	return s
}

// RemoveSeat announces the removal of the seat's devices, then of the
// seat itself.
func (m *Static) RemoveSeat(name string) {
	s, ok := m.seats.Get(&Seat{name: name})
	if !ok {
		return
	}
	for _, d := range m.devices(s) {
		m.RemoveDevice(d.node)
	}
	m.seats.Delete(s)
	m.emit(seatEvent(FreeSeat, s))
}

// AddDevice registers node on seat, creating the seat if needed. A zero
// typ is derived from the node name.
func (m *Static) AddDevice(seat, node string, typ DevType, flags DevFlag) (*Dev, error) {
	if _, ok := m.nodes[node]; ok {
		return nil, errors.Wrapf(ErrDuplicateNode, "%s", node)
	}
	if typ == 0 {
		t, err := ClassifyNode(node)
		if err != nil {
			return nil, err
		}
		typ = t
	}

	s := m.AddSeat(seat)
	d := &Dev{seat: s, node: node, typ: typ, flags: flags}
	s.devs.ReplaceOrInsert(d)
	m.nodes[node] = d
	m.emit(devEvent(NewDev, d))
	return d, nil
}

func (m *Static) RemoveDevice(node string) {
	d, ok := m.nodes[node]
	if !ok {
		return
	}
	delete(m.nodes, node)
	d.seat.devs.Delete(d)
	m.emit(devEvent(FreeDev, d))
}

// Hotplug announces a change on a registered device, such as a new
// connector on a DRM card.
func (m *Static) Hotplug(node string) error {
	d, ok := m.nodes[node]
	if !ok {
		return errors.Wrapf(ErrUnknownNode, "%s", node)
	}
	m.emit(devEvent(HotplugDev, d))
	return nil
}
