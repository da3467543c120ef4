package uterm

import (
	"fmt"
	"sort"

	"github.com/lestrrat-go/pdebug"
	"github.com/peco/uterm/config"
	"github.com/peco/uterm/eloop"
	"github.com/peco/uterm/input"
	"github.com/peco/uterm/internal/grab"
	"github.com/peco/uterm/monitor"
	"github.com/peco/uterm/vt"
	"github.com/pkg/errors"
)

// WithOpener makes the seats open input devices through o.
func WithOpener(o input.Opener) ManagerOption {
	return func(m *Manager) {
		m.opener = o
	}
}

// WithInputHandler registers h on every seat after the shortcut handler,
// so h sees shortcut presses already marked as handled.
func WithInputHandler(h input.Handler) ManagerOption {
	return func(m *Manager) {
		m.inputHandler = h
	}
}

// WithVTHandler forwards the switch protocol of every allocated VT to h.
func WithVTHandler(h vt.Handler) ManagerOption {
	return func(m *Manager) {
		m.vtHandler = h
	}
}

// WithQuitFunc sets what the quit shortcut does.
func WithQuitFunc(f func()) ManagerOption {
	return func(m *Manager) {
		m.onQuit = f
	}
}

// WithErrorHandler receives failures of monitor events, which have no
// caller to return them to.
func WithErrorHandler(f func(error)) ManagerOption {
	return func(m *Manager) {
		m.onError = f
	}
}

// NewManager creates a Manager allocating VTs from master. cfg must not
// change while the Manager is in use.
func NewManager(loop *eloop.Loop, master *vt.Master, cfg *config.Config, options ...ManagerOption) (*Manager, error) {
	if loop == nil || master == nil || cfg == nil {
		return nil, errors.New("uterm: manager needs a loop, a VT master and a configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	m := &Manager{
		loop:   loop,
		master: master,
		config: cfg,
		grabs:  make(map[grabAction]grab.KeyList),
		seats:  make(map[string]*Seat),
	}
	for _, o := range options {
		o(m)
	}

	for action, s := range map[grabAction]string{
		grabSessionNext: cfg.Grab.SessionNext,
		grabSessionPrev: cfg.Grab.SessionPrev,
		grabQuit:        cfg.Grab.Quit,
	} {
		if s == "" {
			continue
		}
		keys, err := grab.Parse(s)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid shortcut %q", s)
		}
		m.grabs[action] = keys
	}
	return m, nil
}

// HandleMonitor implements monitor.Handler.
func (m *Manager) HandleMonitor(ev *monitor.Event) {
	if err := m.HandleMonitorEvent(ev); err != nil {
		m.reportError(err)
	}
}

func (m *Manager) reportError(err error) {
	if m.onError != nil {
		m.onError(err)
		return
	}
	if pdebug.Enabled {
		pdebug.Printf("uterm: %s", err)
	}
}

// HandleMonitorEvent applies one monitor event. Display devices and
// hotplug notifications are not the core's business and are ignored.
func (m *Manager) HandleMonitorEvent(ev *monitor.Event) (err error) {
	if pdebug.Enabled {
		g := pdebug.Marker("uterm.Manager.HandleMonitorEvent %s", ev)
		defer g.BindError(&err).End()
	}

	switch ev.Type {
	case monitor.NewSeat:
		s, err := m.AddSeat(ev.SeatName)
		if err != nil {
			return err
		}
		if ev.Seat != nil {
			ev.Seat.SetData(s)
		}
	case monitor.FreeSeat:
		if ev.Seat != nil {
			ev.Seat.SetData(nil)
		}
		return m.RemoveSeat(ev.SeatName)
	case monitor.NewDev:
		if ev.DevType != monitor.Input {
			return nil
		}
		s, err := m.seatOf(ev)
		if err != nil {
			return err
		}
		return s.input.AddDevice(ev.DevNode)
	case monitor.FreeDev:
		if ev.DevType != monitor.Input {
			return nil
		}
		s, err := m.seatOf(ev)
		if err != nil {
			return err
		}
		s.input.RemoveDevice(ev.DevNode)
	}
	return nil
}

func (m *Manager) seatOf(ev *monitor.Event) (*Seat, error) {
	if s, ok := ev.SeatData.(*Seat); ok && s != nil {
		return s, nil
	}
	if s, ok := m.seats[ev.SeatName]; ok {
		return s, nil
	}
	return nil, errors.Wrapf(ErrUnknownSeat, "%s (device %s)", ev.SeatName, ev.DevNode)
}

// AddSeat creates the aggregator of a seat and allocates its VTs. Adding
// a known seat returns it unchanged.
func (m *Manager) AddSeat(name string) (s *Seat, err error) {
	if s, ok := m.seats[name]; ok {
		return s, nil
	}

	cfg := m.config
	agg, err := input.New(m.loop, input.Options{
		Seat:        name,
		Keymap:      cfg.Keymap,
		RepeatDelay: cfg.Repeat.DelayDuration(),
		RepeatRate:  cfg.Repeat.RateDuration(),
		Opener:      m.opener,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create input for seat %s", name)
	}

	s = &Seat{
		name:    name,
		manager: m,
		input:   agg,
		grabs:   grab.NewSet(),
		bound:   cfg.VT.Sessions == 1,
	}
	for action, keys := range m.grabs {
		if err := s.grabs.Add(keys, action); err != nil {
			agg.Unref()
			return nil, errors.Wrapf(err, "failed to add shortcut %s", keys)
		}
	}
	s.regs = append(s.regs, agg.Register(s))
	if m.inputHandler != nil {
		s.regs = append(s.regs, agg.Register(m.inputHandler))
	}
	if !s.bound {
		agg.Sleep()
		s.asleep = true
	}

	for i := 0; i < cfg.VT.Sessions; i++ {
		options := vt.AllocOptions{
			Types:   cfg.VT.Types.Type(),
			Seat:    name,
			Name:    sessionName(cfg.VT.Name, i, cfg.VT.Sessions),
			Handler: s,
		}
		if s.bound {
			options.Input = agg
		}
		v, err := m.master.Allocate(options)
		if err != nil {
			s.free()
			return nil, errors.Wrapf(err, "failed to allocate VT %d of seat %s", i+1, name)
		}
		s.vts = append(s.vts, v)
	}

	m.seats[name] = s
	return s, nil
}

func sessionName(base string, i, n int) string {
	if base == "" {
		base = "session"
	}
	if n == 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, i+1)
}

// RemoveSeat deallocates the VTs of a seat and closes its devices.
func (m *Manager) RemoveSeat(name string) error {
	s, ok := m.seats[name]
	if !ok {
		return errors.Wrap(ErrUnknownSeat, name)
	}
	delete(m.seats, name)
	s.free()
	return nil
}

// Seat returns the named seat, or nil.
func (m *Manager) Seat(name string) *Seat {
	return m.seats[name]
}

// Seats returns all seats ordered by name.
func (m *Manager) Seats() []*Seat {
	list := make([]*Seat, 0, len(m.seats))
	for _, s := range m.seats {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].name < list[j].name
	})
	return list
}

// Close removes every seat.
func (m *Manager) Close() {
	for _, s := range m.Seats() {
		_ = m.RemoveSeat(s.name)
	}
}

func (m *Manager) quit() {
	if m.onQuit != nil {
		m.onQuit()
	}
}
