package uterm

import (
	"github.com/lestrrat-go/pdebug"
	"github.com/peco/uterm/input"
	"github.com/peco/uterm/internal/grab"
	"github.com/peco/uterm/kbd"
	"github.com/peco/uterm/vt"
	"github.com/pkg/errors"
)

func (s *Seat) Name() string {
	return s.name
}

// Input returns the merged input of the seat.
func (s *Seat) Input() *input.Aggregator {
	return s.input
}

// VTs returns the VTs allocated for the seat in allocation order.
func (s *Seat) VTs() []*vt.VT {
	return append([]*vt.VT(nil), s.vts...)
}

// Active returns the VT of this seat that currently holds it, or nil.
func (s *Seat) Active() *vt.VT {
	h := s.manager.master.Active(s.name)
	for _, v := range s.vts {
		if v == h {
			return v
		}
	}
	return nil
}

// SwitchSession activates the VT delta places away from the active one,
// wrapping around. Without an active VT the first one is activated.
func (s *Seat) SwitchSession(delta int) error {
	n := len(s.vts)
	if n == 0 {
		return errors.Wrapf(vt.ErrNoSlotAvailable, "seat %s has no VTs", s.name)
	}

	cur := -1
	if a := s.Active(); a != nil {
		for i, v := range s.vts {
			if v == a {
				cur = i
				break
			}
		}
	}

	next := 0
	if cur >= 0 {
		next = ((cur+delta)%n + n) % n
		if next == cur {
			return nil
		}
	}
	return s.vts[next].Activate()
}

// HandleInput matches the event against the configured shortcuts. Events
// an earlier handler took are not looked at.
func (s *Seat) HandleInput(a *input.Aggregator, ev *input.Event) {
	if ev.Handled() || s.grabs.Len() == 0 {
		return
	}
	// modifier presses must not break a sequence
	if _, kind := a.Backend().ModifierOf(ev.Keycode); kind != kbd.ModNone {
		return
	}

	v, err := s.grabs.Accept(grab.Keys(ev.Mods, ev.Keysyms, ev.ASCII)...)
	switch {
	case err == nil:
		ev.MarkHandled()
		action := v.(grabAction)
		// switching puts this aggregator to sleep, so leave the
		// current dispatch first
		s.manager.loop.Post(func() {
			s.runGrab(action)
		})
	case errors.Is(err, grab.ErrInSequence):
		ev.MarkHandled()
	}
}

func (s *Seat) runGrab(action grabAction) {
	if s.input == nil {
		return
	}
	if pdebug.Enabled {
		pdebug.Printf("uterm: seat %s grab %d", s.name, action)
	}

	var err error
	switch action {
	case grabSessionNext:
		err = s.SwitchSession(1)
	case grabSessionPrev:
		err = s.SwitchSession(-1)
	case grabQuit:
		s.manager.quit()
	}
	if err != nil && !errors.Is(err, vt.ErrInProgress) {
		s.manager.reportError(errors.Wrapf(err, "seat %s: session switch failed", s.name))
	}
}

// HandleVT forwards the switch protocol to the manager's VT handler. When
// the seat has several VTs it keeps the input awake only while one of
// them is active. A VT that hangs up is dropped from the seat.
func (s *Seat) HandleVT(v *vt.VT, ev *vt.Event) error {
	var err error
	if h := s.manager.vtHandler; h != nil {
		err = h.HandleVT(v, ev)
	}

	// an inactive VT does not hold the input
	holder := v.State() != vt.StateInactive
	if ev.Action == vt.ActionHup {
		s.drop(v)
	}

	if s.bound || s.input == nil {
		return err
	}
	switch ev.Action {
	case vt.ActionActivate:
		if err == nil && s.asleep {
			s.asleep = false
			s.input.WakeUp()
		}
	case vt.ActionDeactivate:
		if holder && (err == nil || ev.Flags&vt.FlagForce != 0) && !s.asleep {
			s.asleep = true
			s.input.Sleep()
		}
	case vt.ActionHup:
		if holder && !s.asleep {
			s.asleep = true
			s.input.Sleep()
		}
	}
	return err
}

// drop forgets a VT that went away on its own.
func (s *Seat) drop(v *vt.VT) {
	for i, x := range s.vts {
		if x == v {
			s.vts = append(s.vts[:i:i], s.vts[i+1:]...)
			v.Unref()
			return
		}
	}
}

func (s *Seat) free() {
	if pdebug.Enabled {
		g := pdebug.Marker("uterm.Seat.free %s", s.name)
		defer g.End()
	}

	for _, v := range s.vts {
		_ = v.Deallocate()
		v.Unref()
	}
	s.vts = nil
	for _, r := range s.regs {
		s.input.Unregister(r)
	}
	s.regs = nil
	s.grabs.Clear()
	s.input.Unref()
	s.input = nil
}
