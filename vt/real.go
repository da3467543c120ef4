package vt

import (
	"github.com/lestrrat-go/pdebug"
	"github.com/peco/uterm/eloop"
	"github.com/pkg/errors"
)

// realSlot is a kernel console in VT_PROCESS mode. The kernel decides
// when switches happen; the VT learns about them through the seat's
// release and acquire signals.
type realSlot struct {
	term Terminal
	done chan struct{}
}

func (s *realSlot) number(*VT) int {
	return s.term.Num()
}

func (s *realSlot) activate(v *VT) error {
	if active, err := v.master.kernel.Active(); err == nil && active == s.term.Num() {
		// already in front, no acquire signal will come
		return s.grant(v)
	}

	if err := s.term.Activate(s.term.Num()); err != nil {
		return errors.Wrapf(err, "failed to switch to console %d", s.term.Num())
	}
	v.pending = pendingEnter
	return nil
}

func (s *realSlot) deactivate(v *VT, flags Flags) error {
	if flags&FlagForce != 0 {
		v.forceLeave(flags, s.term.Saved())
		if v.dead() {
			return v.deadErr
		}
		// a later release request is accepted since the VT is inactive
		if active, err := v.master.kernel.Active(); err == nil && active == s.term.Num() {
			if err := s.term.Activate(s.term.Saved()); err != nil {
				return errors.Wrapf(err, "failed to switch to console %d", s.term.Saved())
			}
		}
		return nil
	}

	if err := s.term.Activate(s.term.Saved()); err != nil {
		return errors.Wrapf(err, "failed to switch to console %d", s.term.Saved())
	}
	v.pending = pendingLeave
	return nil
}

func (s *realSlot) retry(v *VT) error {
	switch {
	case v.pending == pendingEnter && v.state == StateEntering:
		return v.enter()
	case v.pending == pendingEnter:
		return errors.Wrap(s.term.Activate(s.term.Num()), "failed to re-request console")
	case v.pending == pendingLeave:
		return errors.Wrap(s.term.Activate(s.term.Saved()), "failed to re-request release")
	}
	return nil
}

// grant runs the ACTIVATE negotiation after the kernel switched to v. A
// holder the kernel did not ask is forced out.
func (s *realSlot) grant(v *VT) error {
	if h := v.master.holder(v.seat); h != nil && h != v {
		h.forceLeave(0, s.term.Num())
	}
	if v.dead() {
		return v.deadErr
	}
	return v.enter()
}

func (s *realSlot) acquired(v *VT) {
	if err := s.term.AckAcquire(); err != nil && pdebug.Enabled {
		pdebug.Printf("vt: failed to acknowledge acquisition of %s: %s", v, err)
	}
	if v.state != StateInactive {
		return
	}
	if err := s.grant(v); err != nil && pdebug.Enabled {
		pdebug.Printf("vt: %s", err)
	}
}

func (s *realSlot) releaseRequested(v *VT) {
	accept := true
	switch v.state {
	case StateActive, StateEntering:
		if err := v.leave(0, 0); err != nil {
			if v.dead() {
				return
			}
			accept = false
			if v.state == StateActive {
				v.pending = pendingLeave
			}
		}
	}

	if err := s.term.ReleaseDisplay(accept); err != nil && pdebug.Enabled {
		pdebug.Printf("vt: failed to answer release request of %s: %s", v, err)
	}
}

func (s *realSlot) release(v *VT) {
	close(s.done)
	if err := s.term.Close(); err != nil && pdebug.Enabled {
		pdebug.Printf("vt: failed to close console %d: %s", s.term.Num(), err)
	}
	v.master.releaseRealSlot(v.seat)
}

// watch posts a hangup once the console's session disappears.
func (s *realSlot) watch(loop *eloop.Loop, v *VT) {
	select {
	case <-s.term.Hangup():
		loop.Post(v.hangup)
	case <-s.done:
	}
}
