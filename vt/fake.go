package vt

import (
	"github.com/pkg/errors"
)

// fakeSlot is arbitrated by the Master: activation evicts the seat's
// current holder through a regular DEACTIVATE negotiation.
type fakeSlot struct{}

func (fakeSlot) activate(v *VT) error {
	if h := v.master.holder(v.seat); h != nil && h != v {
		if err := evict(h, v); err != nil {
			return err
		}
	}
	return v.enter()
}

func (fakeSlot) deactivate(v *VT, flags Flags) error {
	err := v.leave(flags, 0)
	if errors.Is(err, ErrSwitchRefused) && v.state == StateActive {
		v.pending = pendingLeave
	}
	return err
}

func (s fakeSlot) retry(v *VT) error {
	switch v.pending {
	case pendingEnter:
		return v.enter()
	case pendingLeave:
		return s.deactivate(v, 0)
	}
	return nil
}

func (fakeSlot) number(v *VT) int {
	return v.id
}

func (fakeSlot) release(*VT) {}

// evict asks holder to make room for v. A fake holder negotiates right
// away. A real holder needs the kernel, so its release is started and
// the caller gets ErrInProgress.
func evict(holder, v *VT) error {
	if holder.typ == TypeFake {
		return holder.leave(0, v.Number())
	}

	if holder.state == StateActive {
		if err := holder.Deactivate(0); err != nil && !errors.Is(err, ErrInProgress) {
			return err
		}
	}
	return errors.Wrapf(ErrInProgress, "waiting for %s to release seat %s", holder, v.seat)
}
