package vt

import (
	"testing"

	"github.com/peco/uterm/eloop"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeKernel simulates VT_PROCESS switching: leaving a console opened by
// the test asks it for a release, entering one sends it an acquire.
type fakeKernel struct {
	active        int
	free          []int
	terms         map[int]*fakeTerminal
	notify        func(Signal)
	subscriptions int
	subscribes    int
	target        int
	acks          int
	replies       []bool
}

func newFakeKernel(free ...int) *fakeKernel {
	return &fakeKernel{
		active: 1,
		free:   free,
		terms:  make(map[int]*fakeTerminal),
	}
}

func (k *fakeKernel) Open() (Terminal, error) {
	if len(k.free) == 0 {
		return nil, errors.Wrap(ErrNoSlotAvailable, "no free console")
	}
	num := k.free[0]
	k.free = k.free[1:]
	t := &fakeTerminal{kernel: k, num: num, saved: k.active, hup: make(chan struct{})}
	k.terms[num] = t
	return t, nil
}

func (k *fakeKernel) Active() (int, error) {
	return k.active, nil
}

func (k *fakeKernel) Subscribe(fn func(Signal)) (func(), error) {
	k.notify = fn
	k.subscriptions++
	k.subscribes++
	return func() {
		k.subscriptions--
		k.notify = nil
	}, nil
}

// switchTo is what VT_ACTIVATE and a user pressing Ctrl+Alt+Fn do.
func (k *fakeKernel) switchTo(num int) {
	if num == k.active {
		return
	}
	if _, ok := k.terms[k.active]; ok {
		k.target = num
		k.signal(SignalRelease)
		return
	}
	k.complete(num)
}

func (k *fakeKernel) complete(num int) {
	k.active = num
	if _, ok := k.terms[num]; ok {
		k.signal(SignalAcquire)
	}
}

func (k *fakeKernel) signal(s Signal) {
	if k.notify != nil {
		k.notify(s)
	}
}

type fakeTerminal struct {
	kernel *fakeKernel
	num    int
	saved  int
	hup    chan struct{}
	closed bool
}

func (t *fakeTerminal) Num() int {
	return t.num
}

func (t *fakeTerminal) Saved() int {
	return t.saved
}

func (t *fakeTerminal) Activate(num int) error {
	t.kernel.switchTo(num)
	return nil
}

func (t *fakeTerminal) ReleaseDisplay(accept bool) error {
	k := t.kernel
	k.replies = append(k.replies, accept)
	target := k.target
	k.target = 0
	if accept && target != 0 {
		k.complete(target)
	}
	return nil
}

func (t *fakeTerminal) AckAcquire() error {
	t.kernel.acks++
	return nil
}

func (t *fakeTerminal) Hangup() <-chan struct{} {
	return t.hup
}

func (t *fakeTerminal) Close() error {
	k := t.kernel
	t.closed = true
	delete(k.terms, t.num)
	k.free = append(k.free, t.num)
	if k.active == t.num {
		k.active = t.saved
	}
	return nil
}

func newRealMaster(t *testing.T, free ...int) (*eloop.Loop, *Master, *fakeKernel) {
	k := newFakeKernel(free...)
	loop := eloop.New()
	m := NewMaster(loop, WithKernel(k))
	t.Cleanup(m.Unref)
	return loop, m, k
}

func allocReal(t *testing.T, m *Master) (*VT, *recorder) {
	r := &recorder{}
	v, err := m.Allocate(AllocOptions{Types: TypeAny, Handler: r})
	require.NoError(t, err)
	require.Equal(t, TypeReal, v.Type())
	require.Equal(t, DefaultKernelSeat, v.Seat())
	return v, r
}

func TestRealActivateDeactivate(t *testing.T) {
	loop, m, k := newRealMaster(t, 2, 3)
	v, r := allocReal(t, m)
	require.Equal(t, 2, v.Number())

	require.NoError(t, v.Activate())
	require.Equal(t, StateInactive, v.State(), "waits for the kernel")
	require.True(t, v.Pending())
	require.Empty(t, r.events)

	loop.Dispatch()
	require.Equal(t, StateActive, v.State())
	require.False(t, v.Pending())
	require.Equal(t, 1, k.acks)
	require.Equal(t, 2, k.active)
	require.Equal(t, []Event{{Action: ActionActivate, Target: 2}}, r.events)

	require.NoError(t, v.Deactivate(0))
	require.Equal(t, StateActive, v.State())
	require.True(t, v.Pending())

	loop.Dispatch()
	require.Equal(t, StateInactive, v.State())
	require.False(t, v.Pending())
	require.Equal(t, 1, k.active, "switched back to the saved console")
	require.Equal(t, []bool{true}, k.replies)
	require.Equal(t, Event{Action: ActionDeactivate}, r.events[1])
}

func TestRealReleaseRefused(t *testing.T) {
	loop, m, k := newRealMaster(t, 2)
	v, r := allocReal(t, m)
	require.NoError(t, v.Activate())
	loop.Dispatch()
	require.Equal(t, StateActive, v.State())

	// Ctrl+Alt+F1
	r.refuseDeactivate = true
	k.switchTo(1)
	loop.Dispatch()
	require.Equal(t, StateActive, v.State())
	require.True(t, v.Pending())
	require.Equal(t, []bool{false}, k.replies)
	require.Equal(t, 2, k.active)

	r.refuseDeactivate = false
	require.NoError(t, v.Retry())
	loop.Dispatch()
	require.Equal(t, StateInactive, v.State())
	require.False(t, v.Pending())
	require.Equal(t, []bool{false, true}, k.replies)
	require.Equal(t, 1, k.active)
}

func TestRealForceDeactivate(t *testing.T) {
	loop, m, k := newRealMaster(t, 2)
	v, r := allocReal(t, m)
	require.NoError(t, v.Activate())
	loop.Dispatch()

	r.refuseDeactivate = true
	require.NoError(t, v.Deactivate(FlagForce))
	require.Equal(t, StateInactive, v.State())

	loop.Dispatch()
	require.Equal(t, []bool{true}, k.replies, "an inactive VT always releases")
	require.Equal(t, 1, k.active)
	require.Equal(t, []Action{ActionActivate, ActionDeactivate}, r.actions())
}

func TestRealSwitchBetweenVTs(t *testing.T) {
	loop, m, k := newRealMaster(t, 2, 3)
	a, ra := allocReal(t, m)
	b, rb := allocReal(t, m)
	require.Equal(t, 1, k.subscribes, "one subscription per seat")

	require.NoError(t, a.Activate())
	loop.Dispatch()
	require.Equal(t, a, m.Active(DefaultKernelSeat))

	require.NoError(t, b.Activate())
	loop.Dispatch()
	require.Equal(t, StateInactive, a.State())
	require.Equal(t, StateActive, b.State())
	require.Equal(t, 3, k.active)
	require.Equal(t, b, m.Active(DefaultKernelSeat))
	require.Equal(t, []Action{ActionActivate, ActionDeactivate}, ra.actions())
	require.Equal(t, []Action{ActionActivate}, rb.actions())

	// the kernel switching elsewhere while b refuses leaves it in front
	rb.refuseDeactivate = true
	k.switchTo(1)
	loop.Dispatch()
	require.Equal(t, StateActive, b.State())
	require.Equal(t, 3, k.active)
}

func TestRealActivationRefused(t *testing.T) {
	loop, m, k := newRealMaster(t, 2)
	v, r := allocReal(t, m)

	r.refuseActivate = true
	require.NoError(t, v.Activate())
	loop.Dispatch()
	require.Equal(t, StateEntering, v.State())
	require.True(t, v.Pending())
	require.Equal(t, 1, k.acks)

	r.refuseActivate = false
	require.NoError(t, v.Retry())
	require.Equal(t, StateActive, v.State())
}

func TestRealAlreadyInFront(t *testing.T) {
	_, m, k := newRealMaster(t, 2)
	v, r := allocReal(t, m)
	k.active = 2

	require.NoError(t, v.Activate())
	require.Equal(t, StateActive, v.State())
	require.Equal(t, []Action{ActionActivate}, r.actions())
}

func TestRealFakeEviction(t *testing.T) {
	loop, m, k := newRealMaster(t, 2)
	rv, rr := allocReal(t, m)
	fv, rf := allocFake(t, m, DefaultKernelSeat)

	require.NoError(t, rv.Activate())
	loop.Dispatch()

	err := fv.Activate()
	require.True(t, errors.Is(err, ErrInProgress), "got %v", err)
	require.Equal(t, StateInactive, fv.State())
	loop.Dispatch()
	require.Equal(t, StateInactive, rv.State())
	require.Equal(t, 1, k.active)

	require.NoError(t, fv.Activate())
	require.Equal(t, StateActive, fv.State())
	require.Equal(t, []Action{ActionActivate}, rf.actions())

	// the kernel granting the console back forces the fake holder out
	k.switchTo(2)
	loop.Dispatch()
	require.Equal(t, StateInactive, fv.State())
	require.Equal(t, StateActive, rv.State())
	require.Equal(t, FlagForce, rf.events[1].Flags)
	require.Equal(t, []Action{ActionActivate, ActionDeactivate, ActionActivate}, rr.actions())
}

func TestRealSubscriptionLifetime(t *testing.T) {
	_, m, k := newRealMaster(t, 2, 3)
	a, _ := allocReal(t, m)
	b, _ := allocReal(t, m)
	require.Equal(t, 1, k.subscriptions)

	require.NoError(t, a.Deallocate())
	require.Equal(t, 1, k.subscriptions)
	require.Len(t, k.terms, 1)

	require.NoError(t, b.Deallocate())
	require.Equal(t, 0, k.subscriptions)
	require.Empty(t, k.terms)

	c, _ := allocReal(t, m)
	require.Equal(t, 2, k.subscribes)
	require.Equal(t, 3, c.ID())
}

func TestRealDeallocateActive(t *testing.T) {
	loop, m, k := newRealMaster(t, 2)
	v, r := allocReal(t, m)
	require.NoError(t, v.Activate())
	loop.Dispatch()

	term := k.terms[2]
	require.NoError(t, v.Deallocate())
	require.True(t, term.closed)
	require.Equal(t, 1, k.active, "closing restores the saved console")
	require.Equal(t, FlagForce, r.events[1].Flags)
	require.Equal(t, ErrDeallocated, v.Activate())
}

func TestRealHangup(t *testing.T) {
	loop, m, k := newRealMaster(t, 2)
	v, r := allocReal(t, m)
	term := k.terms[2]

	r.refuseActivate = true
	require.NoError(t, v.Activate())
	loop.Dispatch()
	require.Equal(t, StateEntering, v.State())

	close(term.hup)
	waitFor(t, loop, func() bool { return v.State() == StateDead })

	require.Equal(t, []Action{ActionActivate, ActionHup}, r.actions())
	require.True(t, term.closed)
	require.Equal(t, 0, k.subscriptions)
	require.Equal(t, ErrHangup, v.Activate())
	require.Equal(t, ErrHangup, v.Retry())
	require.Empty(t, m.VTs())
}
