package vt

import (
	"github.com/google/btree"
	"github.com/lestrrat-go/pdebug"
	"github.com/peco/uterm/eloop"
	"github.com/peco/uterm/input"
	"github.com/peco/uterm/internal/ref"
	"github.com/pkg/errors"
)

// DefaultKernelSeat is the only seat with kernel consoles.
const DefaultKernelSeat = "seat0"

type seatState struct {
	// holder is the VT that is ENTERING, ACTIVE or LEAVING on the seat
	holder      *VT
	reals       int
	unsubscribe func()
}

// Master is the registry of all VTs driven by one event loop.
type Master struct {
	loop       *eloop.Loop
	kernel     Kernel
	kernelSeat string
	refs       *ref.Count
	nextID     int
	vts        *btree.BTreeG[*VT]
	seats      map[string]*seatState
}

// Option configures a Master.
type Option func(*Master)

// WithKernel replaces the kernel console interface. Passing nil disables
// real VTs.
func WithKernel(k Kernel) Option {
	return func(m *Master) {
		m.kernel = k
	}
}

// WithKernelSeat names the seat that owns the kernel consoles.
func WithKernelSeat(seat string) Option {
	return func(m *Master) {
		m.kernelSeat = seat
	}
}

func vtLess(a, b *VT) bool {
	return a.id < b.id
}

// NewMaster creates a Master holding one reference.
func NewMaster(loop *eloop.Loop, options ...Option) *Master {
	m := &Master{
		loop:       loop,
		kernel:     DefaultKernel(),
		kernelSeat: DefaultKernelSeat,
		vts:        btree.NewG[*VT](16, vtLess),
		seats:      make(map[string]*seatState),
	}
	for _, o := range options {
		o(m)
	}
	m.refs = ref.New(m.destroy)
	return m
}

func (m *Master) Ref() {
	m.refs.Ref()
}

// Unref drops a reference. Dropping the last one deallocates every VT.
func (m *Master) Unref() {
	m.refs.Unref()
}

func (m *Master) destroy() {
	if pdebug.Enabled {
		g := pdebug.Marker("vt.Master.destroy")
		defer g.End()
	}
	for _, v := range m.VTs() {
		_ = v.Deallocate()
	}
}

// AllocOptions describes a VT allocation.
type AllocOptions struct {
	// Types is the set of acceptable backings. Real is preferred when
	// both are allowed. Zero means TypeAny.
	Types Type
	// Seat defaults to the kernel seat.
	Seat string
	// Input is put to sleep while the VT is not ACTIVE.
	Input   *input.Aggregator
	Name    string
	Handler Handler
}

// Allocate creates a VT on a seat. It fails with ErrNoSlotAvailable when
// no backing of an allowed type can be created.
func (m *Master) Allocate(options AllocOptions) (v *VT, err error) {
	if pdebug.Enabled {
		g := pdebug.Marker("vt.Master.Allocate seat = %s, types = %s", options.Seat, options.Types)
		defer g.BindError(&err).End()
	}

	if m.refs.Released() {
		return nil, errors.Wrap(ErrNoSlotAvailable, "master released")
	}
	if options.Seat == "" {
		options.Seat = m.kernelSeat
	}
	if options.Types == 0 {
		options.Types = TypeAny
	}

	v = &VT{
		master:  m,
		seat:    options.Seat,
		name:    options.Name,
		handler: options.Handler,
		input:   options.Input,
	}

	var realErr error
	if options.Types&TypeReal != 0 {
		s, err := m.newRealSlot(options.Seat)
		if err == nil {
			v.typ = TypeReal
			v.slot = s
		} else {
			realErr = err
		}
	}
	if v.slot == nil && options.Types&TypeFake != 0 {
		v.typ = TypeFake
		v.slot = fakeSlot{}
	}
	if v.slot == nil {
		if realErr != nil {
			return nil, realErr
		}
		return nil, errors.Wrapf(ErrNoSlotAvailable, "seat %s, types %s", options.Seat, options.Types)
	}

	m.nextID++
	v.id = m.nextID
	v.refs = ref.New(func() { _ = v.Deallocate() })
	if v.input != nil {
		v.input.Ref()
		v.input.Sleep()
		v.inputAsleep = true
	}
	m.vts.ReplaceOrInsert(v)

	if rs, ok := v.slot.(*realSlot); ok {
		go rs.watch(m.loop, v)
	}
	return v, nil
}

// VTs returns every allocated VT ordered by id.
func (m *Master) VTs() []*VT {
	var list []*VT
	m.vts.Ascend(func(v *VT) bool {
		list = append(list, v)
		return true
	})
	return list
}

// Active returns the VT holding seat, or nil.
func (m *Master) Active(seat string) *VT {
	if st, ok := m.seats[seat]; ok {
		return st.holder
	}
	return nil
}

// ActivateAll activates one inactive VT on every seat nobody holds.
// Failures are collected, never short-circuited.
func (m *Master) ActivateAll() error {
	if pdebug.Enabled {
		g := pdebug.Marker("vt.Master.ActivateAll")
		defer g.End()
	}

	var errs MultiError
	claimed := make(map[string]bool)
	for _, v := range m.VTs() {
		if v.dead() || claimed[v.seat] || m.Active(v.seat) != nil {
			continue
		}
		if v.Pending() {
			claimed[v.seat] = true
			continue
		}
		if v.State() != StateInactive {
			continue
		}
		if err := v.Activate(); err != nil {
			errs = append(errs, err)
			continue
		}
		claimed[v.seat] = true
	}
	return errs.ErrorOrNil()
}

// DeactivateAll deactivates every ACTIVE VT. Failures are collected,
// never short-circuited.
func (m *Master) DeactivateAll(flags Flags) error {
	if pdebug.Enabled {
		g := pdebug.Marker("vt.Master.DeactivateAll")
		defer g.End()
	}

	var errs MultiError
	for _, v := range m.VTs() {
		if v.State() != StateActive {
			continue
		}
		if err := v.Deactivate(flags); err != nil {
			errs = append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// HangupSeat delivers HUP to every VT of seat, for seats that vanished
// out of band.
func (m *Master) HangupSeat(seat string) {
	for _, v := range m.VTs() {
		if v.seat == seat {
			v.hangup()
		}
	}
}

func (m *Master) remove(v *VT) {
	m.vts.Delete(v)
}

func (m *Master) seat(name string) *seatState {
	st, ok := m.seats[name]
	if !ok {
		st = &seatState{}
		m.seats[name] = st
	}
	return st
}

func (m *Master) gcSeat(name string) {
	if st, ok := m.seats[name]; ok && st.holder == nil && st.reals == 0 {
		delete(m.seats, name)
	}
}

func (m *Master) holder(seat string) *VT {
	return m.Active(seat)
}

func (m *Master) setHolder(v *VT) {
	m.seat(v.seat).holder = v
}

func (m *Master) clearHolder(v *VT) {
	if st, ok := m.seats[v.seat]; ok && st.holder == v {
		st.holder = nil
		m.gcSeat(v.seat)
	}
}

// newRealSlot opens a free kernel console. The seat's switch signal
// subscription is created with its first real VT.
func (m *Master) newRealSlot(seat string) (*realSlot, error) {
	if m.kernel == nil {
		return nil, errors.Wrap(ErrNoSlotAvailable, "kernel VTs are not supported")
	}
	if seat != m.kernelSeat {
		return nil, errors.Wrapf(ErrNoSlotAvailable, "seat %s has no kernel VTs", seat)
	}

	st := m.seat(seat)
	if st.reals == 0 {
		unsubscribe, err := m.kernel.Subscribe(func(sig Signal) {
			m.loop.Post(func() { m.handleSignal(seat, sig) })
		})
		if err != nil {
			m.gcSeat(seat)
			return nil, errors.Wrap(err, "failed to subscribe to VT switch signals")
		}
		st.unsubscribe = unsubscribe
	}

	term, err := m.kernel.Open()
	if err != nil {
		if st.reals == 0 {
			st.unsubscribe()
			st.unsubscribe = nil
			m.gcSeat(seat)
		}
		if !errors.Is(err, ErrNoSlotAvailable) {
			err = errors.Wrapf(ErrNoSlotAvailable, "%s", err)
		}
		return nil, err
	}

	st.reals++
	return &realSlot{term: term, done: make(chan struct{})}, nil
}

func (m *Master) releaseRealSlot(seat string) {
	st, ok := m.seats[seat]
	if !ok || st.reals == 0 {
		return
	}
	st.reals--
	if st.reals == 0 && st.unsubscribe != nil {
		st.unsubscribe()
		st.unsubscribe = nil
	}
	m.gcSeat(seat)
}

// handleSignal routes a kernel switch signal to the VT it concerns. Both
// release requests and acquisitions refer to the console the kernel
// reports as active.
func (m *Master) handleSignal(seat string, sig Signal) {
	if pdebug.Enabled {
		g := pdebug.Marker("vt.Master.handleSignal %s %s", seat, sig)
		defer g.End()
	}

	active, err := m.kernel.Active()
	if err != nil {
		if pdebug.Enabled {
			pdebug.Printf("vt: failed to query active console: %s", err)
		}
		return
	}

	var target *VT
	m.vts.Ascend(func(v *VT) bool {
		if v.seat == seat && v.typ == TypeReal && v.Number() == active {
			target = v
			return false
		}
		return true
	})
	if target == nil {
		return
	}

	rs := target.slot.(*realSlot)
	switch sig {
	case SignalAcquire:
		rs.acquired(target)
	case SignalRelease:
		rs.releaseRequested(target)
	}
}
