// Package vt implements the virtual terminal switching protocol.
//
// A VT is a session slot bound to a seat. Real VTs are backed by a linux
// kernel console and switched by the kernel (VT_PROCESS mode), fake VTs
// are arbitrated by the Master itself so seats without kernel consoles
// can use the same protocol. Every VT runs the same state machine:
//
//	INACTIVE -> ENTERING -> ACTIVE -> LEAVING -> INACTIVE
//
// plus a terminal DEAD state reached through hangup or deallocation.
// Applications take part in each transition through a Handler whose
// return value acknowledges (nil) or refuses (non-nil) the switch.
package vt

import (
	"fmt"
	"strings"

	"github.com/lestrrat-go/pdebug"
	"github.com/peco/uterm/input"
	"github.com/peco/uterm/internal/ref"
	"github.com/pkg/errors"
)

var (
	ErrNoSlotAvailable = errors.New("no VT slot available")
	ErrSwitchRefused   = errors.New("VT switch refused")
	ErrHangup          = errors.New("VT session hung up")
	ErrDeallocated     = errors.New("VT deallocated")
	ErrInvalidState    = errors.New("operation not valid in current VT state")
	ErrInProgress      = errors.New("VT switch already in progress")
)

// State is the switch state of a VT.
type State int

const (
	StateInactive State = iota
	StateEntering
	StateActive
	StateLeaving
	StateDead
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "INACTIVE"
	case StateEntering:
		return "ENTERING"
	case StateActive:
		return "ACTIVE"
	case StateLeaving:
		return "LEAVING"
	case StateDead:
		return "DEAD"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Action is what a Handler is asked to do.
type Action int

const (
	ActionActivate Action = iota + 1
	ActionDeactivate
	ActionHup
)

func (a Action) String() string {
	switch a {
	case ActionActivate:
		return "ACTIVATE"
	case ActionDeactivate:
		return "DEACTIVATE"
	case ActionHup:
		return "HUP"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Flags modify a switch request.
type Flags uint

// FlagForce makes a deactivation complete even if the handler refuses.
const FlagForce Flags = 1 << 0

// Type is the backing of a VT. Allocation takes a bitset of allowed types.
type Type uint

const (
	TypeReal Type = 1 << iota
	TypeFake

	TypeAny = TypeReal | TypeFake
)

func (t Type) String() string {
	var parts []string
	if t&TypeReal != 0 {
		parts = append(parts, "real")
	}
	if t&TypeFake != 0 {
		parts = append(parts, "fake")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseType parses "real", "fake" or a "|" or "," separated combination.
func ParseType(s string) (Type, error) {
	var t Type
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "real":
			t |= TypeReal
		case "fake":
			t |= TypeFake
		case "any":
			t |= TypeAny
		default:
			return 0, errors.Errorf("unknown VT type %q", f)
		}
	}
	if t == 0 {
		return 0, errors.Errorf("no VT type in %q", s)
	}
	return t, nil
}

// Event is passed to a Handler.
type Event struct {
	Action Action
	Flags  Flags
	// Target is the number of the VT the seat switches to: the kernel
	// console number for real VTs, the VT id for fake ones. Zero when
	// unknown.
	Target int
}

// Handler takes part in the switch protocol. Returning a non-nil error
// refuses an ACTIVATE or a non-forced DEACTIVATE. The result for HUP and
// forced DEACTIVATE events is ignored.
type Handler interface {
	HandleVT(*VT, *Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(*VT, *Event) error

func (f HandlerFunc) HandleVT(v *VT, ev *Event) error {
	return f(v, ev)
}

type pendingOp int

const (
	pendingNone pendingOp = iota
	pendingEnter
	pendingLeave
)

// slot is the backing of a VT, selected at allocation.
type slot interface {
	activate(*VT) error
	deactivate(*VT, Flags) error
	retry(*VT) error
	number(*VT) int
	// release frees the backing after the VT left the seat.
	release(*VT)
}

// VT is one allocated session slot.
type VT struct {
	master  *Master
	id      int
	seat    string
	name    string
	typ     Type
	handler Handler
	input   *input.Aggregator
	refs    *ref.Count
	slot    slot

	state       State
	pending     pendingOp
	deadErr     error
	inputAsleep bool
}

func (v *VT) ID() int {
	return v.id
}

func (v *VT) Seat() string {
	return v.seat
}

func (v *VT) Name() string {
	return v.name
}

func (v *VT) Type() Type {
	return v.typ
}

func (v *VT) State() State {
	return v.state
}

// Number returns the kernel console number of a real VT, or the id of a
// fake one.
func (v *VT) Number() int {
	if v.slot == nil {
		return v.id
	}
	return v.slot.number(v)
}

// Input returns the aggregator bound at allocation, if any.
func (v *VT) Input() *input.Aggregator {
	return v.input
}

// Pending reports whether a switch negotiation is waiting for the kernel
// or for Retry.
func (v *VT) Pending() bool {
	return v.pending != pendingNone
}

func (v *VT) String() string {
	return fmt.Sprintf("vt%d(%s/%s/%s)", v.id, v.seat, v.typ, v.state)
}

func (v *VT) Ref() {
	v.refs.Ref()
}

// Unref drops a reference. Dropping the last one deallocates the VT if
// that has not happened yet.
func (v *VT) Unref() {
	v.refs.Unref()
}

func (v *VT) dead() bool {
	return v.state == StateDead
}

// Activate asks the seat's authority to switch to v. For fake VTs the
// switch is negotiated synchronously. For real VTs the kernel is asked to
// switch and the VT stays INACTIVE until the kernel grants it.
func (v *VT) Activate() (err error) {
	if pdebug.Enabled {
		g := pdebug.Marker("vt.Activate %s", v)
		defer g.BindError(&err).End()
	}

	if v.dead() {
		return v.deadErr
	}
	if v.pending == pendingEnter {
		return ErrInProgress
	}
	if v.state != StateInactive {
		return errors.Wrapf(ErrInvalidState, "activate %s", v)
	}
	return v.slot.activate(v)
}

// Deactivate asks v to give up its seat. Without FlagForce the handler
// may refuse, leaving v ACTIVE with a pending negotiation that Retry can
// re-drive. With FlagForce v always ends up INACTIVE.
func (v *VT) Deactivate(flags Flags) (err error) {
	if pdebug.Enabled {
		g := pdebug.Marker("vt.Deactivate %s (flags = %d)", v, flags)
		defer g.BindError(&err).End()
	}

	if v.dead() {
		return v.deadErr
	}
	force := flags&FlagForce != 0
	switch v.state {
	case StateActive:
	case StateEntering, StateLeaving:
		if !force {
			return errors.Wrapf(ErrInvalidState, "deactivate %s", v)
		}
	default:
		return errors.Wrapf(ErrInvalidState, "deactivate %s", v)
	}
	if v.pending == pendingLeave && !force {
		return ErrInProgress
	}
	return v.slot.deactivate(v, flags)
}

// Retry re-issues the pending ENTERING or LEAVING negotiation.
func (v *VT) Retry() (err error) {
	if pdebug.Enabled {
		g := pdebug.Marker("vt.Retry %s", v)
		defer g.BindError(&err).End()
	}

	if v.dead() {
		return v.deadErr
	}
	if v.pending == pendingNone {
		return errors.Wrapf(ErrInvalidState, "nothing to retry on %s", v)
	}
	return v.slot.retry(v)
}

// Deallocate releases the backing slot. An ACTIVE VT is forced out
// first. The VT is inert afterwards, even while references remain.
func (v *VT) Deallocate() (err error) {
	if pdebug.Enabled {
		g := pdebug.Marker("vt.Deallocate %s", v)
		defer g.BindError(&err).End()
	}

	if v.dead() {
		return v.deadErr
	}

	v.Ref()
	defer v.Unref()

	if v.state != StateInactive {
		v.forceLeave(0, 0)
		if v.dead() {
			return nil
		}
	}
	v.destroy(ErrDeallocated)
	return nil
}

// hangup delivers HUP and deallocates. The handler cannot refuse.
func (v *VT) hangup() {
	if v.dead() {
		return
	}
	if pdebug.Enabled {
		g := pdebug.Marker("vt.hangup %s", v)
		defer g.End()
	}

	v.Ref()
	defer v.Unref()

	v.call(&Event{Action: ActionHup})
	if v.dead() {
		return
	}
	v.destroy(ErrHangup)
}

func (v *VT) destroy(reason error) {
	if v.state != StateInactive {
		v.setState(StateInactive)
	}
	v.pending = pendingNone
	v.master.clearHolder(v)
	v.slot.release(v)
	v.master.remove(v)

	v.state = StateDead
	v.deadErr = reason
	if v.input != nil {
		if v.inputAsleep {
			v.input.WakeUp()
			v.inputAsleep = false
		}
		v.input.Unref()
	}
}

func (v *VT) call(ev *Event) error {
	if v.handler == nil {
		return nil
	}
	if pdebug.Enabled {
		pdebug.Printf("vt: %s <- %s (flags = %d, target = %d)", v, ev.Action, ev.Flags, ev.Target)
	}
	return v.handler.HandleVT(v, ev)
}

func (v *VT) setState(s State) {
	old := v.state
	v.state = s
	if pdebug.Enabled {
		pdebug.Printf("vt: %d %s -> %s", v.id, old, s)
	}

	if v.input == nil {
		return
	}
	switch {
	case s == StateActive && old != StateActive:
		if v.inputAsleep {
			v.inputAsleep = false
			v.input.WakeUp()
		}
	case old == StateActive && s != StateActive:
		if !v.inputAsleep {
			v.inputAsleep = true
			v.input.Sleep()
		}
	}
}

// enter moves v to ENTERING and asks the handler to acknowledge.
func (v *VT) enter() error {
	v.master.setHolder(v)
	if v.state != StateEntering {
		v.setState(StateEntering)
	}

	v.pending = pendingEnter
	err := v.call(&Event{Action: ActionActivate, Target: v.Number()})
	if v.dead() {
		return v.deadErr
	}
	if v.state != StateEntering {
		// the handler switched away on its own
		return nil
	}
	if err != nil {
		return errors.Wrapf(ErrSwitchRefused, "%s: %s", v, err)
	}
	v.pending = pendingNone
	v.setState(StateActive)
	return nil
}

// forceLeave moves v out of its seat whatever the handler answers. It
// only fails for a VT that died in its handler.
func (v *VT) forceLeave(flags Flags, target int) {
	if err := v.leave(flags|FlagForce, target); err != nil && pdebug.Enabled {
		pdebug.Printf("vt: forced leave of %s: %s", v, err)
	}
}

// leave moves v through LEAVING. On refusal of a non-forced request the
// previous state and pending marker are restored and ErrSwitchRefused is
// returned.
func (v *VT) leave(flags Flags, target int) error {
	prevState, prevPending := v.state, v.pending
	v.setState(StateLeaving)

	err := v.call(&Event{Action: ActionDeactivate, Flags: flags, Target: target})
	if v.dead() {
		return v.deadErr
	}
	if v.state != StateLeaving {
		return nil
	}
	if err != nil && flags&FlagForce == 0 {
		v.setState(prevState)
		v.pending = prevPending
		return errors.Wrapf(ErrSwitchRefused, "%s: %s", v, err)
	}

	v.pending = pendingNone
	v.setState(StateInactive)
	v.master.clearHolder(v)
	return nil
}
