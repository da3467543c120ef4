//go:build linux

package vt

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/lestrrat-go/pdebug"
	"github.com/peco/uterm/internal/sig"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// <linux/vt.h>, <linux/kd.h>
const (
	vtOpenQry  = 0x5600
	vtGetMode  = 0x5601
	vtSetMode  = 0x5602
	vtGetState = 0x5603
	vtRelDisp  = 0x5605
	vtActivate = 0x5606

	vtAuto    = 0x00
	vtProcess = 0x01
	vtAckAcq  = 0x02

	kdSetMode   = 0x4b3a
	kdGetMode   = 0x4b3b
	kdGetKbMode = 0x4b44
	kdSetKbMode = 0x4b45

	kdText     = 0x00
	kdGraphics = 0x01
	kOff       = 0x04
)

type vtMode struct {
	mode   int8
	waitv  int8
	relsig int16
	acqsig int16
	frsig  int16
}

type vtStat struct {
	active uint16
	signal uint16
	state  uint16
}

type linuxKernel struct{}

// DefaultKernel returns the kernel console interface of the running
// platform, or nil when there is none.
func DefaultKernel() Kernel {
	return linuxKernel{}
}

func ioctlPtr(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// control runs fn on the descriptor of f without putting f into
// blocking mode.
func control(f *os.File, fn func(fd int) error) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := rc.Control(func(fd uintptr) { opErr = fn(int(fd)) }); err != nil {
		return err
	}
	return opErr
}

func openTTY0() (*os.File, error) {
	return os.OpenFile("/dev/tty0", os.O_RDWR|unix.O_NOCTTY, 0)
}

func activeOf(f *os.File) (int, error) {
	var st vtStat
	err := control(f, func(fd int) error {
		return ioctlPtr(fd, vtGetState, unsafe.Pointer(&st))
	})
	if err != nil {
		return 0, errors.Wrap(err, "VT_GETSTATE failed")
	}
	return int(st.active), nil
}

func (linuxKernel) Active() (int, error) {
	tty0, err := openTTY0()
	if err != nil {
		return 0, errors.Wrap(err, "failed to open /dev/tty0")
	}
	defer tty0.Close()
	return activeOf(tty0)
}

func (linuxKernel) Open() (Terminal, error) {
	tty0, err := openTTY0()
	if err != nil {
		return nil, errors.Wrapf(ErrNoSlotAvailable, "failed to open /dev/tty0: %s", err)
	}
	defer tty0.Close()

	var num int
	err = control(tty0, func(fd int) error {
		n, err := unix.IoctlGetInt(fd, vtOpenQry)
		num = n
		return err
	})
	if err != nil || num <= 0 {
		return nil, errors.Wrapf(ErrNoSlotAvailable, "VT_OPENQRY found no free console (%v)", err)
	}

	saved, err := activeOf(tty0)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/dev/tty%d", num)
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, errors.Wrapf(ErrNoSlotAvailable, "failed to open %s: %s", path, err)
	}

	t := &linuxTerminal{
		file:  f,
		num:   num,
		saved: saved,
		hup:   make(chan struct{}),
	}
	if err := t.setup(); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to set up %s", path)
	}

	if pdebug.Enabled {
		pdebug.Printf("vt: opened %s (saved console %d)", path, saved)
	}
	go t.watch()
	return t, nil
}

func (linuxKernel) Subscribe(fn func(Signal)) (func(), error) {
	h := sig.New(sig.ReceivedHandlerFunc(func(s os.Signal) {
		switch s {
		case unix.SIGUSR1:
			fn(SignalRelease)
		case unix.SIGUSR2:
			fn(SignalAcquire)
		}
	}), unix.SIGUSR1, unix.SIGUSR2)

	ctx, cancel := context.WithCancel(context.Background())
	go h.Forward(ctx)
	return func() {
		h.Stop()
		cancel()
	}, nil
}

type linuxTerminal struct {
	file    *os.File
	num     int
	saved   int
	hup     chan struct{}
	closing atomic.Bool

	savedMode   vtMode
	savedKDMode int
	savedKbMode int
}

func (t *linuxTerminal) setup() error {
	return control(t.file, func(fd int) error {
		var err error
		if err = ioctlPtr(fd, vtGetMode, unsafe.Pointer(&t.savedMode)); err != nil {
			return errors.Wrap(err, "VT_GETMODE failed")
		}
		if t.savedKDMode, err = unix.IoctlGetInt(fd, kdGetMode); err != nil {
			return errors.Wrap(err, "KDGETMODE failed")
		}
		if t.savedKbMode, err = unix.IoctlGetInt(fd, kdGetKbMode); err != nil {
			return errors.Wrap(err, "KDGKBMODE failed")
		}

		mode := vtMode{
			mode:   vtProcess,
			relsig: int16(unix.SIGUSR1),
			acqsig: int16(unix.SIGUSR2),
		}
		if err := ioctlPtr(fd, vtSetMode, unsafe.Pointer(&mode)); err != nil {
			return errors.Wrap(err, "VT_SETMODE failed")
		}
		if err := unix.IoctlSetInt(fd, kdSetKbMode, kOff); err != nil {
			return setupError(err, "KDSKBMODE", t.restore(fd))
		}
		if err := unix.IoctlSetInt(fd, kdSetMode, kdGraphics); err != nil {
			return setupError(err, "KDSETMODE", t.restore(fd))
		}
		return nil
	})
}

// restore puts back the modes saved by setup and returns the first error.
func (t *linuxTerminal) restore(fd int) error {
	var first error
	keep := func(err error) {
		if first == nil && err != nil {
			first = err
		}
	}

	mode := t.savedMode
	if mode.mode == vtProcess {
		mode = vtMode{mode: vtAuto}
	}
	keep(ioctlPtr(fd, vtSetMode, unsafe.Pointer(&mode)))
	keep(unix.IoctlSetInt(fd, kdSetKbMode, t.savedKbMode))
	if t.savedKDMode == kdGraphics {
		t.savedKDMode = kdText
	}
	keep(unix.IoctlSetInt(fd, kdSetMode, t.savedKDMode))
	return first
}

func (t *linuxTerminal) watch() {
	buf := make([]byte, 64)
	for {
		// the keyboard is off, anything read here is noise
		if _, err := t.file.Read(buf); err != nil {
			if !t.closing.Load() {
				close(t.hup)
			}
			return
		}
	}
}

func (t *linuxTerminal) Num() int {
	return t.num
}

func (t *linuxTerminal) Saved() int {
	return t.saved
}

func (t *linuxTerminal) Activate(num int) error {
	return control(t.file, func(fd int) error {
		return errors.Wrapf(unix.IoctlSetInt(fd, vtActivate, num), "VT_ACTIVATE %d failed", num)
	})
}

func (t *linuxTerminal) ReleaseDisplay(accept bool) error {
	v := 0
	if accept {
		v = 1
	}
	return control(t.file, func(fd int) error {
		return errors.Wrap(unix.IoctlSetInt(fd, vtRelDisp, v), "VT_RELDISP failed")
	})
}

func (t *linuxTerminal) AckAcquire() error {
	return control(t.file, func(fd int) error {
		return errors.Wrap(unix.IoctlSetInt(fd, vtRelDisp, vtAckAcq), "VT_RELDISP(VT_ACKACQ) failed")
	})
}

func (t *linuxTerminal) Hangup() <-chan struct{} {
	return t.hup
}

func (t *linuxTerminal) Close() error {
	if t.closing.Swap(true) {
		return nil
	}

	err := control(t.file, func(fd int) error {
		first := t.restore(fd)
		var st vtStat
		if ioctlPtr(fd, vtGetState, unsafe.Pointer(&st)) == nil && int(st.active) == t.num && t.saved > 0 {
			if err := unix.IoctlSetInt(fd, vtActivate, t.saved); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
	if cerr := t.file.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "failed to close console %d", t.num)
}
