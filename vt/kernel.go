package vt

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Signal is a kernel switch notification for consoles in VT_PROCESS mode.
type Signal int

const (
	// SignalRelease asks the active console to give up the display.
	SignalRelease Signal = iota + 1
	// SignalAcquire tells a console that it has been switched to.
	SignalAcquire
)

func (s Signal) String() string {
	switch s {
	case SignalRelease:
		return "release"
	case SignalAcquire:
		return "acquire"
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

// Kernel is the process-wide kernel console interface.
type Kernel interface {
	// Open finds a free console, opens it and puts it into
	// process-controlled switching mode.
	Open() (Terminal, error)
	// Active returns the number of the console in front.
	Active() (int, error)
	// Subscribe starts delivering switch signals to fn, from another
	// goroutine, until the returned function is called.
	Subscribe(fn func(Signal)) (func(), error)
}

// Terminal is one console opened by Kernel.Open.
type Terminal interface {
	Num() int
	// Saved is the console that was in front when this one was opened.
	Saved() int
	// Activate asks the kernel to switch to console num.
	Activate(num int) error
	// ReleaseDisplay answers a release request.
	ReleaseDisplay(accept bool) error
	// AckAcquire acknowledges an acquisition.
	AckAcquire() error
	// Hangup is closed when the console's session goes away.
	Hangup() <-chan struct{}
	// Close restores the console's modes, switches back to Saved if this
	// console is in front and closes it.
	Close() error
}

// MultiError collects the failures of a broadcast operation.
type MultiError []error

func (m MultiError) Error() string {
	msgs := make([]string, len(m))
	for i, err := range m {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d VT operation(s) failed: %s", len(m), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (m MultiError) Unwrap() []error {
	return m
}

// ErrorOrNil returns nil for an empty MultiError.
func (m MultiError) ErrorOrNil() error {
	if len(m) == 0 {
		return nil
	}
	return m
}

// setupError reports a failed console setup step. A console that could
// not be put back is reported too, since it may be left without a
// keyboard.
func setupError(err error, step string, restoreErr error) error {
	err = errors.Wrapf(err, "%s failed", step)
	if restoreErr != nil {
		return errors.Wrapf(err, "console modes not restored (%s)", restoreErr)
	}
	return err
}
