package uterm

import "github.com/pkg/errors"

var (
	ErrSignalReceived = errors.New("received signal")
	ErrUnknownSeat    = errors.New("unknown seat")
)

type errIgnorable struct {
	err error
}

func (e errIgnorable) Ignorable() bool {
	return true
}

func (e errIgnorable) Cause() error {
	return e.err
}

func (e errIgnorable) Error() string {
	return e.err.Error()
}

func makeIgnorable(err error) error {
	return &errIgnorable{err: err}
}

type errWithExitStatus struct {
	err    error
	status int
}

func (e errWithExitStatus) Error() string {
	return e.err.Error()
}

func (e errWithExitStatus) Cause() error {
	return e.err
}

func (e errWithExitStatus) ExitStatus() int {
	return e.status
}

func setExitStatus(err error, status int) error {
	return &errWithExitStatus{err: err, status: status}
}
