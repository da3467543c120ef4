// Package util holds helpers shared by the command line front end and
// the configuration loader.
package util

type causer interface {
	Cause() error
}

type ignorable interface {
	Ignorable() bool
}

type exitStatuser interface {
	ExitStatus() int
}

// IsIgnorableError reports whether err, or an error it wraps, asks not
// to be reported to the user.
func IsIgnorableError(err error) bool {
	for e := err; e != nil; {
		switch v := e.(type) {
		case ignorable:
			return v.Ignorable()
		case causer:
			e = v.Cause()
		default:
			return false
		}
	}
	return false
}

// GetExitStatus returns the process exit status carried by err, or 1 and
// false when it carries none.
func GetExitStatus(err error) (int, bool) {
	for e := err; e != nil; {
		if ese, ok := e.(exitStatuser); ok {
			return ese.ExitStatus(), true
		}
		if cerr, ok := e.(causer); ok {
			e = cerr.Cause()
			continue
		}
		break
	}
	return 1, false
}
