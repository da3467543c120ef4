// Package uterm brings up seats for a user-space terminal: it merges the
// input devices of each seat, allocates VTs for it and runs the switch
// protocol on a single event loop.
package uterm

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/lestrrat-go/pdebug"
	"github.com/peco/uterm/config"
	"github.com/peco/uterm/eloop"
	"github.com/peco/uterm/internal/sig"
	"github.com/peco/uterm/monitor"
	"github.com/peco/uterm/vt"
	"github.com/pkg/errors"
)

// New creates a Uterm reading its arguments from os.Args.
func New() *Uterm {
	return &Uterm{
		Argv:         os.Args[1:],
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		readConfigFn: readConfig,
	}
}

func readConfig(cfg *config.Config, filename string) error {
	if err := cfg.ReadFilename(filename); err != nil {
		return errors.Wrap(err, "failed to read config")
	}
	return nil
}

// Config returns the configuration in effect after Setup.
func (u *Uterm) Config() *config.Config {
	return &u.config
}

// Setup parses the command line and loads the configuration.
func (u *Uterm) Setup() (err error) {
	if pdebug.Enabled {
		g := pdebug.Marker("Uterm.Setup")
		defer g.BindError(&err).End()
	}

	var opts CLIOptions
	if _, err := opts.parse(u.Argv, u.Stderr); err != nil {
		return errors.Wrap(err, "failed to parse command line options")
	}

	if opts.OptHelp {
		u.Stdout.Write(opts.help())
		return makeIgnorable(errors.New("user asked to show help message"))
	}

	if opts.OptVersion {
		fmt.Fprintf(u.Stdout, "uterm (version %s)\n", version)
		return makeIgnorable(errors.New("user asked to show version"))
	}

	u.options = opts

	if err := u.config.Init(); err != nil {
		return errors.Wrap(err, "failed to initialize config")
	}

	rcfile := opts.OptRcfile
	if rcfile == "" {
		if file, err := config.LocateRcfile(config.DefaultConfigLocator); err == nil {
			rcfile = file
		}
	}
	if rcfile != "" {
		if err := u.readConfigFn(&u.config, rcfile); err != nil {
			return errors.Wrap(err, "failed to setup configuration")
		}
	}

	opts.apply(&u.config)
	if err := u.config.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// Run brings up the seat given on the command line and dispatches events
// until ctx is canceled, a termination signal arrives or the quit
// shortcut is pressed. Every VT is deallocated before Run returns.
func (u *Uterm) Run(ctx context.Context) (err error) {
	if pdebug.Enabled {
		g := pdebug.Marker("Uterm.Run")
		defer g.BindError(&err).End()
	}

	if err := u.Setup(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := eloop.New()
	master := vt.NewMaster(loop, u.vtOptions...)
	defer master.Unref()

	mopts := []ManagerOption{
		WithOpener(u.opener),
		WithQuitFunc(cancel),
		WithErrorHandler(func(err error) {
			fmt.Fprintf(u.Stderr, "uterm: %s\n", err)
		}),
	}
	if !u.options.OptQuiet {
		mopts = append(mopts, WithInputHandler(NewPrinter(u.Stdout)))
	}
	mgr, err := NewManager(loop, master, &u.config, mopts...)
	if err != nil {
		return errors.Wrap(err, "failed to create seat manager")
	}
	defer mgr.Close()

	mon := monitor.NewStatic(mgr)
	defer mon.Unref()

	seat := u.options.Seat()
	mon.AddSeat(seat)
	for _, node := range u.options.OptDevices {
		if _, err := mon.AddDevice(seat, node, monitor.Input, 0); err != nil {
			return errors.Wrapf(err, "failed to add device %s", node)
		}
	}
	mon.Scan()

	if err := master.ActivateAll(); err != nil {
		fmt.Fprintf(u.Stderr, "uterm: %s\n", err)
	}

	received := make(chan os.Signal, 1)
	sigh := sig.New(sig.ReceivedHandlerFunc(func(s os.Signal) {
		if pdebug.Enabled {
			pdebug.Printf("uterm: received signal %s", s)
		}
		select {
		case received <- s:
		default:
		}
	}), syscall.SIGINT, syscall.SIGTERM)
	defer sigh.Stop()
	go sigh.Loop(ctx, cancel)

	err = loop.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		return err
	}
	select {
	case s := <-received:
		status := 1
		if n, ok := s.(syscall.Signal); ok {
			status = 128 + int(n)
		}
		return setExitStatus(makeIgnorable(errors.Wrapf(ErrSignalReceived, "%s", s)), status)
	default:
		return nil
	}
}
