package uterm

import (
	"io"

	"github.com/peco/uterm/config"
	"github.com/peco/uterm/eloop"
	"github.com/peco/uterm/input"
	"github.com/peco/uterm/internal/grab"
	"github.com/peco/uterm/vt"
)

const version = "v0.1.0"

const (
	DefaultSeat = vt.DefaultKernelSeat
)

// Uterm is the command line front end: it reads the configuration,
// brings up the seats named on the command line and runs the event loop
// until it is told to quit.
type Uterm struct {
	Argv   []string
	Stdout io.Writer
	Stderr io.Writer

	config       config.Config
	options      CLIOptions
	readConfigFn func(*config.Config, string) error
	opener       input.Opener
	vtOptions    []vt.Option
}

// CLIOptions are the command line options. Values that are set override
// the configuration file.
type CLIOptions struct {
	OptHelp        bool           `short:"h" long:"help" description:"show this help message and exit"`
	OptRcfile      string         `long:"rcfile" description:"path to the settings file"`
	OptVersion     bool           `long:"version" description:"print the version and exit"`
	OptSeat        string         `long:"seat" description:"seat the devices belong to (default: seat0)"`
	OptDevices     []string       `short:"d" long:"device" description:"input device node to read from. May be given multiple times"`
	OptModel       string         `long:"model" description:"keyboard model"`
	OptLayout      string         `long:"layout" description:"keyboard layout, e.g. 'us' or 'de'"`
	OptVariant     string         `long:"variant" description:"keyboard layout variant, e.g. 'nodeadkeys'"`
	OptOptions     string         `long:"options" description:"comma separated keyboard options, e.g. 'ctrl:nocaps'"`
	OptRepeatDelay int            `long:"repeat-delay" description:"milliseconds before a held key starts repeating"`
	OptRepeatRate  int            `long:"repeat-rate" description:"milliseconds between key repeats"`
	OptVTType      config.VTTypes `long:"vt-type" description:"VT backing to allocate: 'real', 'fake' or 'real|fake'"`
	OptSessions    int            `long:"sessions" description:"number of VTs to allocate per seat"`
	OptQuiet       bool           `short:"q" long:"quiet" description:"do not print input events"`
}

// Seat is one seat brought up by the Manager: its merged input and the
// VTs allocated for it.
type Seat struct {
	name    string
	manager *Manager
	input   *input.Aggregator
	vts     []*vt.VT
	grabs   *grab.Set
	regs    []*input.Registration
	// bound is set when the seat's only VT manages the input sleep
	// state itself.
	bound  bool
	asleep bool
}

// Manager turns monitor events into seats. It runs on the event loop
// it was created with.
type Manager struct {
	loop         *eloop.Loop
	master       *vt.Master
	config       *config.Config
	opener       input.Opener
	inputHandler input.Handler
	vtHandler    vt.Handler
	onQuit       func()
	onError      func(error)
	grabs        map[grabAction]grab.KeyList
	seats        map[string]*Seat
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

type grabAction int

const (
	grabSessionNext grabAction = iota + 1
	grabSessionPrev
	grabQuit
)
