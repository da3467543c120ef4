package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/peco/uterm/internal/grab"
	"github.com/peco/uterm/internal/util"
	"github.com/peco/uterm/kbd"
	"github.com/peco/uterm/vt"
	"github.com/pkg/errors"
)

// VTTypes is the set of VT backings a seat may allocate, written as
// "real", "fake" or "real|fake".
type VTTypes vt.Type

func (t *VTTypes) unmarshal(s string) error {
	if s == "" {
		*t = VTTypes(vt.TypeAny)
		return nil
	}
	v, err := vt.ParseType(s)
	if err != nil {
		return errors.Wrapf(err, "invalid VT type %q", s)
	}
	*t = VTTypes(v)
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler (used by JSON/YAML decoders).
func (t *VTTypes) UnmarshalText(b []byte) error {
	return t.unmarshal(string(b))
}

// UnmarshalFlag implements go-flags Unmarshaler (used by CLI flag parsing).
func (t *VTTypes) UnmarshalFlag(s string) error {
	return t.unmarshal(s)
}

func (t VTTypes) Type() vt.Type {
	return vt.Type(t)
}

func (t VTTypes) String() string {
	return vt.Type(t).String()
}

// Config holds all the data that can be configured in the
// external configuration file
type Config struct {
	Keymap kbd.Config   `json:"Keymap" yaml:"Keymap"`
	Repeat RepeatConfig `json:"Repeat" yaml:"Repeat"`
	VT     VTConfig     `json:"VT" yaml:"VT"`
	Grab   GrabConfig   `json:"Grab" yaml:"Grab"`
}

// RepeatConfig holds the software key repeat timing in milliseconds.
type RepeatConfig struct {
	Delay int `json:"Delay" yaml:"Delay"`
	Rate  int `json:"Rate" yaml:"Rate"`
}

func (r RepeatConfig) DelayDuration() time.Duration {
	return time.Duration(r.Delay) * time.Millisecond
}

func (r RepeatConfig) RateDuration() time.Duration {
	return time.Duration(r.Rate) * time.Millisecond
}

// VTConfig controls the VTs allocated for every seat.
type VTConfig struct {
	Types VTTypes `json:"Types" yaml:"Types"`
	Name  string  `json:"Name" yaml:"Name"`
	// Sessions is the number of VTs per seat the session grabs cycle
	// through.
	Sessions int `json:"Sessions" yaml:"Sessions"`
}

// GrabConfig holds keyboard shortcuts. An empty string disables the
// shortcut.
type GrabConfig struct {
	SessionNext string `json:"SessionNext" yaml:"SessionNext"`
	SessionPrev string `json:"SessionPrev" yaml:"SessionPrev"`
	Quit        string `json:"Quit" yaml:"Quit"`
}

const (
	DefaultRepeatDelay = 250
	DefaultRepeatRate  = 50
	DefaultSessionNext = "<Ctrl><Logo>Right"
	DefaultSessionPrev = "<Ctrl><Logo>Left"
	DefaultQuit        = "<Ctrl><Logo>BackSpace"
)

var homedirFunc = util.Homedir

// Init initializes the Config with default values
func (c *Config) Init() error {
	c.Keymap = kbd.Config{Layout: "us"}
	c.Repeat = RepeatConfig{Delay: DefaultRepeatDelay, Rate: DefaultRepeatRate}
	c.VT = VTConfig{Types: VTTypes(vt.TypeAny), Sessions: 1}
	c.Grab = GrabConfig{
		SessionNext: DefaultSessionNext,
		SessionPrev: DefaultSessionPrev,
		Quit:        DefaultQuit,
	}
	return nil
}

// Validate checks values that the decoders cannot.
func (c *Config) Validate() error {
	if c.Repeat.Delay < 0 || c.Repeat.Rate < 0 {
		return errors.Errorf("invalid repeat delay/rate %d/%d", c.Repeat.Delay, c.Repeat.Rate)
	}
	if c.VT.Sessions < 1 {
		return errors.Errorf("invalid number of sessions: %d", c.VT.Sessions)
	}
	if c.VT.Types.Type()&vt.TypeAny == 0 {
		return errors.New("no VT type allowed")
	}
	for _, s := range []string{c.Grab.SessionNext, c.Grab.SessionPrev, c.Grab.Quit} {
		if s == "" {
			continue
		}
		if _, err := grab.Parse(s); err != nil {
			return errors.Wrap(err, "invalid grab")
		}
	}
	return nil
}

// ReadFilename reads the config from the given file, and
// does the appropriate processing, if any
func (c *Config) ReadFilename(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to open file %s", filename)
	}
	defer f.Close()

	switch ext := filepath.Ext(filename); ext {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(f).Decode(c); err != nil {
			return errors.Wrap(err, "failed to decode YAML")
		}
	default:
		if err := json.NewDecoder(f).Decode(c); err != nil {
			return errors.Wrap(err, "failed to decode JSON")
		}
	}

	return errors.Wrapf(c.Validate(), "invalid configuration in %s", filename)
}

// Locator locates a config file in a given directory.
type Locator interface {
	Locate(string) (string, error)
}

// LocatorFunc is a function that implements Locator.
type LocatorFunc func(string) (string, error)

// Locate calls the underlying function.
func (f LocatorFunc) Locate(dir string) (string, error) {
	return f(dir)
}

var configFilenames = []string{"config.json", "config.yaml", "config.yml"}

// DefaultConfigLocator searches for a config file with one of the known
// filenames (config.json, config.yaml, config.yml) in the given directory.
var DefaultConfigLocator = LocatorFunc(func(dir string) (string, error) {
	for _, basename := range configFilenames {
		file := filepath.Join(dir, basename)
		if _, err := os.Stat(file); err == nil {
			return file, nil
		}
	}
	return "", errors.Errorf("config file not found in %s", dir)
})

// LocateRcfile attempts to find the config file in various locations
func LocateRcfile(locater Locator) (string, error) {
	// http://standards.freedesktop.org/basedir-spec/basedir-spec-latest.html
	//
	// Try in this order:
	//	  $XDG_CONFIG_HOME/uterm/config.{json,yaml,yml}
	//    $XDG_CONFIG_DIR/uterm/config.{json,yaml,yml} (where XDG_CONFIG_DIR is listed in $XDG_CONFIG_DIRS)
	//	  ~/.uterm/config.{json,yaml,yml}

	home, uErr := homedirFunc()

	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		if file, err := locater.Locate(filepath.Join(dir, "uterm")); err == nil {
			return file, nil
		}
	} else if uErr == nil { // silently ignore failure for homedir()
		if file, err := locater.Locate(filepath.Join(home, ".config", "uterm")); err == nil {
			return file, nil
		}
	}

	if dirs := os.Getenv("XDG_CONFIG_DIRS"); dirs != "" {
		for _, dir := range strings.Split(dirs, fmt.Sprintf("%c", filepath.ListSeparator)) {
			if file, err := locater.Locate(filepath.Join(dir, "uterm")); err == nil {
				return file, nil
			}
		}
	}

	if uErr == nil { // silently ignore failure for homedir()
		if file, err := locater.Locate(filepath.Join(home, ".uterm")); err == nil {
			return file, nil
		}
	}

	return "", errors.New("config file not found")
}
