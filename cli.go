package uterm

import (
	"bytes"
	"fmt"
	"io"
	"reflect"

	"github.com/jessevdk/go-flags"
	"github.com/peco/uterm/config"
	"github.com/pkg/errors"
)

func (options *CLIOptions) parse(s []string, stderr io.Writer) ([]string, error) {
	p := flags.NewParser(options, flags.PrintErrors)
	args, err := p.ParseArgs(s)
	if err != nil {
		stderr.Write(options.help())
		return nil, errors.Wrap(err, "invalid command line options")
	}

	if err := options.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid command line arguments")
	}

	return args, nil
}

func (options CLIOptions) Validate() error {
	if options.OptRepeatDelay < 0 || options.OptRepeatRate < 0 {
		return errors.New("repeat delay and rate must not be negative")
	}
	if options.OptSessions < 0 {
		return errors.New("number of sessions must not be negative")
	}
	return nil
}

// apply copies the options that were given onto cfg.
func (options CLIOptions) apply(cfg *config.Config) {
	if options.OptModel != "" {
		cfg.Keymap.Model = options.OptModel
	}
	if options.OptLayout != "" {
		cfg.Keymap.Layout = options.OptLayout
		// a variant belongs to the layout it was configured for
		cfg.Keymap.Variant = ""
	}
	if options.OptVariant != "" {
		cfg.Keymap.Variant = options.OptVariant
	}
	if options.OptOptions != "" {
		cfg.Keymap.Options = options.OptOptions
	}
	if options.OptRepeatDelay > 0 {
		cfg.Repeat.Delay = options.OptRepeatDelay
	}
	if options.OptRepeatRate > 0 {
		cfg.Repeat.Rate = options.OptRepeatRate
	}
	if options.OptVTType.Type() != 0 {
		cfg.VT.Types = options.OptVTType
	}
	if options.OptSessions > 0 {
		cfg.VT.Sessions = options.OptSessions
	}
}

// Seat returns the seat the devices are assigned to.
func (options CLIOptions) Seat() string {
	if options.OptSeat == "" {
		return DefaultSeat
	}
	return options.OptSeat
}

func (options CLIOptions) help() []byte {
	buf := bytes.Buffer{}

	fmt.Fprintf(&buf, `
Usage: uterm [options]

Options:
`)

	t := reflect.TypeOf(options)
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag

		var o string
		if s := tag.Get("short"); s != "" {
			o = fmt.Sprintf("-%s, --%s", tag.Get("short"), tag.Get("long"))
		} else {
			o = fmt.Sprintf("--%s", tag.Get("long"))
		}

		fmt.Fprintf(
			&buf,
			"  %-21s %s\n",
			o,
			tag.Get("description"),
		)
	}

	return buf.Bytes()
}
