package uterm

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
	"github.com/peco/uterm/input"
	"github.com/peco/uterm/kbd"
)

const (
	modsWidth  = 18
	nameWidth  = 16
	pointWidth = 8
)

// Printer writes one line per resolved key press: seat, keycode,
// modifiers, and each keysym with its codepoint and character. Presses
// consumed by a shortcut are marked with a '*'.
type Printer struct {
	out io.Writer
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) HandleInput(a *input.Aggregator, ev *input.Event) {
	fmt.Fprintln(p.out, FormatEvent(a.Seat(), ev))
}

// FormatEvent renders ev the way Printer prints it.
func FormatEvent(seat string, ev *input.Event) string {
	var buf strings.Builder

	mark := " "
	if ev.Handled() {
		mark = "*"
	}
	mods := ev.Mods.String()
	if mods == "" {
		mods = "-"
	}
	buf.WriteString(mark)
	buf.WriteString(seat)
	buf.WriteByte(' ')
	buf.WriteString(runewidth.FillLeft(strconv.Itoa(int(ev.Keycode)), 3))
	buf.WriteByte(' ')
	buf.WriteString(runewidth.FillRight(mods, modsWidth))

	for i, sym := range ev.Keysyms {
		if i > 0 {
			buf.WriteString(" |")
		}
		cp := kbd.Invalid
		if i < len(ev.Codepoints) {
			cp = ev.Codepoints[i]
		}
		buf.WriteByte(' ')
		buf.WriteString(runewidth.FillRight(keysymName(sym), nameWidth))
		buf.WriteByte(' ')
		buf.WriteString(runewidth.FillRight(codepoint(cp), pointWidth))
		buf.WriteByte(' ')
		buf.WriteString(printable(cp))
	}
	return strings.TrimRight(buf.String(), " ")
}

func keysymName(sym kbd.Keysym) string {
	if n, err := kbd.KeysymName(sym); err == nil {
		return n
	}
	return fmt.Sprintf("0x%04x", uint32(sym))
}

func codepoint(cp uint32) string {
	if cp == kbd.Invalid {
		return "-"
	}
	return fmt.Sprintf("U+%04X", cp)
}

func printable(cp uint32) string {
	if cp == kbd.Invalid || !unicode.IsPrint(rune(cp)) {
		return ""
	}
	return string(rune(cp))
}
