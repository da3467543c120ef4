package kbd

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Keysym is a layout symbol, numbered like X11/XKB keysyms.
type Keysym uint32

// Invalid is reported as the codepoint of a keysym without a unicode
// representation.
const Invalid uint32 = 0xffffffff

const (
	NoSymbol Keysym = 0

	XKBackSpace      Keysym = 0xff08
	XKTab            Keysym = 0xff09
	XKLinefeed       Keysym = 0xff0a
	XKClear          Keysym = 0xff0b
	XKReturn         Keysym = 0xff0d
	XKPause          Keysym = 0xff13
	XKScrollLock     Keysym = 0xff14
	XKSysReq         Keysym = 0xff15
	XKEscape         Keysym = 0xff1b
	XKMultiKey       Keysym = 0xff20
	XKHome           Keysym = 0xff50
	XKLeft           Keysym = 0xff51
	XKUp             Keysym = 0xff52
	XKRight          Keysym = 0xff53
	XKDown           Keysym = 0xff54
	XKPrior          Keysym = 0xff55
	XKNext           Keysym = 0xff56
	XKEnd            Keysym = 0xff57
	XKBegin          Keysym = 0xff58
	XKPrint          Keysym = 0xff61
	XKInsert         Keysym = 0xff63
	XKMenu           Keysym = 0xff67
	XKBreak          Keysym = 0xff6b
	XKNumLock        Keysym = 0xff7f
	XKKPSpace        Keysym = 0xff80
	XKKPTab          Keysym = 0xff89
	XKKPEnter        Keysym = 0xff8d
	XKKPHome         Keysym = 0xff95
	XKKPLeft         Keysym = 0xff96
	XKKPUp           Keysym = 0xff97
	XKKPRight        Keysym = 0xff98
	XKKPDown         Keysym = 0xff99
	XKKPPrior        Keysym = 0xff9a
	XKKPNext         Keysym = 0xff9b
	XKKPEnd          Keysym = 0xff9c
	XKKPBegin        Keysym = 0xff9d
	XKKPInsert       Keysym = 0xff9e
	XKKPDelete       Keysym = 0xff9f
	XKKPMultiply     Keysym = 0xffaa
	XKKPAdd          Keysym = 0xffab
	XKKPSeparator    Keysym = 0xffac
	XKKPSubtract     Keysym = 0xffad
	XKKPDecimal      Keysym = 0xffae
	XKKPDivide       Keysym = 0xffaf
	XKKP0            Keysym = 0xffb0
	XKKP9            Keysym = 0xffb9
	XKKPEqual        Keysym = 0xffbd
	XKF1             Keysym = 0xffbe
	XKF12            Keysym = 0xffc9
	XKShiftL         Keysym = 0xffe1
	XKShiftR         Keysym = 0xffe2
	XKControlL       Keysym = 0xffe3
	XKControlR       Keysym = 0xffe4
	XKCapsLock       Keysym = 0xffe5
	XKMetaL          Keysym = 0xffe7
	XKMetaR          Keysym = 0xffe8
	XKAltL           Keysym = 0xffe9
	XKAltR           Keysym = 0xffea
	XKSuperL         Keysym = 0xffeb
	XKSuperR         Keysym = 0xffec
	XKDelete         Keysym = 0xffff
	XKISOLevel3Shift Keysym = 0xfe03
	XKISOLeftTab     Keysym = 0xfe20
	XKDeadGrave      Keysym = 0xfe50
	XKDeadAcute      Keysym = 0xfe51
	XKDeadCircumflex Keysym = 0xfe52
	XKDeadTilde      Keysym = 0xfe53
	XKDeadDiaeresis  Keysym = 0xfe57
	XKEuroSign       Keysym = 0x20ac

	XKAudioLowerVolume Keysym = 0x1008ff11
	XKAudioMute        Keysym = 0x1008ff12
	XKAudioRaiseVolume Keysym = 0x1008ff13

	unicodeOffset Keysym = 0x01000000
)

// Printable ASCII and Latin-1 keysyms equal their codepoint; the names
// below are listed in codepoint order starting at 0x20 and 0xa0.
var asciiNames = []string{
	"space", "exclam", "quotedbl", "numbersign", "dollar", "percent",
	"ampersand", "apostrophe", "parenleft", "parenright", "asterisk", "plus",
	"comma", "minus", "period", "slash",
	"0", "1", "2", "3", "4", "5", "6", "7", "8", "9",
	"colon", "semicolon", "less", "equal", "greater", "question", "at",
	"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M",
	"N", "O", "P", "Q", "R", "S", "T", "U", "V", "W", "X", "Y", "Z",
	"bracketleft", "backslash", "bracketright", "asciicircum", "underscore",
	"grave",
	"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m",
	"n", "o", "p", "q", "r", "s", "t", "u", "v", "w", "x", "y", "z",
	"braceleft", "bar", "braceright", "asciitilde",
}

var latin1Names = []string{
	"nobreakspace", "exclamdown", "cent", "sterling", "currency", "yen",
	"brokenbar", "section", "diaeresis", "copyright", "ordfeminine",
	"guillemotleft", "notsign", "hyphen", "registered", "macron",
	"degree", "plusminus", "twosuperior", "threesuperior", "acute", "mu",
	"paragraph", "periodcentered", "cedilla", "onesuperior", "masculine",
	"guillemotright", "onequarter", "onehalf", "threequarters",
	"questiondown",
	"Agrave", "Aacute", "Acircumflex", "Atilde", "Adiaeresis", "Aring",
	"AE", "Ccedilla", "Egrave", "Eacute", "Ecircumflex", "Ediaeresis",
	"Igrave", "Iacute", "Icircumflex", "Idiaeresis", "ETH", "Ntilde",
	"Ograve", "Oacute", "Ocircumflex", "Otilde", "Odiaeresis", "multiply",
	"Oslash", "Ugrave", "Uacute", "Ucircumflex", "Udiaeresis", "Yacute",
	"THORN", "ssharp",
	"agrave", "aacute", "acircumflex", "atilde", "adiaeresis", "aring",
	"ae", "ccedilla", "egrave", "eacute", "ecircumflex", "ediaeresis",
	"igrave", "iacute", "icircumflex", "idiaeresis", "eth", "ntilde",
	"ograve", "oacute", "ocircumflex", "otilde", "odiaeresis", "division",
	"oslash", "ugrave", "uacute", "ucircumflex", "udiaeresis", "yacute",
	"thorn", "ydiaeresis",
}

var specialNames = map[Keysym]string{
	NoSymbol:           "NoSymbol",
	XKBackSpace:        "BackSpace",
	XKTab:              "Tab",
	XKLinefeed:         "Linefeed",
	XKClear:            "Clear",
	XKReturn:           "Return",
	XKPause:            "Pause",
	XKScrollLock:       "Scroll_Lock",
	XKSysReq:           "Sys_Req",
	XKEscape:           "Escape",
	XKMultiKey:         "Multi_key",
	XKHome:             "Home",
	XKLeft:             "Left",
	XKUp:               "Up",
	XKRight:            "Right",
	XKDown:             "Down",
	XKPrior:            "Prior",
	XKNext:             "Next",
	XKEnd:              "End",
	XKBegin:            "Begin",
	XKPrint:            "Print",
	XKInsert:           "Insert",
	XKMenu:             "Menu",
	XKBreak:            "Break",
	XKNumLock:          "Num_Lock",
	XKKPSpace:          "KP_Space",
	XKKPTab:            "KP_Tab",
	XKKPEnter:          "KP_Enter",
	XKKPHome:           "KP_Home",
	XKKPLeft:           "KP_Left",
	XKKPUp:             "KP_Up",
	XKKPRight:          "KP_Right",
	XKKPDown:           "KP_Down",
	XKKPPrior:          "KP_Prior",
	XKKPNext:           "KP_Next",
	XKKPEnd:            "KP_End",
	XKKPBegin:          "KP_Begin",
	XKKPInsert:         "KP_Insert",
	XKKPDelete:         "KP_Delete",
	XKKPMultiply:       "KP_Multiply",
	XKKPAdd:            "KP_Add",
	XKKPSeparator:      "KP_Separator",
	XKKPSubtract:       "KP_Subtract",
	XKKPDecimal:        "KP_Decimal",
	XKKPDivide:         "KP_Divide",
	XKKPEqual:          "KP_Equal",
	XKShiftL:           "Shift_L",
	XKShiftR:           "Shift_R",
	XKControlL:         "Control_L",
	XKControlR:         "Control_R",
	XKCapsLock:         "Caps_Lock",
	XKMetaL:            "Meta_L",
	XKMetaR:            "Meta_R",
	XKAltL:             "Alt_L",
	XKAltR:             "Alt_R",
	XKSuperL:           "Super_L",
	XKSuperR:           "Super_R",
	XKDelete:           "Delete",
	XKISOLevel3Shift:   "ISO_Level3_Shift",
	XKISOLeftTab:       "ISO_Left_Tab",
	XKDeadGrave:        "dead_grave",
	XKDeadAcute:        "dead_acute",
	XKDeadCircumflex:   "dead_circumflex",
	XKDeadTilde:        "dead_tilde",
	XKDeadDiaeresis:    "dead_diaeresis",
	XKEuroSign:         "EuroSign",
	XKAudioLowerVolume: "XF86AudioLowerVolume",
	XKAudioMute:        "XF86AudioMute",
	XKAudioRaiseVolume: "XF86AudioRaiseVolume",
}

var (
	keysymToName = map[Keysym]string{}
	nameToKeysym = map[string]Keysym{}
)

func mapsym(n string, s Keysym) {
	keysymToName[s] = n
	nameToKeysym[n] = s
}

const maxKeysym Keysym = 0x1fffffff

func init() {
	for i, n := range asciiNames {
		mapsym(n, Keysym(0x20+i))
	}
	for i, n := range latin1Names {
		mapsym(n, Keysym(0xa0+i))
	}
	for s, n := range specialNames {
		mapsym(n, s)
	}
	for i := 0; i < 10; i++ {
		mapsym(fmt.Sprintf("KP_%d", i), XKKP0+Keysym(i))
	}
	for i := 0; i < 12; i++ {
		mapsym(fmt.Sprintf("F%d", i+1), XKF1+Keysym(i))
	}
}

// KeysymName returns the textual name of sym. Keysyms outside the name
// table but inside the unicode range are named "U<hex>", any other valid
// keysym gets its hex literal, so the result always parses back to sym.
func KeysymName(sym Keysym) (string, error) {
	if n, ok := keysymToName[sym]; ok {
		return n, nil
	}
	if sym >= unicodeOffset+0x100 && sym <= unicodeOffset+0x10ffff {
		return fmt.Sprintf("U%04X", uint32(sym-unicodeOffset)), nil
	}
	if sym != NoSymbol && sym <= maxKeysym {
		return fmt.Sprintf("0x%x", uint32(sym)), nil
	}
	return "", errors.Wrapf(ErrUnknownSymbol, "keysym 0x%x", uint32(sym))
}

// KeysymFromName parses a keysym name: a table name ("Return",
// "adiaeresis"), a unicode name ("U20AC", "U+20AC") or a hex literal
// ("0xff0d").
func KeysymFromName(name string) (Keysym, error) {
	if s, ok := nameToKeysym[name]; ok {
		return s, nil
	}

	switch {
	case len(name) > 1 && (name[0] == 'U' || name[0] == 'u'):
		hex := strings.TrimPrefix(name[1:], "+")
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil || v > 0x10ffff || hex == "" {
			break
		}
		return KeysymFromUnicode(uint32(v)), nil
	case strings.HasPrefix(name, "0x") || strings.HasPrefix(name, "0X"):
		v, err := strconv.ParseUint(name[2:], 16, 32)
		if err != nil || v > uint64(maxKeysym) {
			break
		}
		return Keysym(v), nil
	}
	return NoSymbol, errors.Wrapf(ErrUnknownSymbol, "keysym name %q", name)
}

// KeysymFromUnicode returns the keysym that produces cp.
func KeysymFromUnicode(cp uint32) Keysym {
	if (cp >= 0x20 && cp <= 0x7e) || (cp >= 0xa0 && cp <= 0xff) {
		return Keysym(cp)
	}
	if cp == 0x20ac {
		return XKEuroSign
	}
	return unicodeOffset + Keysym(cp)
}

var keypadUnicode = map[Keysym]uint32{
	XKKPSpace:     ' ',
	XKKPTab:       '\t',
	XKKPEnter:     '\r',
	XKKPMultiply:  '*',
	XKKPAdd:       '+',
	XKKPSeparator: ',',
	XKKPSubtract:  '-',
	XKKPDecimal:   '.',
	XKKPDivide:    '/',
	XKKPEqual:     '=',
}

// KeysymToUnicode returns the codepoint produced by sym, or Invalid.
func KeysymToUnicode(sym Keysym) uint32 {
	switch {
	case (sym >= 0x20 && sym <= 0x7e) || (sym >= 0xa0 && sym <= 0xff):
		return uint32(sym)
	case sym >= unicodeOffset+0x100 && sym <= unicodeOffset+0x10ffff:
		return uint32(sym - unicodeOffset)
	case sym >= XKKP0 && sym <= XKKP9:
		return '0' + uint32(sym-XKKP0)
	}

	switch sym {
	case XKBackSpace:
		return 0x08
	case XKTab, XKISOLeftTab:
		return 0x09
	case XKLinefeed:
		return 0x0a
	case XKClear:
		return 0x0b
	case XKReturn:
		return 0x0d
	case XKEscape:
		return 0x1b
	case XKDelete:
		return 0x7f
	case XKEuroSign:
		return 0x20ac
	}
	if cp, ok := keypadUnicode[sym]; ok {
		return cp
	}
	return Invalid
}

// controlCodepoint applies the traditional Control transformation.
func controlCodepoint(cp uint32) uint32 {
	switch {
	case (cp >= '@' && cp < 0x7f) || cp == ' ':
		return cp & 0x1f
	case cp == '2':
		return 0
	case cp >= '3' && cp <= '7':
		return cp - ('3' - 0x1b)
	case cp == '8':
		return 0x7f
	case cp == '/':
		return '_' & 0x1f
	}
	return cp
}

func toUpper(sym Keysym) Keysym {
	cp := KeysymToUnicode(sym)
	if cp == Invalid || sym >= 0x100 && sym < unicodeOffset {
		return sym
	}
	up := unicode.ToUpper(rune(cp))
	if uint32(up) == cp {
		return sym
	}
	return KeysymFromUnicode(uint32(up))
}

func isKeypad(sym Keysym) bool {
	return sym >= XKKPSpace && sym <= XKKPEqual
}
