package kbd

import (
	evdev "github.com/holoplot/go-evdev"
)

// commonKeys are the keys every layout shares: function keys, modifiers,
// navigation and the keypad.
func commonKeys() map[evdev.EvCode]key {
	m := map[evdev.EvCode]key{
		evdev.KEY_ESC:        newKey(XKEscape),
		evdev.KEY_BACKSPACE:  newKey(XKBackSpace),
		evdev.KEY_TAB:        newKey(XKTab, XKISOLeftTab),
		evdev.KEY_ENTER:      newKey(XKReturn),
		evdev.KEY_SPACE:      newKey(' '),
		evdev.KEY_LEFTCTRL:   newKey(XKControlL),
		evdev.KEY_RIGHTCTRL:  newKey(XKControlR),
		evdev.KEY_LEFTSHIFT:  newKey(XKShiftL),
		evdev.KEY_RIGHTSHIFT: newKey(XKShiftR),
		evdev.KEY_LEFTALT:    newKey(XKAltL, XKMetaL),
		evdev.KEY_RIGHTALT:   newKey(XKAltR, XKMetaR),
		evdev.KEY_LEFTMETA:   newKey(XKSuperL),
		evdev.KEY_RIGHTMETA:  newKey(XKSuperR),
		evdev.KEY_CAPSLOCK:   newKey(XKCapsLock),
		evdev.KEY_NUMLOCK:    newKey(XKNumLock),
		evdev.KEY_SCROLLLOCK: newKey(XKScrollLock),
		evdev.KEY_SYSRQ:      newKey(XKPrint, XKSysReq),
		evdev.KEY_PAUSE:      newKey(XKPause, XKBreak),
		evdev.KEY_COMPOSE:    newKey(XKMenu),

		evdev.KEY_HOME:     newKey(XKHome),
		evdev.KEY_END:      newKey(XKEnd),
		evdev.KEY_PAGEUP:   newKey(XKPrior),
		evdev.KEY_PAGEDOWN: newKey(XKNext),
		evdev.KEY_UP:       newKey(XKUp),
		evdev.KEY_DOWN:     newKey(XKDown),
		evdev.KEY_LEFT:     newKey(XKLeft),
		evdev.KEY_RIGHT:    newKey(XKRight),
		evdev.KEY_INSERT:   newKey(XKInsert),
		evdev.KEY_DELETE:   newKey(XKDelete),

		evdev.KEY_KP7:        newKey(XKKPHome, XKKP0+7),
		evdev.KEY_KP8:        newKey(XKKPUp, XKKP0+8),
		evdev.KEY_KP9:        newKey(XKKPPrior, XKKP0+9),
		evdev.KEY_KP4:        newKey(XKKPLeft, XKKP0+4),
		evdev.KEY_KP5:        newKey(XKKPBegin, XKKP0+5),
		evdev.KEY_KP6:        newKey(XKKPRight, XKKP0+6),
		evdev.KEY_KP1:        newKey(XKKPEnd, XKKP0+1),
		evdev.KEY_KP2:        newKey(XKKPDown, XKKP0+2),
		evdev.KEY_KP3:        newKey(XKKPNext, XKKP0+3),
		evdev.KEY_KP0:        newKey(XKKPInsert, XKKP0),
		evdev.KEY_KPDOT:      newKey(XKKPDelete, XKKPDecimal),
		evdev.KEY_KPMINUS:    newKey(XKKPSubtract),
		evdev.KEY_KPPLUS:     newKey(XKKPAdd),
		evdev.KEY_KPENTER:    newKey(XKKPEnter),
		evdev.KEY_KPSLASH:    newKey(XKKPDivide),
		evdev.KEY_KPASTERISK: newKey(XKKPMultiply),
		evdev.KEY_KPEQUAL:    newKey(XKKPEqual),

		evdev.KEY_MUTE:       newKey(XKAudioMute),
		evdev.KEY_VOLUMEDOWN: newKey(XKAudioLowerVolume),
		evdev.KEY_VOLUMEUP:   newKey(XKAudioRaiseVolume),
	}

	fkeys := []evdev.EvCode{
		evdev.KEY_F1, evdev.KEY_F2, evdev.KEY_F3, evdev.KEY_F4,
		evdev.KEY_F5, evdev.KEY_F6, evdev.KEY_F7, evdev.KEY_F8,
		evdev.KEY_F9, evdev.KEY_F10, evdev.KEY_F11, evdev.KEY_F12,
	}
	for i, code := range fkeys {
		m[code] = newKey(XKF1 + Keysym(i))
	}
	return m
}

// usKeys is the US layout's printable section, shared by the plain
// backend and the ASCII lookup of every backend.
var usKeys = map[evdev.EvCode][2]byte{
	evdev.KEY_GRAVE:      {'`', '~'},
	evdev.KEY_1:          {'1', '!'},
	evdev.KEY_2:          {'2', '@'},
	evdev.KEY_3:          {'3', '#'},
	evdev.KEY_4:          {'4', '$'},
	evdev.KEY_5:          {'5', '%'},
	evdev.KEY_6:          {'6', '^'},
	evdev.KEY_7:          {'7', '&'},
	evdev.KEY_8:          {'8', '*'},
	evdev.KEY_9:          {'9', '('},
	evdev.KEY_0:          {'0', ')'},
	evdev.KEY_MINUS:      {'-', '_'},
	evdev.KEY_EQUAL:      {'=', '+'},
	evdev.KEY_Q:          {'q', 'Q'},
	evdev.KEY_W:          {'w', 'W'},
	evdev.KEY_E:          {'e', 'E'},
	evdev.KEY_R:          {'r', 'R'},
	evdev.KEY_T:          {'t', 'T'},
	evdev.KEY_Y:          {'y', 'Y'},
	evdev.KEY_U:          {'u', 'U'},
	evdev.KEY_I:          {'i', 'I'},
	evdev.KEY_O:          {'o', 'O'},
	evdev.KEY_P:          {'p', 'P'},
	evdev.KEY_LEFTBRACE:  {'[', '{'},
	evdev.KEY_RIGHTBRACE: {']', '}'},
	evdev.KEY_A:          {'a', 'A'},
	evdev.KEY_S:          {'s', 'S'},
	evdev.KEY_D:          {'d', 'D'},
	evdev.KEY_F:          {'f', 'F'},
	evdev.KEY_G:          {'g', 'G'},
	evdev.KEY_H:          {'h', 'H'},
	evdev.KEY_J:          {'j', 'J'},
	evdev.KEY_K:          {'k', 'K'},
	evdev.KEY_L:          {'l', 'L'},
	evdev.KEY_SEMICOLON:  {';', ':'},
	evdev.KEY_APOSTROPHE: {'\'', '"'},
	evdev.KEY_BACKSLASH:  {'\\', '|'},
	evdev.KEY_Z:          {'z', 'Z'},
	evdev.KEY_X:          {'x', 'X'},
	evdev.KEY_C:          {'c', 'C'},
	evdev.KEY_V:          {'v', 'V'},
	evdev.KEY_B:          {'b', 'B'},
	evdev.KEY_N:          {'n', 'N'},
	evdev.KEY_M:          {'m', 'M'},
	evdev.KEY_COMMA:      {',', '<'},
	evdev.KEY_DOT:        {'.', '>'},
	evdev.KEY_SLASH:      {'/', '?'},
	evdev.KEY_102ND:      {'<', '>'},
}

func usASCII(code evdev.EvCode) Keysym {
	if c, ok := usKeys[code]; ok {
		return Keysym(c[0])
	}
	if code == evdev.KEY_SPACE {
		return ' '
	}
	return NoSymbol
}
