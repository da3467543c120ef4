package kbd

import (
	"embed"
	"path"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	evdev "github.com/holoplot/go-evdev"
	"github.com/lestrrat-go/pdebug"
	"github.com/pkg/errors"
)

const (
	DefaultModel  = "pc105"
	DefaultLayout = "us"
)

//go:embed layouts/*.yaml
var layoutFS embed.FS

// maximum include depth, guards against include cycles
const maxIncludeDepth = 8

type keyTable map[string][]string

type variantFile struct {
	Description string   `yaml:"description"`
	Keys        keyTable `yaml:"keys"`
}

type layoutFile struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Include     string                 `yaml:"include"`
	Keys        keyTable               `yaml:"keys"`
	Variants    map[string]variantFile `yaml:"variants"`
}

// LayoutInfo describes one of the built-in layouts.
type LayoutInfo struct {
	Name        string
	Description string
	Variants    []string
}

// Layouts lists the built-in layouts sorted by name.
func Layouts() ([]LayoutInfo, error) {
	entries, err := layoutFS.ReadDir("layouts")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read layout directory")
	}

	list := make([]LayoutInfo, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".yaml")
		lf, err := readLayout(name)
		if err != nil {
			return nil, err
		}
		info := LayoutInfo{Name: name, Description: lf.Description}
		for v := range lf.Variants {
			info.Variants = append(info.Variants, v)
		}
		sort.Strings(info.Variants)
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func readLayout(name string) (*layoutFile, error) {
	if name == "" || strings.ContainsAny(name, "/.") {
		return nil, errors.Wrapf(ErrUnknownLayout, "layout %q", name)
	}
	buf, err := layoutFS.ReadFile(path.Join("layouts", name+".yaml"))
	if err != nil {
		return nil, errors.Wrapf(ErrUnknownLayout, "layout %q", name)
	}

	var lf layoutFile
	if err := yaml.Unmarshal(buf, &lf); err != nil {
		return nil, errors.Wrapf(err, "failed to parse layout %q", name)
	}
	return &lf, nil
}

// LayoutBackend is the full keymap backend built from the embedded layout
// tables. It supports up to four shift levels per key, variants, models
// and a small set of options.
type LayoutBackend struct {
	symbols
	config Config
	keys   map[evdev.EvCode]key
}

// NewLayoutBackend compiles the keymap described by c. Comma separated
// layout and variant lists select their first entry.
func NewLayoutBackend(c Config) (b *LayoutBackend, err error) {
	if pdebug.Enabled {
		g := pdebug.Marker("kbd.NewLayoutBackend %s/%s/%s/%s", c.Model, c.Layout, c.Variant, c.Options)
		defer g.BindError(&err).End()
	}

	c = normalizeConfig(c)

	keys := commonKeys()
	if err := loadLayout(keys, c.Layout, c.Variant, 0); err != nil {
		return nil, err
	}
	if err := applyModel(keys, c.Model); err != nil {
		return nil, err
	}
	for _, opt := range strings.Split(c.Options, ",") {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		if err := applyOption(keys, opt); err != nil {
			return nil, err
		}
	}

	return &LayoutBackend{config: c, keys: keys}, nil
}

func firstOf(s string) string {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func normalizeConfig(c Config) Config {
	c.Model = strings.TrimSpace(c.Model)
	if c.Model == "" {
		c.Model = DefaultModel
	}
	c.Layout = firstOf(c.Layout)
	if c.Layout == "" {
		c.Layout = DefaultLayout
	}
	c.Variant = firstOf(c.Variant)
	return c
}

func loadLayout(keys map[evdev.EvCode]key, name, variant string, depth int) error {
	if depth > maxIncludeDepth {
		return errors.Errorf("layout %q: include chain too deep", name)
	}

	lf, err := readLayout(name)
	if err != nil {
		return err
	}

	if lf.Include != "" {
		if err := loadLayout(keys, lf.Include, "", depth+1); err != nil {
			return errors.Wrapf(err, "layout %q", name)
		}
	}
	if err := applyKeyTable(keys, lf.Keys); err != nil {
		return errors.Wrapf(err, "layout %q", name)
	}

	if variant == "" {
		return nil
	}
	v, ok := lf.Variants[variant]
	if !ok {
		return errors.Wrapf(ErrUnknownVariant, "variant %q of layout %q", variant, name)
	}
	return errors.Wrapf(applyKeyTable(keys, v.Keys), "variant %q of layout %q", variant, name)
}

func applyKeyTable(keys map[evdev.EvCode]key, table keyTable) error {
	for name, levels := range table {
		code, ok := evdev.KEYFromString[name]
		if !ok {
			return errors.Errorf("unknown keycode %q", name)
		}
		if len(levels) == 0 {
			delete(keys, code)
			continue
		}

		syms := make([]Keysym, len(levels))
		for i, l := range levels {
			s, err := KeysymFromName(l)
			if err != nil {
				return errors.Wrapf(err, "key %s", name)
			}
			syms[i] = s
		}
		keys[code] = newKey(syms...)
	}
	return nil
}

func applyModel(keys map[evdev.EvCode]key, model string) error {
	switch model {
	case "pc102", "pc105":
	case "pc101", "pc104":
		delete(keys, evdev.KEY_102ND)
	default:
		return errors.Wrapf(ErrUnknownModel, "model %q", model)
	}
	return nil
}

func applyOption(keys map[evdev.EvCode]key, opt string) error {
	switch opt {
	case "ctrl:nocaps":
		keys[evdev.KEY_CAPSLOCK] = newKey(XKControlL)
	case "ctrl:swapcaps":
		keys[evdev.KEY_CAPSLOCK] = newKey(XKControlL)
		keys[evdev.KEY_LEFTCTRL] = newKey(XKCapsLock)
	case "caps:escape":
		keys[evdev.KEY_CAPSLOCK] = newKey(XKEscape)
	case "caps:none":
		delete(keys, evdev.KEY_CAPSLOCK)
	case "altwin:swap_alt_win":
		keys[evdev.KEY_LEFTALT] = newKey(XKSuperL)
		keys[evdev.KEY_RIGHTALT] = newKey(XKSuperR)
		keys[evdev.KEY_LEFTMETA] = newKey(XKAltL, XKMetaL)
		keys[evdev.KEY_RIGHTMETA] = newKey(XKAltR, XKMetaR)
	case "lv3:ralt_switch":
		keys[evdev.KEY_RIGHTALT] = newKey(XKISOLevel3Shift)
	case "lv3:ralt_alt":
		keys[evdev.KEY_RIGHTALT] = newKey(XKAltR, XKMetaR)
	default:
		return errors.Wrapf(ErrUnknownOption, "option %q", opt)
	}
	return nil
}

// Config returns the normalized configuration the backend was built from.
func (b *LayoutBackend) Config() Config {
	return b.config
}

func (b *LayoutBackend) Resolve(code evdev.EvCode, mods Modifier) ([]Keysym, []uint32) {
	k, ok := b.keys[code]
	if !ok {
		return nil, nil
	}
	return resolveKey(k, mods)
}

func (b *LayoutBackend) ModifierOf(code evdev.EvCode) (Modifier, ModKind) {
	k, ok := b.keys[code]
	if !ok || len(k.levels) == 0 {
		return 0, ModNone
	}
	return modifierOfKeysym(k.levels[0])
}

func (b *LayoutBackend) Repeats(code evdev.EvCode) bool {
	k, ok := b.keys[code]
	return repeats(k, ok)
}

func (b *LayoutBackend) ASCII(code evdev.EvCode) Keysym {
	return usASCII(code)
}
