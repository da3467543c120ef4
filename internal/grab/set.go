package grab

import (
	"github.com/pkg/errors"
)

var (
	ErrInSequence = errors.New("expected more keys of a sequence")
	ErrNoMatch    = errors.New("could not match key to any shortcut")
)

// Set matches key presses against a set of shortcuts. It remembers how
// far into a sequence the previous presses got. A Set is used from one
// goroutine.
type Set struct {
	root    node
	current *node
}

func NewSet() *Set {
	return &Set{}
}

// Add maps the shortcut keys to v, replacing a previous mapping.
func (s *Set) Add(keys KeyList, v interface{}) error {
	if len(keys) == 0 {
		return errors.New("empty shortcut")
	}
	n := &s.root
	for _, k := range keys {
		n = n.dig(k)
	}
	n.value = v
	n.set = true
	return nil
}

// Len returns the number of shortcuts.
func (s *Set) Len() int {
	return s.root.count()
}

func (s *Set) Clear() {
	s.root = node{}
	s.current = nil
}

// InSequence reports whether earlier presses matched the start of a
// sequence.
func (s *Set) InSequence() bool {
	return s.current != nil
}

// Cancel forgets a partially matched sequence.
func (s *Set) Cancel() {
	s.current = nil
}

// Accept feeds one press, given as the keys it can match in order of
// preference. It returns the value of a completed shortcut,
// ErrInSequence when the press continued a sequence, or ErrNoMatch.
// When a shortcut is also the prefix of a longer one, the longer one
// wins and the shorter never fires.
func (s *Set) Accept(candidates ...Key) (interface{}, error) {
	c := s.current
	if c == nil {
		c = &s.root
	}

	var n *node
	for _, k := range candidates {
		if n = c.get(k); n != nil {
			break
		}
	}
	if n == nil {
		s.current = nil
		return nil, ErrNoMatch
	}

	if n.hasChildren() {
		s.current = n
		return nil, ErrInSequence
	}

	s.current = nil
	if !n.set {
		return nil, ErrNoMatch
	}
	return n.value, nil
}
