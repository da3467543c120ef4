// Package hook provides the ordered observer lists used for input and
// VT callbacks.
package hook

// Registration identifies one entry in a List. It is the handle passed
// back to Remove.
type Registration[T any] struct {
	value   T
	removed bool
}

// Value returns the registered observer.
func (r *Registration[T]) Value() T {
	return r.value
}

// List keeps observers in registration order. Observers may be added or
// removed while Each is running: removals take effect immediately (the
// removed observer is not called again), additions are first called on
// the next Each.
type List[T any] struct {
	entries []*Registration[T]
	running int
}

// Add appends v and returns its registration handle.
func (l *List[T]) Add(v T) *Registration[T] {
	r := &Registration[T]{value: v}
	l.entries = append(l.entries, r)
	return r
}

// Remove unregisters r. Removing an unknown or already removed
// registration is a no-op.
func (l *List[T]) Remove(r *Registration[T]) {
	if r == nil || r.removed {
		return
	}
	for _, e := range l.entries {
		if e == r {
			r.removed = true
			break
		}
	}
	l.compact()
}

// Clear unregisters every observer.
func (l *List[T]) Clear() {
	for _, e := range l.entries {
		e.removed = true
	}
	l.compact()
}

// Len returns the number of live registrations.
func (l *List[T]) Len() int {
	n := 0
	for _, e := range l.entries {
		if !e.removed {
			n++
		}
	}
	return n
}

// Each calls fn for every observer registered when Each started, in
// registration order.
func (l *List[T]) Each(fn func(T)) {
	l.running++
	defer func() {
		l.running--
		l.compact()
	}()

	n := len(l.entries)
	for i := 0; i < n && i < len(l.entries); i++ {
		e := l.entries[i]
		if e.removed {
			continue
		}
		fn(e.value)
	}
}

func (l *List[T]) compact() {
	if l.running > 0 {
		return
	}
	live := l.entries[:0]
	for _, e := range l.entries {
		if !e.removed {
			live = append(live, e)
		}
	}
	for i := len(live); i < len(l.entries); i++ {
		l.entries[i] = nil
	}
	l.entries = live
}
