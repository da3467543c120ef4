// Package ref implements the reference counting shared by aggregators,
// VTs and VT masters. All users live on one event loop goroutine, so the
// counter is not synchronized.
package ref

// Count is a reference counter that calls its release hook exactly once,
// when the last reference is dropped.
type Count struct {
	n       int
	release func()
}

// New returns a Count holding one reference.
func New(release func()) *Count {
	return &Count{n: 1, release: release}
}

// Ref adds a reference. It is a no-op once the count has been released.
func (c *Count) Ref() {
	if c.n <= 0 {
		return
	}
	c.n++
}

// Unref drops a reference and reports whether this call released the
// object.
func (c *Count) Unref() bool {
	if c.n <= 0 {
		return false
	}
	c.n--
	if c.n > 0 {
		return false
	}
	if c.release != nil {
		c.release()
	}
	return true
}

// Count returns the number of live references.
func (c *Count) Count() int {
	return c.n
}

// Released reports whether the last reference is gone.
func (c *Count) Released() bool {
	return c.n <= 0
}
