//go:build !linux

package vt

// DefaultKernel returns the kernel console interface of the running
// platform, or nil when there is none.
func DefaultKernel() Kernel {
	return nil
}
