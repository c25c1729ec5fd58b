//go:build linux

// Package affinity pins the calling OS thread to a physical CPU.
// Each worker thread pins itself during init; failure is reported to the
// caller and treated as non-fatal by the runtime.
package affinity

import "golang.org/x/sys/unix"

// Pin binds the calling OS thread to the given CPU. The caller must have
// locked the goroutine to its OS thread first (runtime.LockOSThread).
func Pin(cpu int) error {
	var mask unix.CPUSet
	mask.Set(cpu)
	return unix.SchedSetaffinity(0, &mask)
}
