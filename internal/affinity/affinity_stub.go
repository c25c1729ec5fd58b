//go:build !linux

package affinity

import "errors"

// ErrUnsupported is returned on platforms without a thread affinity API.
var ErrUnsupported = errors.New("affinity: thread pinning not supported on this platform")

// Pin is a no-op stub; the runtime proceeds unpinned.
func Pin(int) error {
	return ErrUnsupported
}
