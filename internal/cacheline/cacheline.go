// Package cacheline provides the cache-line unit shared by the event
// buffers: the pipe segments, the inter-worker rings and the per-worker
// scratch buffers all carry event bytes in whole cache lines.
package cacheline

import "unsafe"

// Size is the assumed cache-line size in bytes. Events are framed in
// whole cache lines so that a 16-bit bucket count addresses up to 4 MiB.
const Size = 64

// Ceil returns the number of cache lines needed to hold n bytes.
// Never returns zero; an empty payload still occupies one line.
func Ceil(n int) int {
	if n <= 0 {
		return 1
	}
	return (n + Size - 1) / Size
}

// Aligned allocates a buffer of the given number of cache lines whose
// base address is cache-line aligned. The extra line of slack is what
// makes the alignment possible without a custom allocator.
func Aligned(lines int) []byte {
	raw := make([]byte, (lines+1)*Size)
	off := 0
	if rem := uintptr(unsafe.Pointer(&raw[0])) % Size; rem != 0 {
		off = Size - int(rem)
	}
	return raw[off : off+lines*Size : off+lines*Size]
}
