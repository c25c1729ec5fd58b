// Package pipe implements the unbounded staging buffer a worker keeps per
// destination. Events are laid down back-to-back in whole cache lines and
// consumed from the front in FIFO order, so a flush that cannot complete
// simply leaves the cursor at the first undelivered event.
//
// The buffer is segmented: growing appends a new, larger segment instead
// of reallocating, so a pointer handed out by AllocateBack stays valid
// until the event has been delivered or the buffer is reset. An event is
// always allocated inside a single segment.
package pipe

import "github.com/ehrlich-b/go-swarm/internal/cacheline"

// DefaultSegmentLines is the size of the first segment of a fresh buffer.
const DefaultSegmentLines = 64

type segment struct {
	buf  []byte // cache-line aligned
	used int    // lines written
}

func (s *segment) capLines() int { return len(s.buf) / cacheline.Size }

// Buffer is a single-producer FIFO of cache-line framed events.
// It is not safe for concurrent use; each worker owns its buffers.
type Buffer struct {
	segs []segment
	// front cursor: next unconsumed line
	frontSeg  int
	frontLine int
	lines     int // unconsumed lines across all segments
}

// New returns an empty buffer. Segments are allocated lazily.
func New() *Buffer {
	return &Buffer{}
}

// Len returns the number of unconsumed cache lines.
func (b *Buffer) Len() int { return b.lines }

// Empty reports whether all appended lines have been consumed.
func (b *Buffer) Empty() bool { return b.lines == 0 }

// AllocateBack reserves n contiguous cache lines at the back and returns
// them. The returned slice stays valid until the lines are consumed and
// the buffer is reset; its contents are not zeroed.
func (b *Buffer) AllocateBack(n int) []byte {
	s := b.tail(n)
	off := s.used * cacheline.Size
	s.used += n
	b.lines += n
	return s.buf[off : off+n*cacheline.Size : off+n*cacheline.Size]
}

// tail returns a segment with room for n lines, growing geometrically.
func (b *Buffer) tail(n int) *segment {
	if len(b.segs) > 0 {
		s := &b.segs[len(b.segs)-1]
		if s.capLines()-s.used >= n {
			return s
		}
	}
	lines := DefaultSegmentLines
	if len(b.segs) > 0 {
		lines = b.segs[len(b.segs)-1].capLines() * 2
	}
	if lines < n {
		lines = n
	}
	b.segs = append(b.segs, segment{buf: cacheline.Aligned(lines)})
	return &b.segs[len(b.segs)-1]
}

// Recycle appends a verbatim copy of an already formed event. The source
// must be a whole number of cache lines.
func (b *Buffer) Recycle(event []byte) []byte {
	dst := b.AllocateBack(len(event) / cacheline.Size)
	copy(dst, event)
	return dst
}

// Front returns the unconsumed bytes of the current front segment, or nil
// when the buffer is empty. The slice always starts at an event boundary;
// the caller walks it using each event's bucket size and advances with
// Advance. Events never span segments, so an event is fully contained in
// the returned slice.
func (b *Buffer) Front() []byte {
	if b.lines == 0 {
		return nil
	}
	for {
		s := &b.segs[b.frontSeg]
		if b.frontLine < s.used {
			return s.buf[b.frontLine*cacheline.Size : s.used*cacheline.Size]
		}
		b.frontSeg++
		b.frontLine = 0
	}
}

// Advance consumes n cache lines from the front.
func (b *Buffer) Advance(n int) {
	b.frontLine += n
	b.lines -= n
	if b.lines == 0 {
		b.Reset()
	}
}

// Reset discards all contents and cursors, keeping only the largest
// segment as capacity for the next round.
func (b *Buffer) Reset() {
	if len(b.segs) > 1 {
		b.segs[0] = b.segs[len(b.segs)-1]
		b.segs = b.segs[:1]
	}
	if len(b.segs) == 1 {
		b.segs[0].used = 0
	}
	b.frontSeg = 0
	b.frontLine = 0
	b.lines = 0
}

// Swap exchanges the contents of two buffers in O(1). The worker uses
// this to hand the self-delivery staging buffer to the receive path while
// handlers keep appending to the other one.
func (b *Buffer) Swap(o *Buffer) {
	*b, *o = *o, *b
}
