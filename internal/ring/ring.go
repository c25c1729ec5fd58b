// Package ring implements the bounded multi-producer single-consumer ring
// each worker exposes as its inbox. Producers are the other workers' flush
// paths; the single consumer is the owning worker's receive path.
//
// The ring stores raw cache lines; event framing is recovered by the
// consumer from each event header's bucket size. Producers claim a range
// of lines by CAS-advancing the write cursor, copy their chunk, then
// publish per-line commit marks with the first line last, so a chunk
// becomes visible to the consumer all-or-nothing. Chunks from one
// producer keep their enqueue order; chunks from distinct producers may
// interleave only at chunk boundaries.
package ring

import (
	"sync/atomic"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"

	"github.com/ehrlich-b/go-swarm/internal/cacheline"
)

type pad [64]byte

// MPSC is a bounded ring of cache lines with one consumer and any number
// of producers.
type MPSC struct {
	_      pad
	writer atomix.Uint64 // next line to claim (CAS)
	_      pad
	reader atomix.Uint64 // next line to consume (single consumer writes)
	_      pad
	sleeping atomic.Bool
	note     chan struct{}

	buf      []byte // capLines * cacheline.Size, aligned
	marks    []atomix.Uint64
	capLines uint64
	mask     uint64
}

// New creates a ring with at least capacityLines cache lines of storage.
// Capacity rounds up to the next power of two.
func New(capacityLines int) *MPSC {
	if capacityLines < 2 {
		panic("ring: capacity must be >= 2 cache lines")
	}
	n := uint64(1)
	for n < uint64(capacityLines) {
		n <<= 1
	}
	return &MPSC{
		note:     make(chan struct{}, 1),
		buf:      cacheline.Aligned(int(n)),
		marks:    make([]atomix.Uint64, n),
		capLines: n,
		mask:     n - 1,
	}
}

// Cap returns the ring capacity in cache lines.
func (r *MPSC) Cap() int { return int(r.capLines) }

// Empty reports whether all claimed lines have been consumed. It is a
// parking hint, not a linearizable emptiness check.
func (r *MPSC) Empty() bool {
	return r.reader.LoadAcquire() == r.writer.LoadAcquire()
}

// turn is the commit mark expected for absolute line position p once the
// producer owning p has published it.
func (r *MPSC) turn(p uint64) uint64 { return p/r.capLines + 1 }

// Enqueue copies a whole chunk of cache lines into the ring. It returns
// false when the ring cannot currently hold the chunk; the chunk is then
// untouched and the caller retries later. A chunk larger than the ring
// capacity can never succeed and always returns false.
//
// The producer argument identifies the calling worker; ordering is
// per-producer FIFO because one producer's claims are totally ordered by
// the write cursor.
func (r *MPSC) Enqueue(producer int, chunk []byte) bool {
	n := uint64(len(chunk) / cacheline.Size)
	if n == 0 || n > r.capLines {
		return false
	}

	var claim uint64
	sw := spin.Wait{}
	for {
		w := r.writer.LoadAcquire()
		rd := r.reader.LoadAcquire()
		if w+n > rd+r.capLines {
			return false
		}
		if r.writer.CompareAndSwapAcqRel(w, w+n) {
			claim = w
			break
		}
		sw.Once()
	}

	idx := claim & r.mask
	first := n
	if left := r.capLines - idx; first > left {
		first = left
	}
	copy(r.buf[idx*cacheline.Size:], chunk[:first*cacheline.Size])
	copy(r.buf, chunk[first*cacheline.Size:])

	// Publish interior lines first, the leading line last: the consumer
	// stops at the first unpublished line, so it can never observe a
	// partially written chunk.
	for i := n; i > 1; i-- {
		p := claim + i - 1
		r.marks[p&r.mask].StoreRelaxed(r.turn(p))
	}
	r.marks[claim&r.mask].StoreRelease(r.turn(claim))

	r.signal()
	return true
}

// Dequeue drains up to maxLines committed cache lines into scratch and,
// if anything was drained, invokes fn exactly once with the filled prefix
// of scratch and the line count. Returns the number of lines drained;
// zero means the ring was empty. Single consumer only.
func (r *MPSC) Dequeue(scratch []byte, maxLines int, fn func(buf []byte, lines int)) int {
	if m := len(scratch) / cacheline.Size; maxLines > m {
		maxLines = m
	}
	pos := r.reader.LoadRelaxed()
	count := uint64(0)
	for count < uint64(maxLines) {
		p := pos + count
		if r.marks[p&r.mask].LoadAcquire() != r.turn(p) {
			break
		}
		count++
	}
	if count == 0 {
		return 0
	}

	idx := pos & r.mask
	first := count
	if left := r.capLines - idx; first > left {
		first = left
	}
	copy(scratch, r.buf[idx*cacheline.Size:(idx+first)*cacheline.Size])
	copy(scratch[first*cacheline.Size:], r.buf[:(count-first)*cacheline.Size])

	r.reader.StoreRelease(pos + count)
	fn(scratch[:count*cacheline.Size], int(count))
	return int(count)
}

// Wait parks the consumer until a producer enqueues or Wake is called.
// Spurious wakeups are possible; the caller re-checks for work.
func (r *MPSC) Wait() {
	r.sleeping.Store(true)
	if !r.Empty() {
		r.sleeping.Store(false)
		return
	}
	<-r.note
}

// Wake unparks the consumer regardless of ring state. Used by the engine
// on shutdown so an idle worker observes the stop flag promptly.
func (r *MPSC) Wake() {
	r.sleeping.Store(false)
	select {
	case r.note <- struct{}{}:
	default:
	}
}

func (r *MPSC) signal() {
	if r.sleeping.CompareAndSwap(true, false) {
		select {
		case r.note <- struct{}{}:
		default:
		}
	}
}
