package pipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-swarm/internal/cacheline"
)

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func TestAllocateBack(t *testing.T) {
	b := New()
	require.True(t, b.Empty())

	one := b.AllocateBack(1)
	require.Len(t, one, cacheline.Size)
	fill(one, 0xA1)

	three := b.AllocateBack(3)
	require.Len(t, three, 3*cacheline.Size)
	fill(three, 0xA2)

	assert.Equal(t, 4, b.Len())

	front := b.Front()
	require.NotNil(t, front)
	assert.Equal(t, byte(0xA1), front[0])
	assert.Equal(t, byte(0xA1), front[cacheline.Size-1])
	assert.Equal(t, byte(0xA2), front[cacheline.Size])
}

func TestPointerStabilityAcrossGrowth(t *testing.T) {
	b := New()

	// First allocation lands in the initial segment; growing must not
	// move it.
	first := b.AllocateBack(2)
	fill(first, 0x11)

	// Force several segment growths.
	for i := 0; i < 64; i++ {
		fill(b.AllocateBack(8), 0x22)
	}

	assert.Equal(t, byte(0x11), first[0])
	fill(first, 0x33) // still the live front region
	front := b.Front()
	assert.Equal(t, byte(0x33), front[0])
}

func TestFrontAdvanceAcrossSegments(t *testing.T) {
	b := New()
	total := 0
	for i := 0; i < 100; i++ {
		fill(b.AllocateBack(3), byte(i))
		total += 3
	}
	require.Equal(t, total, b.Len())

	seen := 0
	var last byte
	for {
		chunk := b.Front()
		if chunk == nil {
			break
		}
		last = chunk[0]
		b.Advance(3)
		seen += 3
	}
	assert.Equal(t, total, seen)
	assert.Equal(t, byte(99), last)
	assert.True(t, b.Empty())
}

func TestPartialConsumeKeepsRemainder(t *testing.T) {
	b := New()
	fill(b.AllocateBack(1), 1)
	fill(b.AllocateBack(1), 2)
	fill(b.AllocateBack(1), 3)

	b.Advance(1)
	require.Equal(t, 2, b.Len())
	assert.Equal(t, byte(2), b.Front()[0])

	// Producer keeps appending behind the cursor.
	fill(b.AllocateBack(1), 4)
	b.Advance(1)
	assert.Equal(t, byte(3), b.Front()[0])
	b.Advance(1)
	assert.Equal(t, byte(4), b.Front()[0])
	b.Advance(1)
	assert.True(t, b.Empty())
	assert.Nil(t, b.Front())
}

func TestRecycle(t *testing.T) {
	b := New()
	src := make([]byte, 2*cacheline.Size)
	fill(src, 0x5C)

	dst := b.Recycle(src)
	require.Len(t, dst, len(src))
	assert.Equal(t, src, dst)
	assert.Equal(t, 2, b.Len())
}

func TestSwap(t *testing.T) {
	a, b := New(), New()
	fill(a.AllocateBack(2), 0xAA)

	a.Swap(b)
	assert.True(t, a.Empty())
	require.Equal(t, 2, b.Len())
	assert.Equal(t, byte(0xAA), b.Front()[0])

	// The emptied side is immediately usable.
	fill(a.AllocateBack(1), 0xBB)
	assert.Equal(t, byte(0xBB), a.Front()[0])
}

func TestResetKeepsCapacity(t *testing.T) {
	b := New()
	for i := 0; i < 32; i++ {
		b.AllocateBack(8)
	}
	require.Greater(t, b.Len(), DefaultSegmentLines)

	b.Reset()
	assert.True(t, b.Empty())
	assert.Equal(t, 1, len(b.segs))

	// A fresh large allocation fits the retained segment.
	got := b.AllocateBack(64)
	assert.Len(t, got, 64*cacheline.Size)
}

func TestLargeSingleAllocation(t *testing.T) {
	b := New()
	big := b.AllocateBack(4096)
	require.Len(t, big, 4096*cacheline.Size)
	// The whole event sits in one segment: Front returns it in full.
	assert.Len(t, b.Front(), 4096*cacheline.Size)
}
