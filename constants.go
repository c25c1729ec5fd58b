package swarm

import "github.com/ehrlich-b/go-swarm/internal/cacheline"

// CacheLine is the framing unit for events: every event occupies a whole
// number of cache lines in the pipes and rings.
const CacheLine = cacheline.Size

const (
	// NbReservedServiceIDs is the top of the reserved service-id range.
	// IDs in [1, NbReservedServiceIDs] identify service actors (one per
	// worker) and are never recycled; ordinary actors draw their ids from
	// the range above it.
	NbReservedServiceIDs ServiceID = 10000

	// BroadcastSid is the service id that addresses every actor on a
	// worker.
	BroadcastSid ServiceID = 0xFFFF
)

const (
	// DefaultRingLines is the capacity of each worker's inbox ring in
	// cache lines (64 KiB per worker).
	DefaultRingLines = 1024

	// MaxRingEventsPerIter caps the cache lines drained from the inbox
	// per receive pass. Keeping it equal to the ring capacity guarantees
	// a committed chunk is never truncated mid-event.
	MaxRingEventsPerIter = DefaultRingLines

	// idleBudget is the number of consecutive empty iterations a worker
	// tolerates before parking on its inbox.
	idleBudget = 256
)
