package swarm

import "fmt"

// ServiceID identifies an actor within its worker. Values in
// [1, NbReservedServiceIDs] are reserved for service actors; BroadcastSid
// addresses every actor on a worker.
type ServiceID uint16

// WorkerID identifies a worker and the physical CPU it is pinned to.
type WorkerID uint16

// ActorID is the process-wide identity of an actor: the pair
// (ServiceID, WorkerID) packed into 32 bits. It is unique for the
// lifetime of the engine; once the actor dies its service id may be
// reused, but only on the same worker.
type ActorID uint32

// NotFound is the sentinel ActorID signalling absence or failure.
const NotFound ActorID = 0

// NewActorID packs a service id and a worker id.
func NewActorID(sid ServiceID, worker WorkerID) ActorID {
	return ActorID(uint32(sid) | uint32(worker)<<16)
}

// BroadcastID returns the address of every actor on the given worker.
func BroadcastID(worker WorkerID) ActorID {
	return NewActorID(BroadcastSid, worker)
}

// ServiceID returns the service part of the id.
func (id ActorID) ServiceID() ServiceID { return ServiceID(id) }

// WorkerID returns the worker part of the id.
func (id ActorID) WorkerID() WorkerID { return WorkerID(id >> 16) }

// IsBroadcast reports whether the id addresses a whole worker.
func (id ActorID) IsBroadcast() bool { return id.ServiceID() == BroadcastSid }

// IsValid reports whether the id refers to an actor.
func (id ActorID) IsValid() bool { return id != NotFound }

func (id ActorID) String() string {
	return fmt.Sprintf("%d.%d", id.WorkerID(), id.ServiceID())
}
