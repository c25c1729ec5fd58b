package swarm

// Built-in control events. All are flat headers plus a few scalar fields;
// every actor is born with handlers for them.

// KillEvent asks the destination actor to die. The default handler calls
// Kill; an actor overriding it must still call Kill itself.
type KillEvent struct {
	Event
}

// SignalEvent is broadcast by a worker when the engine observes an OS
// signal. The default handler kills the actor on SIGINT.
type SignalEvent struct {
	Event
	Signum int32
}

// UnregisterCallbackEvent is self-delivered by UnregisterCallback so the
// callback is dropped at a deterministic point of the worker loop.
type UnregisterCallbackEvent struct {
	Event
}

// PingEvent is the discovery probe sent by Require. It is broadcast to a
// whole worker; each actor whose concrete type matches Type answers with
// a RequireEvent.
type PingEvent struct {
	Event
	Type uint16
}

// ActorStatus is the liveness reported in a RequireEvent.
type ActorStatus uint8

const (
	StatusAlive ActorStatus = iota
	StatusDead
)

// RequireEvent is the reply to a PingEvent; its source carries the id of
// the discovered actor.
type RequireEvent struct {
	Event
	Type   uint16
	Status ActorStatus
}

// ServiceEvent is the base for request/response exchanges with service
// actors: the requester stamps its own id and event type into Forward and
// ServiceEventID, and the service calls Received on the way back so the
// event returns to the requester under its original type.
type ServiceEvent struct {
	Event
	Forward        ActorID
	ServiceEventID uint16
}

// Received swaps the destination with the forward id and restores the
// originating event type.
func (e *ServiceEvent) Received() {
	e.dest, e.Forward = e.Forward, e.dest
	e.id, e.ServiceEventID = e.ServiceEventID, e.id
}

// Require broadcasts a discovery probe for actors of concrete type A to
// every worker of the engine. Each match replies with a RequireEvent; the
// caller collects the discovered ids in its RequireEvent handler.
func Require[A any](a Actor) {
	b := a.base()
	tid := actorTypeIDFor[A]()
	for _, worker := range b.worker.engine.coreSet.Raw() {
		Push[PingEvent](a, BroadcastID(worker)).Type = tid
	}
}
