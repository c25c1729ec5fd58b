package swarm

import (
	"reflect"
	"syscall"
	"unsafe"

	"github.com/ehrlich-b/go-swarm/internal/pipe"
)

// Actor is the contract every actor fulfils by embedding ActorBase.
// OnInit runs on the owning worker's thread before the engine barrier
// releases (or immediately for referenced actors); returning an error
// keeps the actor out of the engine.
type Actor interface {
	OnInit() error
	base() *ActorBase
}

// ServiceActor marks an actor with a fixed service id from the reserved
// range. At most one service actor per (service id, worker); duplicates
// are rejected with NotFound. Distinct workers may each host their own
// copy of the same service.
type ServiceActor interface {
	Actor
	ServiceID() ServiceID
}

// Callback is the per-iteration hook: a registered actor's OnCallback
// runs once per worker loop, after event delivery and before the
// outbound flush.
type Callback interface {
	OnCallback()
}

// Shutdowner is an optional hook invoked on the owning worker's thread
// when the actor is removed from the engine.
type Shutdowner interface {
	OnShutdown()
}

// ActorBase carries the runtime identity of an actor. Embed it as a
// value; the worker wires it up when the actor is added to the engine.
// All of its methods must be called from the owning worker's thread,
// i.e. from OnInit, an event handler or a callback.
type ActorBase struct {
	id     ActorID
	alive  bool
	typeID uint16
	worker *Worker
}

func (a *ActorBase) base() *ActorBase { return a }

// OnInit is the default no-op initializer; actors override it to
// register events and callbacks.
func (a *ActorBase) OnInit() error { return nil }

// ID returns the actor's engine-wide identity.
func (a *ActorBase) ID() ActorID { return a.id }

// IsAlive reports whether the actor has not been killed. The flag only
// ever goes from true to false.
func (a *ActorBase) IsAlive() bool { return a.alive }

// WorkerIndex returns the id of the owning worker.
func (a *ActorBase) WorkerIndex() WorkerID { return a.worker.index }

// CoreSet returns the engine's core set.
func (a *ActorBase) CoreSet() CoreSet { return a.worker.engine.coreSet }

// Time returns the nanosecond timestamp cached by the worker at the top
// of the current iteration. It is stable for the whole iteration.
func (a *ActorBase) Time() uint64 { return a.worker.timeNS }

// Kill schedules the actor for removal at the end of the current worker
// iteration. Handlers already routed in this iteration still run.
func (a *ActorBase) Kill() {
	a.alive = false
	a.worker.killActor(a.id)
}

// RegisterCallback arranges for cb.OnCallback to run once per worker
// iteration. cb is normally the actor itself.
func (a *ActorBase) RegisterCallback(cb Callback) {
	a.worker.callbacks[a.id] = cb
}

// UnregisterCallback drops the per-iteration callback. Removal is
// event-mediated so it takes effect at a deterministic loop point.
func (a *ActorBase) UnregisterCallback() {
	Push[UnregisterCallbackEvent](a, a.id)
}

// Reply sends a received event back to its source, swapping destination
// and source and preserving the payload bytes. The handler must not
// touch the event afterwards.
func (a *ActorBase) Reply(ev *Event) {
	if ev.dest.IsBroadcast() {
		a.worker.logger.Warn("cannot reply to broadcast event", "type", typeName(ev.id))
		return
	}
	ev.dest, ev.source = ev.source, ev.dest
	ev.state |= stateAlive
	a.worker.send(ev)
}

// Forward re-targets a received event at a new destination, stamping the
// forwarding actor as the source. The handler must not touch the event
// afterwards.
func (a *ActorBase) Forward(dest ActorID, ev *Event) {
	if ev.dest.IsBroadcast() {
		a.worker.logger.Warn("cannot forward broadcast event", "type", typeName(ev.id))
		return
	}
	ev.source = a.id
	ev.dest = dest
	ev.state |= stateAlive
	a.worker.send(ev)
}

// Pipe returns the direct handle for repeated pushes to one destination.
func (a *ActorBase) Pipe(dest ActorID) Pipe {
	return Pipe{
		buf:    a.worker.outboundFor(dest),
		dest:   dest,
		source: a.id,
	}
}

// AddRefActor adds another actor on the same worker and initializes it
// immediately. The caller keeps its typed pointer for direct synchronous
// calls; the engine only routes built-in control events to it unless it
// registers handlers of its own. Returns NotFound when the id pool is
// exhausted or init fails. Only valid after start, from the owning
// worker's thread.
func (a *ActorBase) AddRefActor(child Actor) ActorID {
	w := a.worker
	id := w.adopt(child)
	if !id.IsValid() {
		return NotFound
	}
	if err := child.OnInit(); err != nil {
		w.logger.Error("referenced actor init failed", "actor", id, "error", err)
		w.removeActor(id)
		return NotFound
	}
	return id
}

// Built-in handlers, installed when the actor joins a worker.

func (a *ActorBase) onKill(*KillEvent) { a.Kill() }

func (a *ActorBase) onSignal(ev *SignalEvent) {
	if ev.Signum == int32(syscall.SIGINT) {
		a.Kill()
	}
}

func (a *ActorBase) onUnregisterCallback(*UnregisterCallbackEvent) {
	a.worker.removeCallback(a.id)
}

func (a *ActorBase) onPing(ev *PingEvent) {
	if ev.Type == a.typeID {
		Send(a, ev.source, RequireEvent{Type: ev.Type, Status: StatusAlive})
	}
}

// RegisterEvent subscribes the actor to events of type E. Registering
// the same event type again replaces the previous handler.
func RegisterEvent[E any](a Actor, fn func(*E)) {
	b := a.base()
	info := eventInfoFor[E]()
	b.worker.router.subscribe(info.id, b.id, &handlerEntry{
		actor:  b,
		invoke: func(ev unsafe.Pointer) { fn((*E)(ev)) },
	})
}

// UnregisterEvent drops the actor's subscription for events of type E.
func UnregisterEvent[E any](a Actor) {
	b := a.base()
	b.worker.router.unsubscribe(eventInfoFor[E]().id, b.id)
}

// Push appends an event of type E to the per-destination pipe and
// returns it for in-place construction. Events pushed to the same
// destination in the same iteration are delivered in push order; pushes
// to different destinations may be reordered relative to each other.
// Delivery happens at the end of the worker iteration.
func Push[E any](a Actor, dest ActorID) *E {
	b := a.base()
	hdr := pushRaw(b.worker.outboundFor(dest), eventInfoFor[E](), 0, dest, b.id)
	return (*E)(unsafe.Pointer(hdr))
}

// PushAllocated is Push with extra trailer bytes reserved after the
// typed event; see Trailer.
func PushAllocated[E any](a Actor, dest ActorID, extra int) *E {
	b := a.base()
	hdr := pushRaw(b.worker.outboundFor(dest), eventInfoFor[E](), extra, dest, b.id)
	return (*E)(unsafe.Pointer(hdr))
}

// Send delivers a fully formed event value with no ordering promise: the
// runtime may hand it to the destination worker immediately, ahead of
// previously pushed events.
func Send[E any](a Actor, dest ActorID, ev E) {
	b := a.base()
	b.worker.sendValue(eventInfoFor[E](), unsafe.Pointer(&ev), dest, b.id)
}

// Pipe is the per-destination push handle returned by ActorBase.Pipe.
type Pipe struct {
	buf    *pipe.Buffer
	dest   ActorID
	source ActorID
}

// Destination returns the pipe's target actor.
func (p Pipe) Destination() ActorID { return p.dest }

// Source returns the actor the pipe stamps as sender.
func (p Pipe) Source() ActorID { return p.source }

// PipePush appends an event of type E to the pipe; same ordering rules
// as Push.
func PipePush[E any](p Pipe) *E {
	hdr := pushRaw(p.buf, eventInfoFor[E](), 0, p.dest, p.source)
	return (*E)(unsafe.Pointer(hdr))
}

// PipePushAllocated is PipePush with extra trailer bytes.
func PipePushAllocated[E any](p Pipe, extra int) *E {
	hdr := pushRaw(p.buf, eventInfoFor[E](), extra, p.dest, p.source)
	return (*E)(unsafe.Pointer(hdr))
}

func actorTypeIDFor[A any]() uint16 {
	return typeIDOf(reflect.TypeOf((*A)(nil)).Elem())
}
