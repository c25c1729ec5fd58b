package swarm

import "unsafe"

// handlerEntry is a type-erased registration: invoke reinterprets the
// event bytes as the concrete type and calls the registered function.
type handlerEntry struct {
	actor  *ActorBase
	invoke func(ev unsafe.Pointer)
}

// router is a worker's two-level dispatch table: event type id first,
// destination actor second. It owns no event memory.
type router struct {
	routes map[uint16]map[ActorID]*handlerEntry
}

func newRouter() router {
	return router{routes: make(map[uint16]map[ActorID]*handlerEntry)}
}

// subscribe installs a handler, replacing any previous registration for
// the same (type, actor) pair.
func (r *router) subscribe(typeID uint16, id ActorID, h *handlerEntry) {
	inner := r.routes[typeID]
	if inner == nil {
		inner = make(map[ActorID]*handlerEntry)
		r.routes[typeID] = inner
	}
	inner[id] = h
}

func (r *router) unsubscribe(typeID uint16, id ActorID) {
	delete(r.routes[typeID], id)
}

// unsubscribeAll removes every registration of a dying actor.
func (r *router) unsubscribeAll(id ActorID) {
	for typeID, inner := range r.routes {
		delete(inner, id)
		if len(inner) == 0 {
			delete(r.routes, typeID)
		}
	}
}

// route dispatches one event. Broadcasts fan out to every subscriber of
// the type and miss silently; a unicast without a matching registration
// is reported through undeliverable.
func (r *router) route(ev *Event, undeliverable func(*Event)) {
	inner := r.routes[ev.id]
	p := unsafe.Pointer(ev)
	if ev.dest.IsBroadcast() {
		for _, h := range inner {
			h.invoke(p)
		}
		return
	}
	if h, ok := inner[ev.dest]; ok {
		h.invoke(p)
		return
	}
	undeliverable(ev)
}
