package swarm

import (
	"fmt"
	"reflect"
	"runtime"
	"time"
	"unsafe"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"

	"github.com/ehrlich-b/go-swarm/internal/affinity"
	"github.com/ehrlich-b/go-swarm/internal/cacheline"
	"github.com/ehrlich-b/go-swarm/internal/logging"
	"github.com/ehrlich-b/go-swarm/internal/pipe"
	"github.com/ehrlich-b/go-swarm/internal/ring"
)

// IOListener is the hook for an external I/O reactor. A worker with a
// listener attached polls it non-blockingly once per iteration, before
// flushing outbound events. Poll returns the number of completions it
// handled so the idle policy knows work happened.
type IOListener interface {
	Poll() int
}

// Worker owns a disjoint set of actors and runs their event loop on one
// OS thread pinned to one CPU. Nothing a worker owns is ever touched by
// another worker; the only cross-worker mutation points are the inbox
// rings and the engine's atomics.
type Worker struct {
	index    WorkerID
	resolved int
	engine   *Engine
	logger   *logging.Logger

	ids       []ServiceID // free pool, LIFO
	actors    map[ActorID]Actor
	initOrder []ActorID
	callbacks map[ActorID]Callback
	pending   map[ActorID]struct{}

	// outbound[i] stages events for the worker with dense index i;
	// outbound[resolved] is the self slot, drained by swapping it with
	// monoPipe so handlers can keep appending while the previous batch
	// is routed.
	outbound []*pipe.Buffer
	monoPipe *pipe.Buffer
	voidPipe *pipe.Buffer // sink for destinations outside the core set
	inbox    *ring.MPSC

	router  router
	scratch []byte // inbox drain buffer
	sendBuf []byte // staging for Send-constructed events

	io        IOListener
	timeNS    uint64
	signaled  bool
	idleSpins int
	metrics   Metrics
}

func newWorker(index WorkerID, e *Engine) *Worker {
	w := &Worker{
		index:     index,
		resolved:  e.coreSet.Resolve(index),
		engine:    e,
		logger:    e.logger.WithPrefix(fmt.Sprintf("core(%d)", index)),
		actors:    make(map[ActorID]Actor),
		callbacks: make(map[ActorID]Callback),
		pending:   make(map[ActorID]struct{}),
		outbound:  make([]*pipe.Buffer, e.coreSet.NbCores()),
		monoPipe:  pipe.New(),
		voidPipe:  pipe.New(),
		inbox:     e.mailboxes[e.coreSet.Resolve(index)],
		router:    newRouter(),
		scratch:   cacheline.Aligned(MaxRingEventsPerIter),
	}
	for i := range w.outbound {
		w.outbound[i] = pipe.New()
	}
	for sid := int(NbReservedServiceIDs) + 1; sid < int(BroadcastSid); sid++ {
		w.ids = append(w.ids, ServiceID(sid))
	}
	return w
}

// Id allocation

func (w *Worker) allocateID() ActorID {
	if len(w.ids) == 0 {
		return NotFound
	}
	sid := w.ids[len(w.ids)-1]
	w.ids = w.ids[:len(w.ids)-1]
	return NewActorID(sid, w.index)
}

// releaseID returns a service id to the pool. Reserved ids are never
// recycled so a re-required service keeps a stable address.
func (w *Worker) releaseID(sid ServiceID) {
	if sid > NbReservedServiceIDs && sid != BroadcastSid {
		w.ids = append(w.ids, sid)
	}
}

// Actor management

// adopt wires an actor into this worker: assigns its id, installs the
// built-in handlers and records it for init. Returns NotFound when the
// id pool is exhausted or a service id is invalid or already taken.
func (w *Worker) adopt(act Actor) ActorID {
	b := act.base()
	var id ActorID
	if sa, ok := act.(ServiceActor); ok {
		sid := sa.ServiceID()
		if sid == 0 || sid > NbReservedServiceIDs {
			w.logger.Error("service id outside reserved range", "sid", sid)
			return NotFound
		}
		id = NewActorID(sid, w.index)
		if _, dup := w.actors[id]; dup {
			w.logger.Error("cannot add service actor twice", "actor", id)
			return NotFound
		}
	} else {
		id = w.allocateID()
		if !id.IsValid() {
			w.logger.Error("actor id pool exhausted")
			return NotFound
		}
	}

	t := reflect.TypeOf(act)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	b.id = id
	b.alive = true
	b.typeID = typeIDOf(t)
	b.worker = w

	RegisterEvent(act, b.onKill)
	RegisterEvent(act, b.onSignal)
	RegisterEvent(act, b.onUnregisterCallback)
	RegisterEvent(act, b.onPing)

	w.actors[id] = act
	w.initOrder = append(w.initOrder, id)
	w.logger.Debug("new actor", "actor", id, "type", t.String())
	return id
}

// killActor defers removal to the end of the current iteration.
func (w *Worker) killActor(id ActorID) {
	w.pending[id] = struct{}{}
}

func (w *Worker) removeActor(id ActorID) {
	w.router.unsubscribeAll(id)
	delete(w.callbacks, id)
	act, ok := w.actors[id]
	if !ok {
		return
	}
	if s, ok := act.(Shutdowner); ok {
		s.OnShutdown()
	}
	delete(w.actors, id)
	w.releaseID(id.ServiceID())
	w.logger.Debug("delete actor", "actor", id)
}

func (w *Worker) removeCallback(id ActorID) {
	delete(w.callbacks, id)
}

// initActors runs OnInit on every pre-start actor in construction order.
// A failing ordinary actor is dropped; a failing service actor is fatal
// for the whole engine.
func (w *Worker) initActors() bool {
	ok := true
	order := append([]ActorID(nil), w.initOrder...)
	for _, id := range order {
		act, live := w.actors[id]
		if !live {
			continue
		}
		if err := act.OnInit(); err != nil {
			w.logger.Error("actor init failed", "actor", id, "error", err)
			if id.ServiceID() <= NbReservedServiceIDs {
				ok = false
			}
			w.removeActor(id)
		}
	}
	return ok
}

// Event plumbing

// pushRaw reserves an event's framing at the back of a pipe, zeroes it
// and stamps the header. The concrete payload is written by the caller
// through the returned pointer.
func pushRaw(buf *pipe.Buffer, info *eventInfo, extra int, dest, source ActorID) *Event {
	lines := int(info.bucket)
	if extra > 0 {
		lines = cacheline.Ceil(info.size + extra)
	}
	if lines > int(^uint16(0)) {
		panic(fmt.Sprintf("swarm: event %s with %d extra bytes exceeds the 16-bit bucket range", info.name, extra))
	}
	raw := buf.AllocateBack(lines)
	clear(raw)
	hdr := (*Event)(unsafe.Pointer(&raw[0]))
	hdr.id = info.id
	hdr.bucket = uint16(lines)
	hdr.state = stateAlive | stateQoS
	hdr.dest = dest
	hdr.source = source
	return hdr
}

// outboundFor returns the staging pipe for a destination's worker. A
// destination outside the core set is diverted to the void pipe, which
// is discarded every flush.
func (w *Worker) outboundFor(dest ActorID) *pipe.Buffer {
	ri := w.engine.coreSet.Resolve(dest.WorkerID())
	if ri < 0 {
		w.logger.Warn("destination worker not in core set", "dest", dest)
		return w.voidPipe
	}
	return w.outbound[ri]
}

// sendValue copies a Send-constructed event value into the staging
// buffer, stamps its header and hands it to send.
func (w *Worker) sendValue(info *eventInfo, payload unsafe.Pointer, dest, source ActorID) {
	need := int(info.bucket) * CacheLine
	if len(w.sendBuf) < need {
		w.sendBuf = cacheline.Aligned(int(info.bucket))
	}
	buf := w.sendBuf[:need]
	clear(buf)
	copy(buf, unsafe.Slice((*byte)(payload), info.size))
	hdr := (*Event)(unsafe.Pointer(&buf[0]))
	hdr.id = info.id
	hdr.bucket = info.bucket
	hdr.state = stateAlive | stateQoS
	hdr.dest = dest
	hdr.source = source
	w.send(hdr)
}

// send delivers with no ordering promise: cross-worker events are handed
// to the destination inbox immediately when it has room, otherwise they
// fall back to the outbound pipe. Self-targeted events always take the
// pipe so that same- and cross-worker deliveries share iteration
// boundaries.
func (w *Worker) send(ev *Event) {
	if ev.dest.WorkerID() == w.index || !w.trySend(ev) {
		w.outboundFor(ev.dest).Recycle(ev.bytes())
	}
}

// trySend attempts a direct enqueue into the destination worker's inbox.
func (w *Worker) trySend(ev *Event) bool {
	ri := w.engine.coreSet.Resolve(ev.dest.WorkerID())
	if ri < 0 {
		return false
	}
	w.metrics.EventsSentTry.Add(1)
	if !w.engine.mailboxes[ri].Enqueue(w.resolved, ev.bytes()) {
		return false
	}
	w.metrics.EventsSent.Add(1)
	w.metrics.BucketsSent.Add(uint64(ev.bucket))
	return true
}

// flushAll drains every outbound pipe into the destination inboxes.
// Returns whether any pipe had events to flush.
func (w *Worker) flushAll() bool {
	ret := false
	for ri, p := range w.outbound {
		if ri == w.resolved || p.Empty() {
			continue
		}
		ret = true
		w.flushPipe(ri, p)
	}
	if !w.voidPipe.Empty() {
		w.voidPipe.Reset()
	}
	return ret
}

// flushPipe pushes one pipe's events into a destination inbox in order.
//
// When the inbox is full the worker retries while advertising itself as
// blocked through the engine's deadlock flags. If two workers saturate
// each other simultaneously, one of them observes its own flag flipped
// by the other, accepts a partial flush and returns with the remainder
// still in the pipe; the other then drains its inbox and both make
// progress on the next iteration. No event is dropped.
func (w *Worker) flushPipe(destRi int, p *pipe.Buffer) {
	box := w.engine.mailboxes[destRi]
	for {
		chunk := p.Front()
		if chunk == nil {
			return
		}
		ev := (*Event)(unsafe.Pointer(&chunk[0]))
		lines := int(ev.bucket)
		bytes := chunk[:lines*CacheLine]

		if lines > box.Cap() {
			w.logger.Error("event larger than destination inbox, dropping",
				"type", typeName(ev.id), "lines", lines)
			p.Advance(lines)
			continue
		}

		w.metrics.EventsSentTry.Add(1)
		if !box.Enqueue(w.resolved, bytes) {
			lock := &w.engine.deadlock[w.resolved]
			lock.StoreRelease(true)
			sw := spin.Wait{}
			for {
				w.metrics.EventsSentTry.Add(1)
				if box.Enqueue(w.resolved, bytes) {
					break
				}
				if lock.LoadAcquire() {
					// still blocked: tell the destination to stop
					// blocking on us
					w.engine.deadlock[destRi].StoreRelease(false)
				} else {
					// partial flush; keep the rest for next iteration
					return
				}
				sw.Once()
			}
		}
		w.metrics.EventsSent.Add(1)
		w.metrics.BucketsSent.Add(uint64(lines))
		p.Advance(lines)
	}
}

// receive drains the self pipe and the inbox, routing every event.
// Returns the number of events routed.
func (w *Worker) receive() int {
	n := 0
	// Same-worker events queued during the previous iteration: swap the
	// self slot out so handlers can push to self without aliasing the
	// buffer being walked.
	w.monoPipe.Swap(w.outbound[w.resolved])
	for {
		chunk := w.monoPipe.Front()
		if chunk == nil {
			break
		}
		n += w.routeChunk(chunk)
		w.monoPipe.Advance(len(chunk) / CacheLine)
	}
	w.monoPipe.Reset()

	w.inbox.Dequeue(w.scratch, MaxRingEventsPerIter, func(buf []byte, _ int) {
		n += w.routeChunk(buf)
	})
	return n
}

// routeChunk walks framed events in a buffer, recovering each frame from
// its bucket size header.
func (w *Worker) routeChunk(buf []byte) int {
	n := 0
	for off := 0; off < len(buf); {
		ev := (*Event)(unsafe.Pointer(&buf[off]))
		lines := int(ev.bucket)
		ev.state &^= stateAlive
		w.router.route(ev, w.onUndeliverable)
		w.metrics.EventsReceived.Add(1)
		w.metrics.BucketsReceived.Add(uint64(lines))
		off += lines * CacheLine
		n++
	}
	return n
}

func (w *Worker) onUndeliverable(ev *Event) {
	w.logger.Warn("failed to deliver event",
		"type", typeName(ev.id), "dest", ev.dest, "source", ev.source)
}

// outboundPending reports whether any staged event (including
// self-deliveries) is waiting.
func (w *Worker) outboundPending() bool {
	for _, p := range w.outbound {
		if !p.Empty() {
			return true
		}
	}
	return false
}

// Workflow

// run is the worker thread entry point: pin, init, rendezvous with the
// other workers, then loop until the actor table empties.
func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := affinity.Pin(int(w.index)); err != nil {
		w.logger.Warn("cpu pinning failed", "cpu", w.index, "error", err)
	} else {
		w.logger.Debug("pinned to cpu", "cpu", w.index)
	}

	e := w.engine
	if !w.initActors() {
		e.syncStart.AddAcqRel(badInitFlag)
		return
	}
	e.syncStart.AddAcqRel(1)

	backoff := iox.Backoff{}
	for {
		v := e.syncStart.LoadAcquire()
		if v >= badInitFlag {
			w.logger.Error("another core failed init, aborting")
			return
		}
		if v >= uint64(e.coreSet.NbCores()) {
			break
		}
		backoff.Wait()
	}

	w.logger.Info("init success", "actors", len(w.actors))
	w.loop()
	w.logger.Info("stopped")
}

// loop is the cooperative scheduler: poll I/O, flush outbound, receive,
// run callbacks, reap killed actors, then apply the idle policy. Ends
// when the last actor is gone; a drain pass then pushes out whatever is
// still staged.
func (w *Worker) loop() {
	idle := iox.Backoff{}
	for {
		w.timeNS = uint64(time.Now().UnixNano())
		worked := 0

		if !w.engine.running.LoadAcquire() && !w.signaled {
			w.signaled = true
			sig := pushRaw(w.outbound[w.resolved], eventInfoFor[SignalEvent](), 0,
				BroadcastID(w.index), NotFound)
			(*SignalEvent)(unsafe.Pointer(sig)).Signum = w.engine.lastSignal.Load()
		}

		if w.io != nil {
			worked += w.io.Poll()
		}
		if w.flushAll() {
			worked++
		}
		worked += w.receive()

		if len(w.pending) == 0 {
			for _, cb := range w.callbacks {
				cb.OnCallback()
			}
		}
		if len(w.pending) > 0 {
			for id := range w.pending {
				w.removeActor(id)
			}
			clear(w.pending)
			if len(w.actors) == 0 {
				break
			}
		}

		if worked == 0 && len(w.callbacks) == 0 && !w.outboundPending() {
			w.idleSpins++
			if w.idleSpins > idleBudget {
				w.metrics.IdleParks.Add(1)
				w.inbox.Wait()
			} else {
				idle.Wait()
			}
		} else {
			w.idleSpins = 0
			idle.Reset()
		}
	}

	// Residual events: other workers may still depend on our staged
	// sends to finish their own shutdown.
	for {
		w.receive()
		if !w.flushAll() {
			return
		}
	}
}
