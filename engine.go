package swarm

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"

	"github.com/ehrlich-b/go-swarm/internal/logging"
	"github.com/ehrlich-b/go-swarm/internal/ring"
)

// badInitFlag is the sentinel added to the startup barrier when a worker
// fails init. It is far above any realistic worker count, so publishing
// it both releases the barrier and encodes the failure.
const badInitFlag = 1 << 9

// Engine owns the workers and their inboxes. Build actors on specific
// workers before Start; after Join returns, every actor has been removed
// and all workers have drained.
type Engine struct {
	coreSet   CoreSet
	mailboxes []*ring.MPSC
	workers   map[WorkerID]*Worker
	deadlock  []atomix.Bool // flush deadlock-breaker, one flag per worker

	syncStart  atomix.Uint64
	running    atomix.Bool
	lastSignal atomic.Int32

	logger  *logging.Logger
	wg      sync.WaitGroup
	sigMu   sync.Mutex
	sigCh   chan os.Signal
	started bool
}

// NewEngine creates an engine over the given core set: one worker and
// one inbox ring per chosen CPU.
func NewEngine(set CoreSet) *Engine {
	e := &Engine{
		coreSet:   set,
		mailboxes: make([]*ring.MPSC, set.NbCores()),
		workers:   make(map[WorkerID]*Worker, set.NbCores()),
		deadlock:  make([]atomix.Bool, set.NbCores()),
		logger:    logging.Default(),
	}
	e.lastSignal.Store(int32(syscall.SIGINT))
	for i := range e.mailboxes {
		e.mailboxes[i] = ring.New(DefaultRingLines)
	}
	for _, id := range set.Raw() {
		e.workers[id] = newWorker(id, e)
	}
	e.logger.Info("engine init", "cores", set.NbCores())
	return e
}

// AddActor adds an actor to the given worker. Pre-start only; returns
// the new actor's id, or NotFound when the worker is unknown, the engine
// has started, or adoption fails (id exhaustion, duplicate service id).
func (e *Engine) AddActor(worker WorkerID, act Actor) ActorID {
	if e.started {
		e.logger.Error("cannot add actor while engine is running")
		return NotFound
	}
	w := e.workers[worker]
	if w == nil {
		e.logger.Error("unknown worker", "worker", worker)
		return NotFound
	}
	return w.adopt(act)
}

// AttachIOListener wires an external reactor to a worker. Pre-start only.
func (e *Engine) AttachIOListener(worker WorkerID, l IOListener) {
	if e.started {
		e.logger.Error("cannot attach io listener while engine is running")
		return
	}
	if w := e.workers[worker]; w != nil {
		w.io = l
	}
}

// CoreBuilder is the fluent helper returned by Core for adding several
// actors to one worker.
type CoreBuilder struct {
	engine *Engine
	worker WorkerID
	ids    []ActorID
	valid  bool
}

// Core returns a builder for the given worker.
func (e *Engine) Core(worker WorkerID) *CoreBuilder {
	return &CoreBuilder{
		engine: e,
		worker: worker,
		valid:  e.coreSet.Contains(worker),
	}
}

// AddActor adds an actor to the builder's worker; chainable. A failed
// add marks the builder invalid.
func (b *CoreBuilder) AddActor(act Actor) *CoreBuilder {
	id := b.engine.AddActor(b.worker, act)
	if id.IsValid() {
		b.ids = append(b.ids, id)
	} else {
		b.valid = false
	}
	return b
}

// Valid reports whether every AddActor on this builder succeeded.
func (b *CoreBuilder) Valid() bool { return b.valid }

// IDList returns the ids created through this builder, in order.
func (b *CoreBuilder) IDList() []ActorID { return b.ids }

// Start launches the workers. With async, every worker gets its own OS
// thread and Start returns once all of them passed the init barrier,
// reporting an init failure as an error. Without async, the last worker
// of the core set runs on the calling goroutine and Start returns only
// when that worker finishes; Join must still be called.
func (e *Engine) Start(async bool) error {
	if e.started {
		return NewError("start", ErrCodeAlreadyStarted, "")
	}
	if e.coreSet.NbCores() == 0 {
		return NewError("start", ErrCodeEmptyCoreSet, "")
	}
	e.started = true
	e.running.StoreRelease(true)

	ids := e.coreSet.Raw()
	spawn := len(ids)
	if !async {
		spawn--
	}
	for _, id := range ids[:spawn] {
		w := e.workers[id]
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			w.run()
		}()
	}

	if async {
		e.armAfterBarrier()
		if e.HasError() {
			return NewError("start", ErrCodeBadInit, "one or more actors failed to init")
		}
		return nil
	}
	go e.armAfterBarrier()
	w := e.workers[ids[len(ids)-1]]
	e.wg.Add(1)
	defer e.wg.Done()
	w.run()
	return nil
}

// armAfterBarrier waits for every worker to publish ready, then installs
// the SIGINT handler. An init failure leaves the engine unarmed; the
// error is visible through HasError.
func (e *Engine) armAfterBarrier() {
	backoff := iox.Backoff{}
	for {
		v := e.syncStart.LoadAcquire()
		if v >= uint64(e.coreSet.NbCores()) || v >= badInitFlag {
			break
		}
		backoff.Wait()
	}
	if e.HasError() {
		e.logger.Error("engine init failed")
		return
	}
	e.logger.Info("engine start success")

	e.sigMu.Lock()
	e.sigCh = make(chan os.Signal, 1)
	sigCh := e.sigCh
	signal.Notify(sigCh, os.Interrupt)
	e.sigMu.Unlock()
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		if s, isSig := sig.(syscall.Signal); isSig {
			e.lastSignal.Store(int32(s))
		}
		e.logger.Info("received signal, stopping engine", "signal", sig)
		e.shutdown()
	}()
}

// shutdown clears the running flag and wakes any parked worker so the
// stop is observed promptly.
func (e *Engine) shutdown() {
	e.running.StoreRelease(false)
	for _, box := range e.mailboxes {
		box.Wake()
	}
}

// Stop asks every worker to wind down, with the same effect as SIGINT:
// each worker broadcasts a SignalEvent to its actors, whose default
// handler kills them.
func (e *Engine) Stop() {
	if e.running.LoadAcquire() {
		e.lastSignal.Store(int32(syscall.SIGINT))
		e.shutdown()
	}
}

// Join blocks until every worker has finished and drained.
func (e *Engine) Join() {
	e.wg.Wait()
	e.running.StoreRelease(false)
	e.sigMu.Lock()
	if e.sigCh != nil {
		signal.Stop(e.sigCh)
		close(e.sigCh)
		e.sigCh = nil
	}
	e.sigMu.Unlock()
}

// HasError reports whether the startup barrier recorded an init failure.
func (e *Engine) HasError() bool {
	return e.syncStart.LoadAcquire() >= badInitFlag
}

// WorkerMetrics returns the live counters of a worker, or nil for an
// unknown id. Safe to read from any goroutine.
func (e *Engine) WorkerMetrics(worker WorkerID) *Metrics {
	w := e.workers[worker]
	if w == nil {
		return nil
	}
	return &w.metrics
}
