// Package swarm is a shared-nothing actor runtime: application code is
// organized as actors that communicate only by typed, asynchronous
// events. Each actor belongs to exactly one worker, an OS thread pinned
// to one CPU; all actor state is private to that worker and is never
// touched by another thread. Workers exchange events through bounded
// lock-free rings, batching outbound traffic in per-destination pipes
// that are flushed at the end of every loop iteration.
//
// Build actors on specific workers before starting the engine:
//
//	engine := swarm.NewEngine(swarm.NewCoreSet(0, 1))
//	pong := engine.AddActor(0, &PongActor{})
//	engine.AddActor(1, &PingActor{Pong: pong})
//	engine.Start(true)
//	engine.Join() // returns once every actor has been killed
//
// An actor embeds swarm.ActorBase, registers the events it listens to in
// OnInit and reacts in plain methods:
//
//	type PongActor struct{ swarm.ActorBase }
//
//	func (p *PongActor) OnInit() error {
//		swarm.RegisterEvent(p, p.onMsg)
//		return nil
//	}
//
//	func (p *PongActor) onMsg(ev *Msg) {
//		p.Reply(&ev.Event)
//		p.Kill()
//	}
//
// Events embed swarm.Event as their first field and must be flat: fixed
// size, no Go pointers. Within a worker, handlers run to completion and
// never block; parallelism exists only across workers.
package swarm
