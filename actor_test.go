package swarm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Per-iteration callbacks and event-mediated unregistration.

type tickActor struct {
	ActorBase
	ticks int
}

func (a *tickActor) OnInit() error {
	a.RegisterCallback(a)
	return nil
}

func (a *tickActor) OnCallback() {
	a.ticks++
	if a.ticks == 5 {
		a.UnregisterCallback()
		Push[KillEvent](a, a.ID())
	}
}

func TestCallbackRunsPerIterationUntilUnregistered(t *testing.T) {
	e := NewEngine(NewCoreSet(0))
	actor := &tickActor{}
	require.True(t, e.AddActor(0, actor).IsValid())

	require.NoError(t, e.Start(true))
	require.NoError(t, JoinTimeout(e, joinWait))

	// The unregister event lands in the iteration after the fifth tick,
	// together with the kill, and callbacks are skipped once a kill is
	// pending; the counter freezes exactly at five.
	assert.Equal(t, 5, actor.ticks)
}

// Reply preserves payload bytes (round-trip identity).

type blobEvent struct {
	Event
	Len  uint16
	Blob [96]byte
}

type blobEchoer struct {
	ActorBase
}

func (a *blobEchoer) OnInit() error {
	RegisterEvent(a, a.onBlob)
	return nil
}

func (a *blobEchoer) onBlob(ev *blobEvent) {
	a.Reply(&ev.Event)
}

type blobChecker struct {
	ActorBase
	peer     ActorID
	sent     [96]byte
	received [96]byte
	ok       bool
}

func (a *blobChecker) OnInit() error {
	RegisterEvent(a, a.onBlob)
	ev := Push[blobEvent](a, a.peer)
	for i := range a.sent {
		a.sent[i] = byte(i * 7)
	}
	ev.Len = uint16(len(a.sent))
	ev.Blob = a.sent
	return nil
}

func (a *blobChecker) onBlob(ev *blobEvent) {
	a.received = ev.Blob
	a.ok = ev.Len == uint16(len(a.sent)) && ev.Source() == a.peer && ev.Destination() == a.ID()
	a.Kill()
	Push[KillEvent](a, a.peer)
}

func TestReplyPreservesPayloadBytes(t *testing.T) {
	e := NewEngine(NewCoreSet(0, 1))
	echo := &blobEchoer{}
	echoID := e.AddActor(1, echo)
	require.True(t, echoID.IsValid())

	checker := &blobChecker{peer: echoID}
	require.True(t, e.AddActor(0, checker).IsValid())

	require.NoError(t, e.Start(true))
	require.NoError(t, JoinTimeout(e, joinWait))

	assert.True(t, checker.ok)
	assert.Equal(t, checker.sent, checker.received)
}

// Variable-size events through PushAllocated and Trailer.

type textEvent struct {
	Event
	Len uint16
}

type textReceiver struct {
	ActorBase
	got []byte
}

func (a *textReceiver) OnInit() error {
	RegisterEvent(a, a.onText)
	return nil
}

func (a *textReceiver) onText(ev *textEvent) {
	a.got = bytes.Clone(Trailer(ev)[:ev.Len])
	a.Kill()
	Push[KillEvent](a, ev.Source())
}

type textSender struct {
	ActorBase
	peer ActorID
	text string
}

func (a *textSender) OnInit() error {
	ev := PushAllocated[textEvent](a, a.peer, len(a.text))
	ev.Len = uint16(len(a.text))
	copy(Trailer(ev), a.text)
	return nil
}

func TestPushAllocatedCarriesTrailer(t *testing.T) {
	const text = "the quick brown fox jumps over the lazy dog, twice over, " +
		"to make the payload larger than a single cache line"

	e := NewEngine(NewCoreSet(0, 1))
	recv := &textReceiver{}
	recvID := e.AddActor(1, recv)
	require.True(t, recvID.IsValid())
	require.True(t, e.AddActor(0, &textSender{peer: recvID, text: text}).IsValid())

	require.NoError(t, e.Start(true))
	require.NoError(t, JoinTimeout(e, joinWait))

	assert.Equal(t, text, string(recv.got))
}

// Forward re-targets an event and stamps the forwarder as source.

type relayActor struct {
	ActorBase
	next ActorID
}

func (a *relayActor) OnInit() error {
	RegisterEvent(a, a.onMsg)
	return nil
}

func (a *relayActor) onMsg(ev *testMsg) {
	a.Forward(a.next, &ev.Event)
	a.Kill()
}

type finalActor struct {
	ActorBase
	from  ActorID
	value uint32
}

func (a *finalActor) OnInit() error {
	RegisterEvent(a, a.onMsg)
	return nil
}

func (a *finalActor) onMsg(ev *testMsg) {
	a.from = ev.Source()
	a.value = ev.Value
	a.Kill()
}

type relayOrigin struct {
	ActorBase
	relay ActorID
}

func (a *relayOrigin) OnInit() error {
	Push[testMsg](a, a.relay).Value = 99
	a.Kill()
	return nil
}

func TestForwardRestampsSource(t *testing.T) {
	e := NewEngine(NewCoreSet(0, 1))

	final := &finalActor{}
	finalID := e.AddActor(0, final)
	require.True(t, finalID.IsValid())

	relay := &relayActor{next: finalID}
	relayID := e.AddActor(1, relay)
	require.True(t, relayID.IsValid())

	require.True(t, e.AddActor(0, &relayOrigin{relay: relayID}).IsValid())

	require.NoError(t, e.Start(true))
	require.NoError(t, JoinTimeout(e, joinWait))

	assert.Equal(t, uint32(99), final.value)
	assert.Equal(t, relayID, final.from)
}

// Referenced actors: same worker, direct calls, no user-event routing.

type refChild struct {
	ActorBase
	poked int
}

func (c *refChild) Poke() { c.poked++ }

type refParent struct {
	ActorBase
	child   *refChild
	childID ActorID
}

func (p *refParent) OnInit() error {
	p.RegisterCallback(p)
	return nil
}

func (p *refParent) OnCallback() {
	if p.child == nil {
		p.child = &refChild{}
		p.childID = p.AddRefActor(p.child)
		if !p.childID.IsValid() {
			p.Kill()
			return
		}
	}
	p.child.Poke()
	if p.child.poked == 3 {
		Push[KillEvent](p, p.childID)
		p.Kill()
	}
}

func TestAddRefActor(t *testing.T) {
	e := NewEngine(NewCoreSet(0))
	parent := &refParent{}
	require.True(t, e.AddActor(0, parent).IsValid())

	require.NoError(t, e.Start(true))
	require.NoError(t, JoinTimeout(e, joinWait))

	require.NotNil(t, parent.child)
	assert.Equal(t, 3, parent.child.poked)
	assert.Equal(t, WorkerID(0), parent.childID.WorkerID())
	// The child got an ordinary id from the parent's worker pool and
	// honored the KillEvent builtin.
	assert.Greater(t, parent.childID.ServiceID(), NbReservedServiceIDs)
	assert.False(t, parent.child.IsAlive())
}

// Sending to a dead actor is reported, not fatal.

type lateSender struct {
	ActorBase
	dead ActorID
	iter int
}

func (a *lateSender) OnInit() error {
	a.RegisterCallback(a)
	return nil
}

func (a *lateSender) OnCallback() {
	a.iter++
	switch a.iter {
	case 1:
		Push[KillEvent](a, a.dead)
	case 5:
		// By now the target is gone; this must log-and-drop.
		Push[testMsg](a, a.dead).Value = 1
	case 8:
		a.Kill()
	}
}

func TestPushToKilledActorIsDropped(t *testing.T) {
	e := NewEngine(NewCoreSet(0))
	victim := &immortal{}
	victimID := e.AddActor(0, victim)
	require.True(t, victimID.IsValid())
	require.True(t, e.AddActor(0, &lateSender{dead: victimID}).IsValid())

	require.NoError(t, e.Start(true))
	require.NoError(t, JoinTimeout(e, joinWait))
	assert.False(t, e.HasError())
	assert.False(t, victim.IsAlive())
}

// Send has no ordering promise but still delivers.

type sendUser struct {
	ActorBase
	peer ActorID
}

func (a *sendUser) OnInit() error {
	for i := 0; i < 10; i++ {
		Send(a, a.peer, testMsg{Value: uint32(i)})
	}
	a.Kill()
	return nil
}

func TestSendDeliversAll(t *testing.T) {
	e := NewEngine(NewCoreSet(0, 1))
	counter := &Counter[testMsg]{Expect: 10}
	dest := e.AddActor(1, counter)
	require.True(t, dest.IsValid())
	require.True(t, e.AddActor(0, &sendUser{peer: dest}).IsValid())

	require.NoError(t, e.Start(true))
	require.NoError(t, JoinTimeout(e, joinWait))
	assert.Equal(t, 10, counter.Count)
}

// The Pipe handle batches several pushes to one destination in order.

type pipeUser struct {
	ActorBase
	peer ActorID
}

func (a *pipeUser) OnInit() error {
	p := a.Pipe(a.peer)
	for i := 0; i < 4; i++ {
		PipePush[testMsg](p).Value = uint32(i)
	}
	PipePush[KillEvent](p)
	a.Kill()
	return nil
}

type pipeReceiver struct {
	ActorBase
	values []uint32
}

func (a *pipeReceiver) OnInit() error {
	RegisterEvent(a, func(ev *testMsg) { a.values = append(a.values, ev.Value) })
	return nil
}

func TestPipePushKeepsOrder(t *testing.T) {
	e := NewEngine(NewCoreSet(0, 1))
	recv := &pipeReceiver{}
	recvID := e.AddActor(1, recv)
	require.True(t, recvID.IsValid())
	require.True(t, e.AddActor(0, &pipeUser{peer: recvID}).IsValid())

	require.NoError(t, e.Start(true))
	require.NoError(t, JoinTimeout(e, joinWait))

	assert.Equal(t, []uint32{0, 1, 2, 3}, recv.values)
}

// Shutdown hook.

type hookedActor struct {
	ActorBase
	shutdowns int
}

func (a *hookedActor) OnInit() error {
	a.Kill()
	return nil
}

func (a *hookedActor) OnShutdown() { a.shutdowns++ }

func TestShutdownHookRunsOnce(t *testing.T) {
	e := NewEngine(NewCoreSet(0))
	actor := &hookedActor{}
	require.True(t, e.AddActor(0, actor).IsValid())

	require.NoError(t, e.Start(true))
	require.NoError(t, JoinTimeout(e, joinWait))
	assert.Equal(t, 1, actor.shutdowns)
}

// ServiceEvent round-trips back to the requester under its original type.

func TestServiceEventReceived(t *testing.T) {
	ev := ServiceEvent{}
	ev.id = 11
	ev.ServiceEventID = 22
	ev.dest = NewActorID(1, 0)
	ev.Forward = NewActorID(10001, 1)

	ev.Received()

	assert.Equal(t, uint16(22), ev.TypeID())
	assert.Equal(t, uint16(11), ev.ServiceEventID)
	assert.Equal(t, NewActorID(10001, 1), ev.Destination())
	assert.Equal(t, NewActorID(1, 0), ev.Forward)
}
