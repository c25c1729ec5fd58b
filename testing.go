package swarm

import (
	"fmt"
	"time"
)

// Test helpers shared by the package tests and external users writing
// actor tests of their own.

// JoinTimeout waits for the engine to finish, failing after the given
// duration instead of hanging a test run forever.
func JoinTimeout(e *Engine, d time.Duration) error {
	done := make(chan struct{})
	go func() {
		e.Join()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(d):
		e.Stop()
		return fmt.Errorf("engine did not finish within %v", d)
	}
}

// Counter is a minimal actor that counts received events of type E and
// kills itself once Expect events have arrived. Use it as the receiving
// side of throughput and fan-out tests.
type Counter[E any] struct {
	ActorBase
	Expect int
	Count  int
}

func (c *Counter[E]) OnInit() error {
	RegisterEvent(c, c.onEvent)
	return nil
}

func (c *Counter[E]) onEvent(*E) {
	c.Count++
	if c.Expect > 0 && c.Count >= c.Expect {
		c.Kill()
	}
}
