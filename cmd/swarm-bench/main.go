// swarm-bench measures round-trip event latency between two pinned
// workers: a pair of actors bounce a single event back and forth for a
// configurable number of rounds.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ehrlich-b/go-swarm"
	"github.com/ehrlich-b/go-swarm/internal/logging"
)

type bounceEvent struct {
	swarm.Event
	Round uint32
}

type bouncer struct {
	swarm.ActorBase
	peer   swarm.ActorID
	rounds uint32
}

func (b *bouncer) OnInit() error {
	swarm.RegisterEvent(b, b.onBounce)
	if b.peer.IsValid() {
		swarm.Push[bounceEvent](b, b.peer)
	}
	return nil
}

func (b *bouncer) onBounce(ev *bounceEvent) {
	// Round counts one-way hops; a round trip is two of them.
	if ev.Round >= 2*b.rounds {
		b.Kill()
		swarm.Push[swarm.KillEvent](b, ev.Source())
		return
	}
	ev.Round++
	b.Reply(&ev.Event)
}

func main() {
	var (
		roundsFlag = flag.Int("rounds", 1_000_000, "Number of round trips")
		coresFlag  = flag.String("cores", "0,1", "Two comma-separated CPU ids")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	cores, err := parseCores(*coresFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -cores %q: %v\n", *coresFlag, err)
		os.Exit(1)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	} else {
		logConfig.Level = logging.LevelWarn
	}
	logging.SetDefault(logging.NewLogger(logConfig))

	engine := swarm.NewEngine(swarm.NewCoreSet(cores...))

	side2 := &bouncer{rounds: uint32(*roundsFlag)}
	id2 := engine.AddActor(cores[1], side2)
	if !id2.IsValid() {
		fmt.Fprintln(os.Stderr, "failed to add bounce actor")
		os.Exit(1)
	}
	engine.AddActor(cores[0], &bouncer{peer: id2, rounds: uint32(*roundsFlag)})

	start := time.Now()
	if err := engine.Start(true); err != nil {
		fmt.Fprintf(os.Stderr, "engine start failed: %v\n", err)
		os.Exit(1)
	}
	engine.Join()
	elapsed := time.Since(start)

	if engine.HasError() {
		fmt.Fprintln(os.Stderr, "engine reported an init error")
		os.Exit(1)
	}

	rounds := *roundsFlag
	fmt.Printf("rounds:        %d\n", rounds)
	fmt.Printf("elapsed:       %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("round trip:    %v\n", (elapsed / time.Duration(rounds)).Round(time.Nanosecond))
	fmt.Printf("events/sec:    %.0f\n", float64(2*rounds+1)/elapsed.Seconds())

	for _, core := range cores {
		m := engine.WorkerMetrics(core).Snapshot()
		fmt.Printf("core %d: sent=%d tries=%d received=%d parks=%d\n",
			core, m.EventsSent, m.EventsSentTry, m.EventsReceived, m.IdleParks)
	}
}

// parseCores parses "a,b" into exactly two worker ids.
func parseCores(s string) ([]swarm.WorkerID, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("want exactly two cores")
	}
	out := make([]swarm.WorkerID, 0, 2)
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return nil, err
		}
		out = append(out, swarm.WorkerID(n))
	}
	if out[0] == out[1] {
		return nil, fmt.Errorf("cores must differ")
	}
	return out, nil
}
