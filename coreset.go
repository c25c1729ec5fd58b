package swarm

import "runtime"

// CoreSet is the subset of CPUs an engine runs on, one worker per entry.
// Worker ids are sparse; Resolve maps them to the dense index used for
// the mailbox and pipe arrays.
type CoreSet struct {
	raw   []WorkerID
	table []int // worker id -> dense index, -1 when absent
}

// NewCoreSet builds a core set from explicit worker ids. Duplicates are
// ignored; insertion order is preserved.
func NewCoreSet(ids ...WorkerID) CoreSet {
	highest := WorkerID(0)
	for _, id := range ids {
		if id > highest {
			highest = id
		}
	}
	cs := CoreSet{table: make([]int, int(highest)+1)}
	for i := range cs.table {
		cs.table[i] = -1
	}
	for _, id := range ids {
		if cs.table[id] >= 0 {
			continue
		}
		cs.table[id] = len(cs.raw)
		cs.raw = append(cs.raw, id)
	}
	return cs
}

// AllCores returns a core set covering every CPU visible to the process.
func AllCores() CoreSet {
	n := runtime.NumCPU()
	ids := make([]WorkerID, n)
	for i := range ids {
		ids[i] = WorkerID(i)
	}
	return NewCoreSet(ids...)
}

// Resolve returns the dense index of a worker id, or -1 when the worker
// is not part of the set.
func (cs CoreSet) Resolve(id WorkerID) int {
	if int(id) >= len(cs.table) {
		return -1
	}
	return cs.table[id]
}

// Contains reports whether the worker belongs to the set.
func (cs CoreSet) Contains(id WorkerID) bool { return cs.Resolve(id) >= 0 }

// NbCores returns the number of workers in the set.
func (cs CoreSet) NbCores() int { return len(cs.raw) }

// Raw returns the worker ids in insertion order. The caller must not
// mutate the returned slice.
func (cs CoreSet) Raw() []WorkerID { return cs.raw }
