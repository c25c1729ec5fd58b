package swarm

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/ehrlich-b/go-swarm/internal/cacheline"
)

// Event state bits. alive is set while the event is in flight and cleared
// on delivery; a handler that replies or forwards sets it again to signal
// the event has been captured. qos marks events whose cross-worker
// delivery must eventually succeed.
const (
	stateAlive uint32 = 1 << 0
	stateQoS   uint32 = 1 << 1
)

// Event is the routing header every concrete event embeds as its FIRST
// field. The runtime relocates events between buffers by copying whole
// cache lines, so event types must be flat: no Go pointers, no slices, no
// maps, no strings. Variable-length payloads use PushAllocated and an
// inline trailer instead. Flatness is checked once per type when the
// type id is assigned; a violation panics.
type Event struct {
	id     uint16
	bucket uint16
	state  uint32
	dest   ActorID
	source ActorID
}

const eventHeaderSize = int(unsafe.Sizeof(Event{}))

// TypeID returns the stable type id stamped at push time.
func (e *Event) TypeID() uint16 { return e.id }

// BucketSize returns the event's size in cache lines.
func (e *Event) BucketSize() uint16 { return e.bucket }

// Destination returns the target actor.
func (e *Event) Destination() ActorID { return e.dest }

// Source returns the sending actor.
func (e *Event) Source() ActorID { return e.source }

// QoS reports whether cross-worker delivery is retried until it succeeds.
func (e *Event) QoS() bool { return e.state&stateQoS != 0 }

// SetQoS toggles the delivery guarantee; push enables it by default.
func (e *Event) SetQoS(on bool) {
	if on {
		e.state |= stateQoS
	} else {
		e.state &^= stateQoS
	}
}

// bytes returns the event's full framing: header, payload and trailing
// padding, bucket times CacheLine long.
func (e *Event) bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(e)), int(e.bucket)*CacheLine)
}

// typeRegistry hands out process-stable 16-bit ids, one per concrete Go
// type. Event and actor types share the same id space so that discovery
// probes (PingEvent) can carry an actor type id.
var typeRegistry = struct {
	sync.RWMutex
	ids   map[reflect.Type]uint16
	names map[uint16]string
	next  uint16
}{
	ids:   make(map[reflect.Type]uint16),
	names: make(map[uint16]string),
	next:  1,
}

func typeIDOf(t reflect.Type) uint16 {
	typeRegistry.RLock()
	id, ok := typeRegistry.ids[t]
	typeRegistry.RUnlock()
	if ok {
		return id
	}
	typeRegistry.Lock()
	defer typeRegistry.Unlock()
	if id, ok = typeRegistry.ids[t]; ok {
		return id
	}
	if typeRegistry.next == 0 {
		panic("swarm: type id space exhausted")
	}
	id = typeRegistry.next
	typeRegistry.next++
	typeRegistry.ids[t] = id
	typeRegistry.names[id] = t.String()
	return id
}

func typeName(id uint16) string {
	typeRegistry.RLock()
	defer typeRegistry.RUnlock()
	if n, ok := typeRegistry.names[id]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", id)
}

// eventInfo caches the per-event-type facts the push paths need.
type eventInfo struct {
	id     uint16
	size   int
	bucket uint16
	name   string
}

var eventInfos sync.Map // reflect.Type -> *eventInfo

func eventInfoOf(t reflect.Type) *eventInfo {
	if v, ok := eventInfos.Load(t); ok {
		return v.(*eventInfo)
	}
	if t.Kind() != reflect.Struct || t.NumField() == 0 ||
		!t.Field(0).Anonymous || t.Field(0).Type != reflect.TypeOf(Event{}) {
		panic(fmt.Sprintf("swarm: event type %s must embed swarm.Event as its first field", t))
	}
	if hasPointers(t) {
		panic(fmt.Sprintf("swarm: event type %s must not contain Go pointers; use PushAllocated for variable payloads", t))
	}
	info := &eventInfo{
		id:     typeIDOf(t),
		size:   int(t.Size()),
		bucket: uint16(cacheline.Ceil(int(t.Size()))),
		name:   t.String(),
	}
	v, _ := eventInfos.LoadOrStore(t, info)
	return v.(*eventInfo)
}

func eventInfoFor[E any]() *eventInfo {
	return eventInfoOf(reflect.TypeOf((*E)(nil)).Elem())
}

// TypeID returns the stable id of an event type, registering it on first
// use.
func TypeID[E any]() uint16 { return eventInfoFor[E]().id }

// IsType reports whether a type id names the given actor or event type.
func IsType[T any](id uint16) bool {
	return typeIDOf(reflect.TypeOf((*T)(nil)).Elem()) == id
}

// hasPointers walks a type looking for anything the garbage collector
// would need to trace. Such a field would dangle once the event is
// relocated by raw copy into a byte buffer.
func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Slice, reflect.String,
		reflect.Map, reflect.Chan, reflect.Func, reflect.Interface:
		return true
	case reflect.Array:
		return hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}

// Trailer returns the bytes between the end of the typed event and the
// end of its framing: the extra region reserved by PushAllocated plus the
// padding up to the next cache line. The event's own code gives these
// bytes meaning, typically by recording a length in one of its fields.
func Trailer[E any](e *E) []byte {
	hdr := (*Event)(unsafe.Pointer(e))
	size := int(unsafe.Sizeof(*e))
	total := int(hdr.bucket) * CacheLine
	return unsafe.Slice((*byte)(unsafe.Add(unsafe.Pointer(e), uintptr(size))), total-size)
}
