// Package entity maintains one channel's in-memory working set of persisted
// objects: an arena-backed registry with intrusive file/type/hash chains, the
// cache eviction heuristic, the reference graph, and the tri-color mark-sweep
// garbage collector.
package entity

// Mark is the tri-color GC state of an entity.
type Mark uint8

const (
	MarkWhite Mark = iota // not proven reachable
	MarkGray              // reachable, references not scanned yet
	MarkBlack             // reachable, references scanned
)

func (m Mark) String() string {
	switch m {
	case MarkWhite:
		return "white"
	case MarkGray:
		return "gray"
	case MarkBlack:
		return "black"
	}
	return "invalid"
}

const none = -1

// Entity is the storage-side descriptor of one persisted object. Entities
// live in the registry arena; the chain links are arena indexes so traversal
// stays O(1) without aliased pointers.
//
// Invariant: Live ⇔ cached buffer non-nil. A deleted entity has a nil buffer
// and zero cached length, and is never resurrected.
type Entity struct {
	ObjectID        int64
	TypeID          int64
	Length          int64
	StoragePosition int64
	FileNumber      int64
	LastTouched     int64 // logical millisecond clock
	HasReferences   bool
	Mark            Mark
	Deleted         bool

	// data is exclusively owned by the entity; eviction and deletion release
	// it deterministically.
	data []byte

	fileNext int
	typeNext int
	hashNext int
}

// Live reports whether the entity's bytes are cached.
func (e *Entity) Live() bool { return e.data != nil }

// CachedDataLength returns the cached buffer size, zero when evicted or
// deleted.
func (e *Entity) CachedDataLength() int64 { return int64(len(e.data)) }

// CachedData exposes the cached buffer. Callers must not retain it across
// eviction; use the registry collect operations for transfer.
func (e *Entity) CachedData() []byte { return e.data }

// Touch advances the entity's last-touched clock.
func (e *Entity) Touch(now int64) {
	if now > e.LastTouched {
		e.LastTouched = now
	}
}

// release drops the cached buffer and returns the number of bytes freed.
func (e *Entity) release() int64 {
	freed := int64(len(e.data))
	e.data = nil
	return freed
}
