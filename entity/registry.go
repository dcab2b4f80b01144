package entity

import (
	"fmt"
)

const initialBuckets = 1 << 10

// Registry is the arena of one channel's entities. Entities are addressed by
// stable arena index; hash buckets, per-type chains and per-file chains are
// maintained as intrusive index links. A registry is confined to its owning
// channel goroutine and is not safe for concurrent use.
type Registry struct {
	arena     []Entity
	buckets   []int
	typeHeads map[int64]int
	fileHeads map[int64]int
	free      []int
	count     int
	cacheSize int64
	allocMark Mark
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	buckets := make([]int, initialBuckets)
	for i := range buckets {
		buckets[i] = none
	}
	return &Registry{
		buckets:   buckets,
		typeHeads: map[int64]int{},
		fileHeads: map[int64]int{},
	}
}

func bucketFor(objectID int64, size int) int {
	// size is a power of two; ids are 63-bit and well distributed by the
	// higher layer's allocator, a mask suffices.
	return int(uint64(objectID) & uint64(size-1))
}

// Lookup returns the registered entity for objectID, nil when unknown.
func (r *Registry) Lookup(objectID int64) *Entity {
	idx := r.lookupIndex(objectID)
	if idx == none {
		return nil
	}
	return &r.arena[idx]
}

func (r *Registry) lookupIndex(objectID int64) int {
	for idx := r.buckets[bucketFor(objectID, len(r.buckets))]; idx != none; idx = r.arena[idx].hashNext {
		if r.arena[idx].ObjectID == objectID {
			return idx
		}
	}
	return none
}

// Ensure returns the entity for objectID, registering it first when unknown.
// The returned pointer is invalidated by any later registration; re-lookup
// rather than retaining it.
func (r *Registry) Ensure(objectID, typeID int64) *Entity {
	if e := r.Lookup(objectID); e != nil {
		return e
	}
	if r.count >= 2*len(r.buckets) {
		r.grow()
	}
	var idx int
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
		r.arena[idx] = Entity{}
	} else {
		r.arena = append(r.arena, Entity{})
		idx = len(r.arena) - 1
	}
	e := &r.arena[idx]
	e.ObjectID = objectID
	e.TypeID = typeID
	e.Mark = r.allocMark
	e.FileNumber = none
	e.fileNext = none

	bucket := bucketFor(objectID, len(r.buckets))
	e.hashNext = r.buckets[bucket]
	r.buckets[bucket] = idx

	if head, ok := r.typeHeads[typeID]; ok {
		e.typeNext = head
	} else {
		e.typeNext = none
	}
	r.typeHeads[typeID] = idx
	r.count++
	return e
}

// AssignStorage records the entity's on-disk location and links it into the
// chain of its data file.
func (r *Registry) AssignStorage(e *Entity, fileNumber, position, length int64) {
	idx := r.lookupIndex(e.ObjectID)
	if idx == none {
		return
	}
	if e.FileNumber != none && e.FileNumber != fileNumber {
		r.unlinkFile(idx)
	}
	if e.FileNumber != fileNumber {
		if head, ok := r.fileHeads[fileNumber]; ok {
			e.fileNext = head
		} else {
			e.fileNext = none
		}
		r.fileHeads[fileNumber] = idx
	}
	e.FileNumber = fileNumber
	e.StoragePosition = position
	e.Length = length
}

// Cache installs data as the entity's exclusively owned buffer and touches it.
func (r *Registry) Cache(e *Entity, data []byte, now int64) error {
	if e.Deleted {
		return fmt.Errorf("entity: cache on deleted object %d", e.ObjectID)
	}
	r.cacheSize -= e.release()
	owned := make([]byte, len(data))
	copy(owned, data)
	e.data = owned
	r.cacheSize += int64(len(owned))
	e.Touch(now)
	return nil
}

// Evict releases the entity's cached buffer; the entity stays registered.
func (r *Registry) Evict(e *Entity) {
	r.cacheSize -= e.release()
}

// MarkDeleted transitions the entity to its terminal deleted state: buffer
// released, zero cached length, still registered until swept.
func (r *Registry) MarkDeleted(e *Entity) {
	r.cacheSize -= e.release()
	e.Deleted = true
}

// Deregister removes the entity from all chains and recycles its arena slot.
// Used by the GC sweep once an entity is proven unreachable.
func (r *Registry) Deregister(objectID int64) bool {
	idx := r.lookupIndex(objectID)
	if idx == none {
		return false
	}
	e := &r.arena[idx]
	r.cacheSize -= e.release()

	bucket := bucketFor(objectID, len(r.buckets))
	r.unlinkChain(&r.buckets[bucket], idx, func(i int) *int { return &r.arena[i].hashNext })
	r.unlinkType(idx)
	r.unlinkFile(idx)

	// Freed slots are canonical: deleted with the reserved null object id,
	// so isFree stays O(1). Id 0 is never a valid 63-bit object identity.
	*e = Entity{Deleted: true}
	e.fileNext, e.typeNext, e.hashNext = none, none, none
	r.free = append(r.free, idx)
	r.count--
	return true
}

func (r *Registry) unlinkType(idx int) {
	e := &r.arena[idx]
	head, ok := r.typeHeads[e.TypeID]
	if !ok {
		return
	}
	if head == idx && e.typeNext == none {
		delete(r.typeHeads, e.TypeID)
		return
	}
	r.unlinkChain(&head, idx, func(i int) *int { return &r.arena[i].typeNext })
	r.typeHeads[e.TypeID] = head
}

func (r *Registry) unlinkFile(idx int) {
	e := &r.arena[idx]
	if e.FileNumber == none {
		return
	}
	head, ok := r.fileHeads[e.FileNumber]
	if !ok {
		return
	}
	if head == idx && e.fileNext == none {
		delete(r.fileHeads, e.FileNumber)
	} else {
		r.unlinkChain(&head, idx, func(i int) *int { return &r.arena[i].fileNext })
		r.fileHeads[e.FileNumber] = head
	}
	e.FileNumber = none
	e.fileNext = none
}

func (r *Registry) unlinkChain(head *int, idx int, next func(int) *int) {
	if *head == idx {
		*head = *next(idx)
		return
	}
	for cur := *head; cur != none; cur = *next(cur) {
		n := next(cur)
		if *n == idx {
			*n = *next(idx)
			return
		}
	}
}

func (r *Registry) grow() {
	size := len(r.buckets) * 2
	buckets := make([]int, size)
	for i := range buckets {
		buckets[i] = none
	}
	for idx := range r.arena {
		if r.isFree(idx) {
			continue
		}
		e := &r.arena[idx]
		bucket := bucketFor(e.ObjectID, size)
		e.hashNext = buckets[bucket]
		buckets[bucket] = idx
	}
	r.buckets = buckets
}

func (r *Registry) isFree(idx int) bool {
	e := &r.arena[idx]
	return e.Deleted && e.ObjectID == 0
}

// SetAllocMark sets the color newly registered entities are born with. The
// collector raises it to black for the duration of a mark-sweep pass, so an
// entity registered mid-pass can never be mistaken for unreachable.
func (r *Registry) SetAllocMark(mark Mark) { r.allocMark = mark }

// Count returns the number of registered entities.
func (r *Registry) Count() int { return r.count }

// CacheSize returns the total cached bytes across all live entities.
func (r *Registry) CacheSize() int64 { return r.cacheSize }

// Range visits every registered entity until fn returns false.
func (r *Registry) Range(fn func(*Entity) bool) {
	for idx := range r.arena {
		if r.isFree(idx) {
			continue
		}
		if !fn(&r.arena[idx]) {
			return
		}
	}
}

// RangeType visits the entities of one type via the type chain.
func (r *Registry) RangeType(typeID int64, fn func(*Entity) bool) {
	head, ok := r.typeHeads[typeID]
	if !ok {
		return
	}
	for idx := head; idx != none; idx = r.arena[idx].typeNext {
		if !fn(&r.arena[idx]) {
			return
		}
	}
}

// RangeFile visits the entities stored in one data file via the file chain.
func (r *Registry) RangeFile(fileNumber int64, fn func(*Entity) bool) {
	head, ok := r.fileHeads[fileNumber]
	if !ok {
		return
	}
	for idx := head; idx != none; idx = r.arena[idx].fileNext {
		if !fn(&r.arena[idx]) {
			return
		}
	}
}

// Reset drops all entities and cache accounting, for in-process restart.
func (r *Registry) Reset() {
	*r = *NewRegistry()
}
