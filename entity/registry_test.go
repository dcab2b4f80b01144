package entity

import "testing"

func TestRegistry_EnsureLookup(t *testing.T) {
	r := NewRegistry()
	e := r.Ensure(100, 7)
	if e2 := r.Ensure(100, 7); e2.ObjectID != 100 {
		t.Fatalf("re-ensure: %+v", e2)
	}
	if r.Count() != 1 {
		t.Fatalf("count: %d", r.Count())
	}
	if got := r.Lookup(100); got == nil || got.TypeID != 7 {
		t.Fatalf("lookup: %+v", got)
	}
	if r.Lookup(101) != nil {
		t.Fatalf("phantom lookup")
	}
	_ = e
}

func TestRegistry_CacheEvictAccounting(t *testing.T) {
	r := NewRegistry()
	e := r.Ensure(1, 1)
	if err := r.Cache(e, make([]byte, 128), 5); err != nil {
		t.Fatalf("cache: %v", err)
	}
	if !e.Live() || e.CachedDataLength() != 128 || r.CacheSize() != 128 {
		t.Fatalf("live state: len=%d total=%d", e.CachedDataLength(), r.CacheSize())
	}
	if e.LastTouched != 5 {
		t.Fatalf("touch: %d", e.LastTouched)
	}
	r.Evict(e)
	if e.Live() || e.CachedDataLength() != 0 || r.CacheSize() != 0 {
		t.Fatalf("evicted state: len=%d total=%d", e.CachedDataLength(), r.CacheSize())
	}
	// Evicted entities stay registered.
	if r.Lookup(1) == nil {
		t.Fatalf("evicted entity deregistered")
	}
}

func TestRegistry_DeletedEntityRejectsCache(t *testing.T) {
	r := NewRegistry()
	e := r.Ensure(1, 1)
	_ = r.Cache(e, []byte("abc"), 1)
	r.MarkDeleted(e)
	if e.CachedDataLength() != 0 || e.Live() {
		t.Fatalf("deleted entity retains buffer")
	}
	if err := r.Cache(e, []byte("xyz"), 2); err == nil {
		t.Fatalf("cache on deleted entity succeeded")
	}
}

func TestRegistry_TypeAndFileChains(t *testing.T) {
	r := NewRegistry()
	for id := int64(1); id <= 6; id++ {
		typeID := id % 2
		e := r.Ensure(id, typeID)
		r.AssignStorage(e, id%3, id*100, 10)
	}
	countType := func(typeID int64) int {
		n := 0
		r.RangeType(typeID, func(*Entity) bool { n++; return true })
		return n
	}
	countFile := func(fileNumber int64) int {
		n := 0
		r.RangeFile(fileNumber, func(*Entity) bool { n++; return true })
		return n
	}
	if countType(0) != 3 || countType(1) != 3 {
		t.Fatalf("type chains: %d/%d", countType(0), countType(1))
	}
	if countFile(0) != 2 || countFile(1) != 2 || countFile(2) != 2 {
		t.Fatalf("file chains: %d/%d/%d", countFile(0), countFile(1), countFile(2))
	}

	if !r.Deregister(3) {
		t.Fatalf("deregister failed")
	}
	if countType(1) != 2 {
		t.Fatalf("type chain after deregister: %d", countType(1))
	}
	if countFile(0) != 1 {
		t.Fatalf("file chain after deregister: %d", countFile(0))
	}
	if r.Lookup(3) != nil {
		t.Fatalf("deregistered entity still resolvable")
	}
}

func TestRegistry_FileRelink(t *testing.T) {
	r := NewRegistry()
	e := r.Ensure(1, 1)
	r.AssignStorage(e, 1, 0, 50)
	r.AssignStorage(r.Lookup(1), 2, 100, 50)
	inFile1, inFile2 := 0, 0
	r.RangeFile(1, func(*Entity) bool { inFile1++; return true })
	r.RangeFile(2, func(*Entity) bool { inFile2++; return true })
	if inFile1 != 0 || inFile2 != 1 {
		t.Fatalf("relink: file1=%d file2=%d", inFile1, inFile2)
	}
}

func TestRegistry_SlotReuseAndGrowth(t *testing.T) {
	r := NewRegistry()
	for id := int64(1); id <= 5000; id++ {
		r.Ensure(id, 1)
	}
	for id := int64(1); id <= 2500; id++ {
		r.Deregister(id)
	}
	for id := int64(10001); id <= 12500; id++ {
		r.Ensure(id, 2)
	}
	if r.Count() != 5000 {
		t.Fatalf("count: %d", r.Count())
	}
	if r.Lookup(1) != nil || r.Lookup(2500) != nil {
		t.Fatalf("deregistered ids resolvable")
	}
	if r.Lookup(5000) == nil || r.Lookup(12500) == nil {
		t.Fatalf("surviving ids lost")
	}
}

func TestRegistry_Reset(t *testing.T) {
	r := NewRegistry()
	e := r.Ensure(1, 1)
	_ = r.Cache(e, []byte("abc"), 1)
	r.Reset()
	if r.Count() != 0 || r.CacheSize() != 0 || r.Lookup(1) != nil {
		t.Fatalf("reset incomplete")
	}
}
