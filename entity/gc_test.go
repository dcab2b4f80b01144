package entity

import (
	"testing"
	"time"
)

type graphSource struct{ g *Graph }

func (s graphSource) OutgoingReferences(objectID int64) ([]int64, bool) {
	return s.g.Outgoing(objectID), true
}

func buildRegistry(t *testing.T, g *Graph, ids ...int64) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, id := range ids {
		e := r.Ensure(id, 1)
		e.Length = 100
		e.HasReferences = len(g.Outgoing(id)) > 0
	}
	// HasReferences depends on edges added before entities; fix up.
	for _, id := range ids {
		r.Lookup(id).HasReferences = len(g.Outgoing(id)) > 0
	}
	return r
}

func TestCollector_SweepsUnreachable(t *testing.T) {
	g := NewGraph()
	g.AddReference(1, 2)
	g.AddReference(2, 3)
	g.AddReference(10, 11) // unreachable island
	r := buildRegistry(t, g, 1, 2, 3, 10, 11, 20)

	c := NewCollector(r, graphSource{g})
	result, done := c.Collect([]int64{1}, 0)
	if !done {
		t.Fatalf("unbudgeted pass did not finish")
	}
	if result.Swept != 3 {
		t.Fatalf("swept: got %d, want 3", result.Swept)
	}
	for _, id := range []int64{1, 2, 3} {
		e := r.Lookup(id)
		if e == nil {
			t.Fatalf("reachable %d swept", id)
		}
		if e.Mark == MarkWhite {
			t.Fatalf("reachable %d still white", id)
		}
	}
	for _, id := range []int64{10, 11, 20} {
		if r.Lookup(id) != nil {
			t.Fatalf("unreachable %d survived", id)
		}
	}
}

func TestCollector_MatchesBFSReachability(t *testing.T) {
	g := NewGraph()
	edges := [][2]int64{{1, 2}, {2, 3}, {3, 1}, {3, 4}, {5, 6}, {6, 5}, {7, 7}}
	for _, e := range edges {
		g.AddReference(e[0], e[1])
	}
	ids := []int64{1, 2, 3, 4, 5, 6, 7, 8}
	r := buildRegistry(t, g, ids...)

	roots := []int64{1}
	reachable := g.Reachable(roots, 0)
	c := NewCollector(r, graphSource{g})
	if _, done := c.Collect(roots, 0); !done {
		t.Fatalf("pass did not finish")
	}
	for _, id := range ids {
		_, isReachable := reachable[id]
		survived := r.Lookup(id) != nil
		if isReachable != survived {
			t.Fatalf("object %d: reachable=%v survived=%v", id, isReachable, survived)
		}
	}
}

func TestCollector_ResumableUnderBudget(t *testing.T) {
	g := NewGraph()
	var ids []int64
	for i := int64(1); i <= 2000; i++ {
		ids = append(ids, i)
		if i > 1 {
			g.AddReference(i-1, i)
		}
	}
	// Half the population unreachable.
	for i := int64(10001); i <= 12000; i++ {
		ids = append(ids, i)
	}
	r := buildRegistry(t, g, ids...)
	c := NewCollector(r, graphSource{g})

	total := 0
	finished := false
	for i := 0; i < 10_000 && !finished; i++ {
		var result SweepResult
		result, finished = c.Collect([]int64{1}, time.Microsecond)
		total += result.Swept
	}
	if !finished {
		t.Fatalf("incremental collection never finished")
	}
	if total != 2000 {
		t.Fatalf("swept: got %d, want 2000", total)
	}
	if r.Lookup(2000) == nil || r.Lookup(1) == nil {
		t.Fatalf("reachable chain damaged")
	}
}

func TestCollector_RequiresLoadingParksAndResumes(t *testing.T) {
	g := NewGraph()
	g.AddReference(1, 2)
	r := buildRegistry(t, g, 1, 2, 3)
	r.Lookup(1).HasReferences = true

	src := &CachedReferenceSource{Registry: r, Graph: g}
	c := NewCollector(r, src)
	c.BeginMark([]int64{1})

	// Entity 1 has references but no cached bytes: marking must park it
	// rather than finish.
	if c.MarkStep(time.Time{}) {
		t.Fatalf("mark finished with unloaded entity")
	}
	pending := c.RequiresLoading()
	if len(pending) != 1 || pending[0] != 1 {
		t.Fatalf("pending: %v", pending)
	}

	if err := r.Cache(r.Lookup(1), []byte("payload"), 1); err != nil {
		t.Fatalf("cache: %v", err)
	}
	if !c.MarkStep(time.Time{}) {
		t.Fatalf("mark did not finish after load")
	}
	result := c.Sweep(time.Time{})
	if !result.Done || result.Swept != 1 {
		t.Fatalf("sweep: %+v", result)
	}
	if r.Lookup(2) == nil {
		t.Fatalf("referenced entity swept")
	}
	if r.Lookup(3) != nil {
		t.Fatalf("unreachable entity survived")
	}
}

func TestCollector_MidPassRegistrationSurvivesSweep(t *testing.T) {
	g := NewGraph()
	var ids []int64
	for i := int64(1); i <= 100; i++ {
		ids = append(ids, i)
	}
	r := buildRegistry(t, g, ids...)
	src := &CachedReferenceSource{Registry: r, Graph: g}
	c := NewCollector(r, src)

	c.BeginMark([]int64{1})
	if !c.MarkStep(time.Time{}) {
		t.Fatalf("mark did not finish")
	}
	// First sweep slice exhausts its budget before making any progress.
	if result := c.Sweep(time.Now().Add(-time.Hour)); result.Done {
		t.Fatalf("expired sweep slice reported done")
	}

	// A commit lands mid-pass: a new entity, cached and referenced by the
	// root. It has no mark history and must not be treated as unreachable.
	e := r.Ensure(1000, 1)
	if err := r.Cache(e, []byte("fresh"), 1); err != nil {
		t.Fatalf("cache: %v", err)
	}
	g.AddReference(1, 1000)
	r.Lookup(1).HasReferences = true

	result := c.Sweep(time.Time{})
	if !result.Done {
		t.Fatalf("resumed sweep did not finish")
	}
	if r.Lookup(1000) == nil {
		t.Fatalf("entity registered mid-pass was swept")
	}
	if r.Lookup(1) == nil {
		t.Fatalf("root swept")
	}
	if result.Swept != 99 {
		t.Fatalf("swept: got %d, want 99", result.Swept)
	}
	// Once the pass completes, registration reverts to the normal color.
	if got := r.Ensure(2000, 1).Mark; got != MarkWhite {
		t.Fatalf("allocation mark after pass: %v", got)
	}
}

func TestCollector_SweepPrunesReferenceGraph(t *testing.T) {
	g := NewGraph()
	g.AddReference(10, 11)
	g.AddReference(11, 10)
	g.AddReference(10, 1)
	r := buildRegistry(t, g, 1, 10, 11)

	c := NewCollector(r, &CachedReferenceSource{Registry: r, Graph: g})
	if _, done := c.Collect([]int64{1}, 0); !done {
		t.Fatalf("collect did not finish")
	}
	if r.Lookup(10) != nil || r.Lookup(11) != nil {
		t.Fatalf("unreachable island survived")
	}
	// The swept objects' adjacency must go with them, both directions.
	if got := g.Incoming(1); len(got) != 0 {
		t.Fatalf("stale incoming edges on survivor: %v", got)
	}
	if got := g.Outgoing(10); len(got) != 0 {
		t.Fatalf("stale outgoing edges on swept object: %v", got)
	}
	if g.HasReference(11, 10) {
		t.Fatalf("edge between swept objects retained")
	}
}

func TestCollector_SweptNeverResurrected(t *testing.T) {
	g := NewGraph()
	r := buildRegistry(t, g, 1, 2)
	c := NewCollector(r, graphSource{g})
	if _, done := c.Collect([]int64{1}, 0); !done {
		t.Fatalf("collect did not finish")
	}
	if r.Lookup(2) != nil {
		t.Fatalf("object 2 should be swept")
	}
	// Re-running with the same roots must be stable.
	if result, done := c.Collect([]int64{1}, 0); !done || result.Swept != 0 {
		t.Fatalf("second pass: %+v done=%v", result, done)
	}
}
