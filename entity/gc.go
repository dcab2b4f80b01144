package entity

import "time"

// ReferenceSource supplies outgoing reference ids during marking.
type ReferenceSource interface {
	// OutgoingReferences returns the outgoing ids of objectID. ok is false
	// when the references are not materialized yet (the entity requires
	// loading); the collector re-parks the object and retries after the
	// collaborating loader had a chance to run.
	OutgoingReferences(objectID int64) (refs []int64, ok bool)
}

// CachedReferenceSource answers from the reference graph, reporting
// "requires loading" for entities whose references exist but whose bytes are
// not cached.
type CachedReferenceSource struct {
	Registry *Registry
	Graph    *Graph
}

// OutgoingReferences implements ReferenceSource.
func (s *CachedReferenceSource) OutgoingReferences(objectID int64) ([]int64, bool) {
	e := s.Registry.Lookup(objectID)
	if e == nil || !e.HasReferences {
		return nil, true
	}
	if !e.Live() {
		return nil, false
	}
	return s.Graph.Outgoing(objectID), true
}

// RemoveObject implements referencePruner: a swept object's adjacency must
// not outlive it.
func (s *CachedReferenceSource) RemoveObject(objectID int64) {
	s.Graph.RemoveObject(objectID)
}

// referencePruner is implemented by reference sources that keep adjacency
// state of their own; the collector prunes swept ids through it.
type referencePruner interface {
	RemoveObject(objectID int64)
}

// Collector is the resumable tri-color mark-sweep garbage collector of one
// channel. Color state lives on the entities, the gray work list and sweep
// cursor on the collector, so a pass interrupted by its time budget continues
// later without re-walking from the roots.
type Collector struct {
	registry *Registry
	refs     ReferenceSource

	gray        []int64
	parked      []int64
	marking     bool
	sweepCursor int
	sweeping    bool
}

// NewCollector creates a collector over the registry and reference source.
func NewCollector(registry *Registry, refs ReferenceSource) *Collector {
	return &Collector{registry: registry, refs: refs}
}

// budgetStride is how many units of work run between deadline checks.
const budgetStride = 64

// BeginMark whitens every entity and seeds the gray list from the root set.
// Unknown root ids are ignored; the higher layer owns root bookkeeping.
func (c *Collector) BeginMark(roots []int64) {
	c.registry.Range(func(e *Entity) bool {
		e.Mark = MarkWhite
		return true
	})
	c.gray = c.gray[:0]
	c.parked = c.parked[:0]
	for _, root := range roots {
		if e := c.registry.Lookup(root); e != nil && e.Mark == MarkWhite && !e.Deleted {
			e.Mark = MarkGray
			c.gray = append(c.gray, root)
		}
	}
	c.marking = true
	c.sweeping = false
	c.sweepCursor = 0
	// Entities registered while the pass is in flight are born black: a
	// freshly committed object has no mark history, and sweeping it would
	// violate the rule that only proven-unreachable entities are reclaimed.
	c.registry.SetAllocMark(MarkBlack)
}

// Marking reports whether a mark phase is in progress.
func (c *Collector) Marking() bool { return c.marking }

// MarkStep advances the mark phase until the deadline. It returns true once
// no gray or parked objects remain; false means the budget ran out or some
// objects still require loading.
func (c *Collector) MarkStep(deadline time.Time) bool {
	if !c.marking {
		return true
	}
	// Parked objects get another chance each step; a collaborator may have
	// loaded them since.
	if len(c.gray) == 0 && len(c.parked) > 0 {
		c.gray, c.parked = c.parked, c.gray[:0]
	}
	steps := 0
	for len(c.gray) > 0 {
		if steps%budgetStride == 0 && !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		steps++
		id := c.gray[len(c.gray)-1]
		c.gray = c.gray[:len(c.gray)-1]
		e := c.registry.Lookup(id)
		if e == nil || e.Deleted {
			continue
		}
		refs, ok := c.refs.OutgoingReferences(id)
		if !ok {
			c.parked = append(c.parked, id)
			continue
		}
		for _, to := range refs {
			target := c.registry.Lookup(to)
			if target == nil || target.Deleted || target.Mark != MarkWhite {
				continue
			}
			target.Mark = MarkGray
			c.gray = append(c.gray, to)
		}
		e.Mark = MarkBlack
	}
	if len(c.parked) > 0 {
		return false
	}
	c.marking = false
	return true
}

// RequiresLoading returns the object ids the mark phase is blocked on.
func (c *Collector) RequiresLoading() []int64 {
	out := make([]int64, len(c.parked))
	copy(out, c.parked)
	return out
}

// SweepResult accounts one sweep slice.
type SweepResult struct {
	Swept          int
	ReclaimedBytes int64
	Done           bool
}

// Sweep deregisters entities still white after a completed mark phase. It is
// budget-bounded and resumable via the sweep cursor; swept entities are
// terminal and never resurrected.
func (c *Collector) Sweep(deadline time.Time) SweepResult {
	result := SweepResult{}
	if c.marking {
		return result
	}
	if !c.sweeping {
		c.sweeping = true
		c.sweepCursor = 0
	}
	var victims []int64
	var reclaimed int64
	steps := 0
	completed := true
	c.registry.Range(func(e *Entity) bool {
		if steps < c.sweepCursor {
			steps++
			return true
		}
		if steps%budgetStride == 0 && !deadline.IsZero() && time.Now().After(deadline) {
			completed = false
			return false
		}
		steps++
		if e.Mark == MarkWhite && !e.Deleted {
			victims = append(victims, e.ObjectID)
			reclaimed += e.Length
		}
		return true
	})
	// Deregistering compacts chains but not arena ordinals of survivors that
	// precede the cursor, so the cursor only ever under-counts and re-visits
	// already-black entities, never skips white ones.
	c.sweepCursor = steps - len(victims)
	if c.sweepCursor < 0 {
		c.sweepCursor = 0
	}
	pruner, _ := c.refs.(referencePruner)
	for _, id := range victims {
		c.registry.Deregister(id)
		if pruner != nil {
			pruner.RemoveObject(id)
		}
	}
	result.Swept = len(victims)
	result.ReclaimedBytes = reclaimed
	if !completed {
		return result
	}
	c.sweeping = false
	c.sweepCursor = 0
	c.registry.SetAllocMark(MarkWhite)
	result.Done = true
	return result
}

// Collect runs a full mark-sweep within budget from the given roots. It
// reports whether the pass finished; an unfinished pass resumes on the next
// call with the same collector.
func (c *Collector) Collect(roots []int64, budget time.Duration) (SweepResult, bool) {
	deadline := time.Time{}
	if budget > 0 {
		deadline = time.Now().Add(budget)
	}
	if !c.marking && !c.sweeping {
		c.BeginMark(roots)
	}
	if c.marking {
		if !c.MarkStep(deadline) {
			return SweepResult{}, false
		}
	}
	result := c.Sweep(deadline)
	return result, result.Done
}
