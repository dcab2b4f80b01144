package channel

import (
	"time"

	"github.com/viant/nebulastore/entity"
)

// housekeepStride is how many entities are examined between deadline checks.
const housekeepStride = 64

// Run starts the channel's housekeeping worker: a ticker-driven loop running
// the cache check, garbage collection and file cleanup check, each within its
// time budget.
func (c *Channel) Run() {
	c.mu.Lock()
	if c.state != StateCreated {
		c.mu.Unlock()
		return
	}
	c.state = StateActive
	c.stop = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.housekeep()
}

func (c *Channel) housekeep() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.IssuedEntityCacheCheck(c.cacheBudget)
			c.IssuedGarbageCollection(c.gcBudget)
			c.IssuedFileCleanupCheck(c.cleanupBudget)
		}
	}
}

// Stop halts the housekeeping worker and transitions the channel to
// inactive. It blocks until the worker exits.
func (c *Channel) Stop() {
	c.mu.Lock()
	if c.state != StateActive {
		c.state = StateInactive
		c.mu.Unlock()
		return
	}
	c.state = StateInactive
	close(c.stop)
	c.mu.Unlock()
	c.wg.Wait()
}

// Reset drops all in-memory entity state and returns the channel to the
// created phase so it can be run again. Files and log stay open; a pending
// chunk must be committed or rolled back first.
func (c *Channel) Reset() error {
	c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return ErrChunkPending
	}
	c.registry.Reset()
	c.graph = entity.NewGraph()
	c.collector = entity.NewCollector(c.registry, &entity.CachedReferenceSource{
		Registry: c.registry,
		Graph:    c.graph,
	})
	c.evictionCursor = 0
	c.cleanupQueue = nil
	c.state = StateCreated
	return nil
}

// IssuedEntityCacheCheck runs one budgeted slice of the eviction pass over
// the registry. It reports whether the pass covered every entity; an
// interrupted pass resumes from its cursor on the next call.
func (c *Channel) IssuedEntityCacheCheck(budget time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := passDeadline(budget)
	now := c.clock()
	total := c.registry.CacheSize()
	steps := 0
	completed := true
	c.registry.Range(func(e *entity.Entity) bool {
		if steps < c.evictionCursor {
			steps++
			return true
		}
		if steps%housekeepStride == 0 && !deadline.IsZero() && time.Now().After(deadline) {
			completed = false
			return false
		}
		steps++
		if c.evaluator.ShouldEvict(e, total, now) {
			c.registry.Evict(e)
			total = c.registry.CacheSize()
		}
		return true
	})
	if completed {
		c.evictionCursor = 0
	} else {
		c.evictionCursor = steps
	}
	return completed
}

// IssuedGarbageCollection runs one budgeted slice of the mark-sweep pass.
// Without a root provider the pass is a no-op: every entity would be
// unreachable and swept.
func (c *Channel) IssuedGarbageCollection(budget time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roots == nil {
		return true
	}
	result, done := c.collector.Collect(c.roots(), budget)
	if result.Swept > 0 {
		c.logf("channel %d: gc swept %d entities, reclaimed %d bytes", c.index, result.Swept, result.ReclaimedBytes)
	}
	return done
}

// GCRequiresLoading returns the object ids the in-progress mark phase is
// blocked on; the collaborator loads them and the next GC slice proceeds.
func (c *Channel) GCRequiresLoading() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collector.RequiresLoading()
}

// IssuedFileCleanupCheck scans non-current data files for low live-byte
// ratios and queues compaction candidates. The queue is advisory; rewriting
// is driven by the collaborating store layer.
func (c *Channel) IssuedFileCleanupCheck(budget time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := passDeadline(budget)
	for _, number := range c.files.fileNumbers() {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		if c.files.current != nil && number == c.files.current.number {
			continue
		}
		size, ok := c.files.fileSize(number)
		if !ok || size == 0 {
			continue
		}
		var live int64
		c.registry.RangeFile(number, func(e *entity.Entity) bool {
			if !e.Deleted {
				live += e.Length
			}
			return true
		})
		if live*100/size < cleanupLiveRatioPercent {
			c.queueCleanup(number)
		}
	}
	return true
}

// CleanupQueue returns the currently queued compaction candidates.
func (c *Channel) CleanupQueue() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.cleanupQueue))
	copy(out, c.cleanupQueue)
	return out
}

func (c *Channel) queueCleanup(fileNumber int64) {
	for _, queued := range c.cleanupQueue {
		if queued == fileNumber {
			return
		}
	}
	c.cleanupQueue = append(c.cleanupQueue, fileNumber)
	c.logf("channel %d: data file %d queued for cleanup", c.index, fileNumber)
}

func passDeadline(budget time.Duration) time.Time {
	if budget <= 0 {
		return time.Time{}
	}
	return time.Now().Add(budget)
}
