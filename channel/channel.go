// Package channel implements a storage channel: one independently threaded
// partition owning its entity cache, transaction log and data files. All
// channel state is guarded by the channel itself; channels share nothing.
package channel

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/viant/nebulastore/entity"
	"github.com/viant/nebulastore/layout"
	"github.com/viant/nebulastore/wal"
)

// State is the channel lifecycle phase.
type State int32

const (
	// StateCreated means the channel is constructed but housekeeping is not
	// running yet.
	StateCreated State = iota
	// StateActive means the housekeeping worker is running.
	StateActive
	// StateInactive means the channel was stopped.
	StateInactive
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	}
	return "invalid"
}

var (
	// ErrInactive indicates use of a stopped channel.
	ErrInactive = errors.New("channel: inactive")
	// ErrChunkPending indicates StoreEntities was called while a previous
	// chunk still awaits CommitChunkStorage or RollbackChunkStorage.
	ErrChunkPending = errors.New("channel: chunk storage pending")
	// ErrNoChunkPending indicates a commit/rollback without a prior store.
	ErrNoChunkPending = errors.New("channel: no chunk storage pending")
)

// RootProvider supplies the GC root object ids; the higher-level query layer
// owns root bookkeeping.
type RootProvider func() []int64

const (
	defaultRotateSize       = 1 << 30
	defaultEvictionTimeout  = int64(24 * time.Hour / time.Millisecond)
	defaultThreshold        = int64(1) << 30
	defaultInterval         = time.Second
	defaultBudget           = 50 * time.Millisecond
	cleanupLiveRatioPercent = 50
)

// Channel owns one partition of the store.
type Channel struct {
	index int32
	dir   string

	mu        sync.Mutex
	state     State
	registry  *entity.Registry
	graph     *entity.Graph
	evaluator *entity.Evaluator
	collector *entity.Collector
	log       *wal.Log
	files     *fileManager
	roots     RootProvider
	pending   *pendingChunk

	evictionCursor int
	cleanupQueue   []int64

	evictTimeoutMs, evictThreshold       int64
	interval                             time.Duration
	gcBudget, cacheBudget, cleanupBudget time.Duration
	logf                                 func(format string, args ...any)
	clock                                func() int64

	stop chan struct{}
	wg   sync.WaitGroup
}

type pendingChunk struct {
	txID       int64
	fileNumber int64
	tailBefore int64
	positions  []int64
	timestamp  int64
	items      []TransferItem
}

// Option mutates a channel at construction.
type Option func(*Channel)

// WithRotateSize sets the data file rotation threshold in bytes.
func WithRotateSize(size int64) Option {
	return func(c *Channel) { c.files.rotateSize = size }
}

// WithEviction sets the eviction timeout (ms) and cache threshold (bytes).
// The values are validated by New.
func WithEviction(timeoutMs, threshold int64) Option {
	return func(c *Channel) {
		c.evictTimeoutMs = timeoutMs
		c.evictThreshold = threshold
	}
}

// WithRootProvider sets the GC root source.
func WithRootProvider(roots RootProvider) Option {
	return func(c *Channel) { c.roots = roots }
}

// WithHousekeeping sets the pass interval and the per-pass time budgets.
func WithHousekeeping(interval, cacheBudget, gcBudget, cleanupBudget time.Duration) Option {
	return func(c *Channel) {
		c.interval = interval
		c.cacheBudget = cacheBudget
		c.gcBudget = gcBudget
		c.cleanupBudget = cleanupBudget
	}
}

// WithLogf overrides the channel logger.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(c *Channel) { c.logf = logf }
}

// WithClock overrides the logical millisecond clock, used by tests.
func WithClock(clock func() int64) Option {
	return func(c *Channel) { c.clock = clock }
}

// New constructs a channel over dir. The eviction evaluator is validated
// here: invalid timeout/threshold fail construction.
func New(dir string, index int32, opts ...Option) (*Channel, error) {
	c := &Channel{
		index:          index,
		dir:            dir,
		state:          StateCreated,
		registry:       entity.NewRegistry(),
		graph:          entity.NewGraph(),
		files:          newFileManager(dir, index, defaultRotateSize),
		evictTimeoutMs: defaultEvictionTimeout,
		evictThreshold: defaultThreshold,
		interval:       defaultInterval,
		gcBudget:       defaultBudget,
		cacheBudget:    defaultBudget,
		cleanupBudget:  defaultBudget,
		logf:           log.Printf,
		clock:          func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(c)
	}
	evaluator, err := entity.NewEvaluator(c.evictTimeoutMs, c.evictThreshold)
	if err != nil {
		return nil, err
	}
	c.evaluator = evaluator
	c.collector = entity.NewCollector(c.registry, &entity.CachedReferenceSource{
		Registry: c.registry,
		Graph:    c.graph,
	})
	if err := c.files.open(); err != nil {
		return nil, err
	}
	walLog, err := wal.Open(filepath.Join(dir, layout.LogFileName(index)), index)
	if err != nil {
		_ = c.files.close()
		return nil, err
	}
	c.log = walLog
	return c, nil
}

// Index returns the channel's partition index.
func (c *Channel) Index() int32 { return c.index }

// State returns the current lifecycle phase.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StoreEntities appends the chunk's buffers to the current data file, staged
// through the WAL, and returns the storage position of each buffer. The call
// must be paired with CommitChunkStorage or RollbackChunkStorage; together
// with the WAL that pairing is what makes a store atomic end to end.
func (c *Channel) StoreEntities(timestamp int64, chunk *TransferChunk) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateInactive {
		return nil, ErrInactive
	}
	if c.pending != nil {
		return nil, ErrChunkPending
	}
	if chunk == nil || len(chunk.Items) == 0 {
		return nil, fmt.Errorf("channel: empty chunk")
	}

	txID, err := c.log.BeginTransaction()
	if err != nil {
		return nil, err
	}
	if c.files.needsRotation() {
		fileNumber, name, err := c.files.allocateNext()
		if err != nil {
			_ = c.log.RollbackTransaction(txID)
			return nil, err
		}
		if err := c.log.LogCreateOperation(txID, fileNumber, name); err != nil {
			_ = c.log.RollbackTransaction(txID)
			return nil, err
		}
	}

	buffers := make([][]byte, len(chunk.Items))
	ids := make([]int64, len(chunk.Items))
	var total int64
	for i := range chunk.Items {
		buffers[i] = chunk.Items[i].Data
		ids[i] = chunk.Items[i].ObjectID
		total += int64(len(chunk.Items[i].Data))
	}
	fileNumber, positions, err := c.files.append(buffers)
	if err != nil {
		_ = c.log.RollbackTransaction(txID)
		return nil, err
	}
	if err := c.log.LogStoreOperation(txID, fileNumber, positions[0], total, ids); err != nil {
		_ = c.log.RollbackTransaction(txID)
		_ = c.files.truncateTo(fileNumber, positions[0])
		return nil, err
	}
	c.pending = &pendingChunk{
		txID:       txID,
		fileNumber: fileNumber,
		tailBefore: positions[0],
		positions:  positions,
		timestamp:  timestamp,
		items:      chunk.Items,
	}
	return positions, nil
}

// CommitChunkStorage makes the pending chunk durable: data file first, then
// the WAL commit marker, then the in-memory registry. It returns the
// committed WAL operation count.
func (c *Channel) CommitChunkStorage() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return 0, ErrNoChunkPending
	}
	pending := c.pending
	if err := c.files.sync(); err != nil {
		return 0, err
	}
	count, err := c.log.CommitTransaction(pending.txID)
	if err != nil {
		return 0, err
	}
	// The transaction is durable from here on; the pairing is complete even
	// if a registry update below fails, so the channel must not stay wedged
	// behind a retired pending chunk.
	c.pending = nil
	for i := range pending.items {
		item := &pending.items[i]
		e := c.registry.Ensure(item.ObjectID, item.TypeID)
		c.registry.AssignStorage(e, pending.fileNumber, pending.positions[i], int64(len(item.Data)))
		if err := c.registry.Cache(e, item.Data, pending.timestamp); err != nil {
			return count, err
		}
	}
	return count, nil
}

// RollbackChunkStorage voids the pending chunk: the WAL context is dropped
// and the data file tail restored. A data file allocated by the rolled-back
// transaction stays on disk; its create entry is void, so recovery treats
// it as garbage rather than state.
func (c *Channel) RollbackChunkStorage() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return ErrNoChunkPending
	}
	pending := c.pending
	c.pending = nil
	if err := c.log.RollbackTransaction(pending.txID); err != nil {
		return err
	}
	return c.files.truncateTo(pending.fileNumber, pending.tailBefore)
}

// CacheEntity registers an entity loaded by a collaborator and installs its
// bytes in the cache.
func (c *Channel) CacheEntity(objectID, typeID int64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateInactive {
		return ErrInactive
	}
	e := c.registry.Ensure(objectID, typeID)
	return c.registry.Cache(e, data, c.clock())
}

// LoadEntity reads a registered entity's bytes from its data file, caches
// them and returns the buffer.
func (c *Channel) LoadEntity(objectID int64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateInactive {
		return nil, ErrInactive
	}
	e := c.registry.Lookup(objectID)
	if e == nil || e.Deleted {
		return nil, fmt.Errorf("channel: unknown object %d", objectID)
	}
	if e.Live() {
		e.Touch(c.clock())
		return e.CachedData(), nil
	}
	data, err := c.files.readAt(e.FileNumber, e.StoragePosition, e.Length)
	if err != nil {
		return nil, err
	}
	if err := c.registry.Cache(e, data, c.clock()); err != nil {
		return nil, err
	}
	return e.CachedData(), nil
}

// SetReferences replaces the outgoing references of an object and flags it
// as reference-bearing for eviction weighting and GC.
func (c *Channel) SetReferences(objectID int64, refs []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, to := range c.graph.Outgoing(objectID) {
		c.graph.RemoveReference(objectID, to)
	}
	for _, to := range refs {
		c.graph.AddReference(objectID, to)
	}
	if e := c.registry.Lookup(objectID); e != nil {
		e.HasReferences = len(refs) > 0
	}
}

// DeleteEntity marks an object deleted and detaches it from the reference
// graph. The slot is reclaimed by the next GC sweep.
func (c *Channel) DeleteEntity(objectID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.registry.Lookup(objectID); e != nil {
		c.registry.MarkDeleted(e)
	}
	c.graph.RemoveObject(objectID)
}

// CollectLoadByOids gathers the cached bytes of the requested objects.
// Non-live entities are skipped and returned; loading them is the
// collaborator's job.
func (c *Channel) CollectLoadByOids(objectIDs []int64) (*TransferChunk, []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chunk := &TransferChunk{Timestamp: c.clock()}
	var skipped []int64
	for _, id := range objectIDs {
		if !c.collectOne(chunk, id) {
			skipped = append(skipped, id)
		}
	}
	return chunk, skipped
}

// CollectLoadByRoots gathers the cached bytes of everything reachable from
// the given roots.
func (c *Channel) CollectLoadByRoots(roots []int64) (*TransferChunk, []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chunk := &TransferChunk{Timestamp: c.clock()}
	var skipped []int64
	for id := range c.graph.Reachable(roots, 0) {
		if !c.collectOne(chunk, id) {
			skipped = append(skipped, id)
		}
	}
	return chunk, skipped
}

// CollectLoadByTids gathers the cached bytes of every entity of the given
// types, walking the per-type chains.
func (c *Channel) CollectLoadByTids(typeIDs []int64) (*TransferChunk, []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chunk := &TransferChunk{Timestamp: c.clock()}
	var skipped []int64
	for _, typeID := range typeIDs {
		c.registry.RangeType(typeID, func(e *entity.Entity) bool {
			if !c.collectOne(chunk, e.ObjectID) {
				skipped = append(skipped, e.ObjectID)
			}
			return true
		})
	}
	return chunk, skipped
}

func (c *Channel) collectOne(chunk *TransferChunk, objectID int64) bool {
	e := c.registry.Lookup(objectID)
	if e == nil || e.Deleted || !e.Live() {
		return false
	}
	data := make([]byte, e.CachedDataLength())
	copy(data, e.CachedData())
	chunk.Items = append(chunk.Items, TransferItem{
		ObjectID: e.ObjectID,
		TypeID:   e.TypeID,
		Data:     data,
	})
	e.Touch(chunk.Timestamp)
	return true
}

// CacheSize returns the channel's total cached bytes.
func (c *Channel) CacheSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.CacheSize()
}

// EntityCount returns the number of registered entities.
func (c *Channel) EntityCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Count()
}

// Close stops housekeeping and releases the log and data files.
func (c *Channel) Close() error {
	c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.log.Close()
	if ferr := c.files.close(); err == nil {
		err = ferr
	}
	return err
}
