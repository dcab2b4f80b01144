package entity

import "fmt"

// Evaluator decides which cached entities to uncache. Age is scaled down by
// 2^16 (roughly minutes) so freshly loaded entities get a grace period, and
// entities without outgoing references weigh double since the reachability
// walk never needs them.
type Evaluator struct {
	timeoutMs int64
	threshold int64
}

// NewEvaluator validates and builds an eviction evaluator. Both parameters
// must be at least 1.
func NewEvaluator(timeoutMs, threshold int64) (*Evaluator, error) {
	if timeoutMs < 1 {
		return nil, fmt.Errorf("entity: eviction timeout must be >= 1, got %d", timeoutMs)
	}
	if threshold < 1 {
		return nil, fmt.Errorf("entity: eviction threshold must be >= 1, got %d", threshold)
	}
	return &Evaluator{timeoutMs: timeoutMs, threshold: threshold}, nil
}

// Timeout returns the configured age cutoff in milliseconds.
func (ev *Evaluator) Timeout() int64 { return ev.timeoutMs }

// Threshold returns the configured cache size threshold in bytes.
func (ev *Evaluator) Threshold() int64 { return ev.threshold }

// ShouldEvict applies the eviction heuristic to one entity given the total
// cache size and evaluation time. The age shift must stay SIGNED: an entity
// touched "in the future" yields a negative age, and an unsigned shift would
// turn that into an enormous positive weight.
//
// ShouldEvict runs on the housekeeping goroutine and must never panic out of
// it; any internal fault is absorbed and reported as "keep".
func (ev *Evaluator) ShouldEvict(e *Entity, totalCacheSize, evalTime int64) (evict bool) {
	defer func() {
		if recover() != nil {
			evict = false
		}
	}()
	if !e.Live() || e.Deleted {
		return false
	}
	age := evalTime - e.LastTouched
	if age >= ev.timeoutMs {
		return true
	}
	weight := e.CachedDataLength() * (age >> 16)
	if !e.HasReferences {
		weight <<= 1
	}
	return (ev.threshold - totalCacheSize) < weight
}
