// Package recovery validates the durable state of a storage directory after
// a crash. It runs once at startup, before any channel accepts work: it
// replays each channel's transaction log, discards transactions without a
// commit marker, checks that committed writes are physically present, and
// quarantines whatever cannot be trusted.
package recovery

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/viant/nebulastore/layout"
	"github.com/viant/nebulastore/wal"
)

// Runner drives crash recovery over one storage directory.
type Runner struct {
	dir   string
	logf  func(format string, args ...any)
	clock func() time.Time
}

// Option mutates a Runner.
type Option func(*Runner)

// WithLogf overrides the progress logger.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(r *Runner) { r.logf = logf }
}

// WithClock overrides the quarantine/archive timestamp clock, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) { r.clock = clock }
}

// New creates a recovery runner for the storage directory.
func New(dir string, opts ...Option) *Runner {
	r := &Runner{dir: dir, logf: log.Printf, clock: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the recovery procedure. Expected storage conditions are
// reported through the result, never as an error; an unexpected fault is
// caught at this level and surfaced as StatusRecoveryFailed so the caller
// can refuse to open storage.
func (r *Runner) Run() (result *Result) {
	result = &Result{Status: StatusNoRecoveryNeeded}
	defer func() {
		if rec := recover(); rec != nil {
			result.Status = StatusRecoveryFailed
			result.Error = fmt.Sprintf("recovery: unexpected fault: %v", rec)
		}
	}()

	logs, err := r.discoverLogs()
	if err != nil {
		result.Status = StatusRecoveryFailed
		result.Error = err.Error()
		return result
	}
	if len(logs) == 0 {
		return result
	}
	result.LogFiles = len(logs)

	expected := map[string]int64{}
	for _, logPath := range logs {
		r.processLog(logPath, result, expected)
	}

	r.validateDataFiles(expected, result)

	// Processed logs are always archived: their durable effects have been
	// accounted and a stale log must not be replayed twice.
	now := r.clock()
	for _, logPath := range logs {
		archived := layout.ArchiveName(logPath, now)
		if err := os.Rename(logPath, archived); err != nil {
			result.Status = StatusRecoveryFailed
			result.Error = fmt.Sprintf("archive %s: %v", filepath.Base(logPath), err)
			return result
		}
		result.addAction("archived log %s -> %s", filepath.Base(logPath), filepath.Base(archived))
	}

	switch {
	case result.Status == StatusRecoveryFailed:
	case len(result.InconsistentFiles) > 0 || result.UncommittedTransactions > 0:
		result.Status = StatusRecoveryPerformed
	default:
		result.Status = StatusConsistentState
	}
	r.logf("recovery dir=%s status=%s logs=%d tx=%d committed=%d uncommitted=%d inconsistent=%d",
		r.dir, result.Status, result.LogFiles, result.TotalTransactions,
		result.CommittedTransactions, result.UncommittedTransactions, len(result.InconsistentFiles))
	return result
}

func (r *Runner) discoverLogs() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("recovery: read dir %s: %w", r.dir, err)
	}
	var logs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := layout.IsLogFile(entry.Name()); ok {
			logs = append(logs, filepath.Join(r.dir, entry.Name()))
		}
	}
	sort.Strings(logs)
	return logs, nil
}

// processLog parses one channel log, groups entries by transaction and
// accumulates expected data-file sizes for committed transactions only.
func (r *Runner) processLog(logPath string, result *Result, expected map[string]int64) {
	entries, truncated, err := wal.ParseFile(logPath)
	if err != nil {
		panic(err)
	}
	if truncated {
		// Tail damage from an in-flight crash; the valid prefix is
		// authoritative, nothing after it is read.
		result.addAction("log %s: corrupt tail, read %d valid entries", filepath.Base(logPath), len(entries))
	}

	type group struct {
		committed bool
		entries   []wal.Entry
	}
	groups := map[int64]*group{}
	var order []int64
	for _, e := range entries {
		g, ok := groups[e.TransactionID]
		if !ok {
			g = &group{}
			groups[e.TransactionID] = g
			order = append(order, e.TransactionID)
		}
		if e.Type == wal.EntryCommit {
			g.committed = true
		} else {
			g.entries = append(g.entries, e)
		}
	}

	for _, txID := range order {
		g := groups[txID]
		result.TotalTransactions++
		if !g.committed {
			// Void by definition: contributes no file-size obligations.
			result.UncommittedTransactions++
			result.addAction("log %s: discarded uncommitted tx=%d (%d entries)",
				filepath.Base(logPath), txID, len(g.entries))
			continue
		}
		result.CommittedTransactions++
		for _, e := range g.entries {
			name := r.dataFileName(e)
			if name == "" {
				continue
			}
			// Even a create with no stored bytes obliges the file to exist.
			if _, ok := expected[name]; !ok {
				expected[name] = 0
			}
			if end := e.Offset + e.Length; end > expected[name] {
				expected[name] = end
			}
		}
	}
}

func (r *Runner) dataFileName(e wal.Entry) string {
	switch e.Type {
	case wal.EntryStore:
		return layout.DataFileName(e.ChannelIndex, e.FileNumber)
	case wal.EntryCreate:
		if e.Path != "" {
			return filepath.Base(e.Path)
		}
		return layout.DataFileName(e.ChannelIndex, e.FileNumber)
	}
	return ""
}

// validateDataFiles compares expected byte coverage against the physical
// files and quarantines anything missing or undersized. Replay-based
// reconstruction of such files is a future extension; recovery only makes
// the damage explicit.
func (r *Runner) validateDataFiles(expected map[string]int64, result *Result) {
	names := make([]string, 0, len(expected))
	for name := range expected {
		names = append(names, name)
	}
	sort.Strings(names)
	now := r.clock()
	for _, name := range names {
		want := expected[name]
		path := filepath.Join(r.dir, name)
		info, err := os.Stat(path)
		switch {
		case os.IsNotExist(err):
			result.InconsistentFiles = append(result.InconsistentFiles, name)
			result.addAction("data file %s missing (expected >= %d bytes)", name, want)
			continue
		case err != nil:
			panic(err)
		case info.Size() >= want:
			continue
		}
		result.InconsistentFiles = append(result.InconsistentFiles, name)
		quarantined := layout.QuarantineName(path, now)
		if err := os.Rename(path, quarantined); err != nil {
			panic(err)
		}
		result.addAction("quarantined undersized %s (%d < %d bytes) -> %s",
			name, info.Size(), want, filepath.Base(quarantined))
	}
}
