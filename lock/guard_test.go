package lock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/viant/nebulastore/layout"
)

func TestAcquire_Release(t *testing.T) {
	dir := t.TempDir()
	guard, result := Acquire(dir)
	if guard == nil || !result.Acquired {
		t.Fatalf("acquire: %+v", result)
	}
	path := filepath.Join(dir, layout.LockFileName)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file: %v", err)
	}
	if guard.Info().ProcessID != os.Getpid() {
		t.Fatalf("pid: %d", guard.Info().ProcessID)
	}
	if err := guard.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	// The lock file outlives release; the cleared record marks it free.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file gone after release: %v", err)
	}
	info, alive, err := Status(dir)
	if err != nil || info != nil || alive {
		t.Fatalf("status after release: %v %v %v", info, alive, err)
	}
	// Idempotent.
	if err := guard.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}

	reacquired, result := Acquire(dir)
	if reacquired == nil || !result.Acquired {
		t.Fatalf("reacquire: %+v", result)
	}
	defer reacquired.Close()
}

func TestAcquire_MutualExclusion(t *testing.T) {
	dir := t.TempDir()
	first, result := Acquire(dir)
	if first == nil {
		t.Fatalf("first acquire: %+v", result)
	}
	defer first.Close()

	second, result2 := Acquire(dir)
	if second != nil || result2.Acquired {
		t.Fatalf("second acquire succeeded while holder alive")
	}
	if result2.Holder == nil || result2.Holder.ProcessID != os.Getpid() {
		t.Fatalf("holder: %+v", result2.Holder)
	}
}

func TestAcquire_ReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, layout.LockFileName)
	stale := Info{
		ProcessID:   1 << 22, // beyond any plausible live pid in the test env
		InstanceID:  "dead",
		Machine:     "elsewhere",
		User:        "nobody",
		CreatedTime: time.Now().Add(-time.Hour),
	}
	payload, _ := json.Marshal(&stale)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	guard, result := Acquire(dir)
	if guard == nil || !result.Acquired {
		t.Fatalf("acquire over stale lock: %+v", result)
	}
	defer guard.Close()
	if !result.StaleRemoved {
		t.Fatalf("stale reclaim not reported")
	}
	// Reclaiming never swaps the file out: exclusivity lives on the one
	// inode, so a racing second acquire must hit the held flock.
	if info, _, err := Status(dir); err != nil || info == nil || info.ProcessID != os.Getpid() {
		t.Fatalf("record after reclaim: %+v %v", info, err)
	}
	second, result2 := Acquire(dir)
	if second != nil || result2.Acquired {
		t.Fatalf("acquire raced past reclaimed lock: %+v", result2)
	}
	if result2.Holder == nil || result2.Holder.ProcessID != os.Getpid() {
		t.Fatalf("holder after reclaim: %+v", result2.Holder)
	}
}

func TestAcquire_MalformedLockRefused(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, layout.LockFileName)
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	guard, result := Acquire(dir)
	if guard != nil || result.Acquired {
		t.Fatalf("acquired over malformed lock")
	}
	if result.Error == "" {
		t.Fatalf("missing error: %+v", result)
	}
	// Refusal must not leave the flock held.
	retry, result2 := Acquire(dir)
	if retry != nil || result2.Acquired {
		t.Fatalf("malformed lock accepted on retry")
	}
	if result2.Error == "" {
		t.Fatalf("retry error: %+v", result2)
	}
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()
	info, alive, err := Status(dir)
	if err != nil || info != nil || alive {
		t.Fatalf("empty status: %v %v %v", info, alive, err)
	}
	guard, _ := Acquire(dir)
	defer guard.Close()
	info, alive, err = Status(dir)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if info == nil || info.ProcessID != os.Getpid() || !alive {
		t.Fatalf("status while held: %+v alive=%v", info, alive)
	}
}
