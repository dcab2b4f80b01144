// Package lock provides process-level exclusive access to a storage
// directory via the .nebulastore.lock file. Exclusivity comes from an
// advisory flock on that one stable file, never removed once created, so two
// processes always contend on the same inode. The JSON record inside names
// the holder for diagnostics; the flock itself dies with its process, which
// is what makes a crashed holder's lock reclaimable.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viant/nebulastore/layout"
)

// Guard holds an acquired directory lock until released.
type Guard struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	info     Info
	released bool
}

// Acquire attempts to take exclusive ownership of the storage directory.
// A live holder is reported through the result, never as a panic or error; a
// record left by a dead holder is overwritten in place under the flock.
func Acquire(dir string) (*Guard, *Result) {
	result := &Result{}
	path := filepath.Join(dir, layout.LockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		result.Error = fmt.Sprintf("lock: open %s: %v", path, err)
		return nil, result
	}
	if err := tryLockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errWouldBlock) {
			if info, rerr := readInfo(path); rerr == nil {
				result.Holder = info
			}
			return nil, result
		}
		result.Error = fmt.Sprintf("lock: flock %s: %v", path, err)
		return nil, result
	}

	// The flock is held; any record inside belongs to a holder that no
	// longer exists. A record that cannot be parsed is still refused: an
	// unreadable lock file warrants operator attention, not silent reuse.
	existing, err := readInfo(path)
	if err != nil {
		_ = unlockFile(f)
		_ = f.Close()
		result.Error = err.Error()
		return nil, result
	}
	if existing != nil {
		result.StaleRemoved = true
	}

	info := Info{
		ProcessID:   os.Getpid(),
		InstanceID:  uuid.New().String(),
		Machine:     hostname(),
		User:        userName(),
		CreatedTime: time.Now(),
	}
	payload, err := json.MarshalIndent(&info, "", "  ")
	if err == nil {
		err = f.Truncate(0)
	}
	if err == nil {
		_, err = f.WriteAt(payload, 0)
	}
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		_ = unlockFile(f)
		_ = f.Close()
		result.Error = fmt.Sprintf("lock: write %s: %v", path, err)
		return nil, result
	}

	result.Acquired = true
	return &Guard{path: path, f: f, info: info}, result
}

// Info returns the recorded holder identity of this guard.
func (g *Guard) Info() Info { return g.info }

// Release clears the holder record and drops the flock. The lock file itself
// stays on disk: removing it would let two waiters lock different inodes of
// the same path. Release is idempotent.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return nil
	}
	g.released = true
	if err := g.f.Truncate(0); err != nil {
		_ = unlockFile(g.f)
		_ = g.f.Close()
		return fmt.Errorf("lock: clear %s: %w", g.path, err)
	}
	_ = unlockFile(g.f)
	if err := g.f.Close(); err != nil {
		return fmt.Errorf("lock: close %s: %w", g.path, err)
	}
	return nil
}

// Close releases the lock if still held, satisfying io.Closer for
// defer-based disposal.
func (g *Guard) Close() error { return g.Release() }

// Status inspects the directory lock without mutating anything. It reports
// the recorded holder and whether that process is currently alive.
func Status(dir string) (info *Info, alive bool, err error) {
	path := filepath.Join(dir, layout.LockFileName)
	info, err = readInfo(path)
	if err != nil {
		return nil, false, err
	}
	if info == nil {
		return nil, false, nil
	}
	return info, processAlive(info.ProcessID), nil
}

// readInfo returns the recorded holder, nil when the file is absent or was
// cleared by an orderly release.
func readInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	info := &Info{}
	if err := json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("lock: malformed %s: %w", path, err)
	}
	return info, nil
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

func userName() string {
	current, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return current.Username
}
