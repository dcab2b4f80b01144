//go:build !windows

package lock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processAlive probes the pid with a null signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, unix.EPERM)
}
