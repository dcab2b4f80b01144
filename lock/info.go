package lock

import "time"

// Info identifies the holder of a storage directory lock. It is persisted as
// JSON inside the lock file so a foreign process (or an operator) can see who
// owns the directory.
type Info struct {
	ProcessID   int       `json:"processId"`
	InstanceID  string    `json:"instanceId"`
	Machine     string    `json:"machine"`
	User        string    `json:"user"`
	CreatedTime time.Time `json:"createdTime"`
}

// Result is the structured outcome of an acquire attempt or status probe.
// A held directory is an expected condition, not an error.
type Result struct {
	Acquired bool
	// Holder is set when the directory is locked by a live process.
	Holder *Info
	// StaleRemoved reports that a lock file of a dead process was deleted.
	StaleRemoved bool
	Error        string
}
