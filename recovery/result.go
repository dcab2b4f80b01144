package recovery

import "fmt"

// Status classifies the outcome of a recovery run.
type Status string

const (
	// StatusNoRecoveryNeeded means no transaction logs were found.
	StatusNoRecoveryNeeded Status = "NoRecoveryNeeded"
	// StatusConsistentState means logs existed and everything they promised
	// is physically present.
	StatusConsistentState Status = "ConsistentState"
	// StatusRecoveryPerformed means void transactions were discarded and/or
	// inconsistent files were quarantined.
	StatusRecoveryPerformed Status = "RecoveryPerformed"
	// StatusRecoveryFailed means recovery itself faulted; storage must not
	// be opened.
	StatusRecoveryFailed Status = "RecoveryFailed"
)

// Result is the structured outcome of a recovery run. Expected conditions
// (uncommitted transactions, undersized files) are data here, not errors.
type Result struct {
	Status                  Status
	LogFiles                int
	TotalTransactions       int
	CommittedTransactions   int
	UncommittedTransactions int
	InconsistentFiles       []string
	Actions                 []string
	Error                   string
}

// OK reports whether the caller may proceed to open storage.
func (r *Result) OK() bool {
	return r.Status != StatusRecoveryFailed
}

func (r *Result) addAction(format string, args ...any) {
	r.Actions = append(r.Actions, fmt.Sprintf(format, args...))
}
