package integrity

// Status classifies an integrity scan.
type Status string

const (
	// StatusIntact means every managed file matched its baseline and passed
	// its structural check.
	StatusIntact Status = "Intact"
	// StatusPartiallyCorrupted means exactly one of the data/log categories
	// has invalid files.
	StatusPartiallyCorrupted Status = "PartiallyCorrupted"
	// StatusSeverelyCorrupted means both categories have invalid files.
	StatusSeverelyCorrupted Status = "SeverelyCorrupted"
	// StatusCheckFailed means the scan itself aborted; nothing can be said
	// about the files.
	StatusCheckFailed Status = "CheckFailed"
)

// Kind is the category of a managed file.
type Kind string

const (
	KindData Kind = "data"
	KindLog  Kind = "log"
)

// FileCheck is the verdict for one managed file.
type FileCheck struct {
	Name   string
	Kind   Kind
	Valid  bool
	Reason string
	// NewBaseline is set when no stored digest existed and the current one
	// was trusted and recorded (first use, not a security property).
	NewBaseline bool
}

// Result is the structured outcome of an integrity scan; corruption is data
// here, not an error.
type Result struct {
	Status Status
	Files  []FileCheck
	Error  string
}

// Invalid returns the checks that failed, optionally filtered by kind.
func (r *Result) Invalid(kind Kind) []FileCheck {
	var out []FileCheck
	for _, f := range r.Files {
		if !f.Valid && (kind == "" || f.Kind == kind) {
			out = append(out, f)
		}
	}
	return out
}

// RepairAction describes one repair step taken.
type RepairAction struct {
	Name   string
	Action string
}

// RepairResult is the structured outcome of a repair pass.
type RepairResult struct {
	Actions []RepairAction
	Error   string
}
