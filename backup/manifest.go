package backup

import "time"

// Type distinguishes how a backup was produced.
type Type string

const (
	// TypeFull captures every managed file.
	TypeFull Type = "full"
	// TypeIncremental captures only files changed since a reference time or
	// whose fingerprint drifted from the previous backup.
	TypeIncremental Type = "incremental"
	// TypeSafety is the automatic pre-restore capture of the current state.
	TypeSafety Type = "safety"
)

// manifestName is the per-backup metadata file.
const manifestName = "manifest.json"

// FileEntry records one backed-up file.
type FileEntry struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Fingerprint string `json:"fingerprint"`
}

// Manifest describes one backup directory.
type Manifest struct {
	BackupID    string      `json:"backupId"`
	Type        Type        `json:"type"`
	CreatedTime time.Time   `json:"createdTime"`
	FileCount   int         `json:"fileCount"`
	Files       []FileEntry `json:"files"`
	Path        string      `json:"path"`
}

// Entry returns the manifest record for name, nil when absent.
func (m *Manifest) Entry(name string) *FileEntry {
	for i := range m.Files {
		if m.Files[i].Name == name {
			return &m.Files[i]
		}
	}
	return nil
}
