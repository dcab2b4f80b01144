package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/viant/nebulastore/layout"
)

func seedStorageDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		layout.DataFileName(1, 1): "entity bytes",
		layout.LogFileName(1):     "log bytes",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	return dir
}

func quietManager(dir, dest string, opts ...Option) *Manager {
	opts = append(opts, WithLogf(func(string, ...any) {}))
	return New(dir, dest, opts...)
}

func TestCreateFullBackup_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := seedStorageDir(t)
	dest := t.TempDir()
	manager := quietManager(dir, dest)

	manifest, err := manager.CreateFullBackup(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if manifest.Type != TypeFull || manifest.FileCount != 2 {
		t.Fatalf("manifest: %+v", manifest)
	}
	for _, entry := range manifest.Files {
		if entry.Fingerprint == "" || entry.Size == 0 {
			t.Fatalf("entry: %+v", entry)
		}
		copied, err := os.ReadFile(filepath.Join(trimFileScheme(manifest.Path), entry.Name))
		if err != nil {
			t.Fatalf("copied %s: %v", entry.Name, err)
		}
		original, _ := os.ReadFile(filepath.Join(dir, entry.Name))
		if string(copied) != string(original) {
			t.Fatalf("content drift for %s", entry.Name)
		}
	}

	manifests, err := manager.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(manifests) != 1 || manifests[0].BackupID != manifest.BackupID {
		t.Fatalf("list: %+v", manifests)
	}
}

func TestCreateIncrementalBackup_SelectsDriftedFiles(t *testing.T) {
	ctx := context.Background()
	dir := seedStorageDir(t)
	dest := t.TempDir()
	now := time.Unix(1_700_000_000, 0)
	manager := quietManager(dir, dest, WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))

	if _, err := manager.CreateFullBackup(ctx); err != nil {
		t.Fatalf("full: %v", err)
	}
	changed := layout.DataFileName(1, 1)
	if err := os.WriteFile(filepath.Join(dir, changed), []byte("mutated bytes"), 0o644); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	// A future reference time forces selection down to fingerprint drift.
	manifest, err := manager.CreateIncrementalBackup(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("incremental: %v", err)
	}
	if manifest.Type != TypeIncremental {
		t.Fatalf("type: %s", manifest.Type)
	}
	if manifest.FileCount != 1 || manifest.Files[0].Name != changed {
		t.Fatalf("selected: %+v", manifest.Files)
	}
}

func TestRestore_FullBackupReplacesState(t *testing.T) {
	ctx := context.Background()
	dir := seedStorageDir(t)
	dest := t.TempDir()
	now := time.Unix(1_700_000_000, 0)
	manager := quietManager(dir, dest, WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))

	manifest, err := manager.CreateFullBackup(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	name := layout.DataFileName(1, 1)
	if err := os.WriteFile(filepath.Join(dir, name), []byte("post-backup damage"), 0o644); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	if _, err := manager.Restore(ctx, manifest.BackupID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if string(data) != "entity bytes" {
		t.Fatalf("restored content: %q", data)
	}

	manifests, err := manager.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	safety := 0
	for _, m := range manifests {
		if m.Type == TypeSafety {
			safety++
		}
	}
	if safety != 1 {
		t.Fatalf("safety backups: %d", safety)
	}
}

func TestRestore_FingerprintMismatchAborts(t *testing.T) {
	ctx := context.Background()
	dir := seedStorageDir(t)
	dest := t.TempDir()
	manager := quietManager(dir, dest)

	manifest, err := manager.CreateFullBackup(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	name := layout.DataFileName(1, 1)
	backupCopy := filepath.Join(trimFileScheme(manifest.Path), name)
	if err := os.WriteFile(backupCopy, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if _, err := manager.Restore(ctx, manifest.BackupID); err == nil {
		t.Fatalf("restore accepted tampered backup")
	}
	// Validation failed before any mutation: no safety backup, source intact.
	manifests, err := manager.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(manifests) != 1 {
		t.Fatalf("manifests after aborted restore: %d", len(manifests))
	}
	data, _ := os.ReadFile(filepath.Join(dir, name))
	if string(data) != "entity bytes" {
		t.Fatalf("source mutated: %q", data)
	}
}

func TestRestore_UnknownBackup(t *testing.T) {
	manager := quietManager(seedStorageDir(t), t.TempDir())
	if _, err := manager.Restore(context.Background(), "no-such-id"); err == nil {
		t.Fatalf("restore of unknown backup succeeded")
	}
}

func TestCatalog_RecordsHistory(t *testing.T) {
	ctx := context.Background()
	catalog, err := OpenCatalog(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer catalog.Close()

	base := time.Unix(1_700_000_000, 0).UTC()
	first := &Manifest{BackupID: "a", Type: TypeFull, CreatedTime: base, FileCount: 2, Path: "/dest/a"}
	second := &Manifest{BackupID: "b", Type: TypeIncremental, CreatedTime: base.Add(time.Minute), FileCount: 1, Path: "/dest/b"}
	if err := catalog.Record(ctx, first); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := catalog.Record(ctx, second); err != nil {
		t.Fatalf("record: %v", err)
	}

	history, err := catalog.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].BackupID != "b" || history[1].BackupID != "a" {
		t.Fatalf("history order: %+v", history)
	}
	if history[0].Type != TypeIncremental || history[0].FileCount != 1 {
		t.Fatalf("history entry: %+v", history[0])
	}
}

// trimFileScheme maps an afs file URL back to a local path for direct
// filesystem assertions.
func trimFileScheme(location string) string {
	const scheme = "file://"
	if len(location) > len(scheme) && location[:len(scheme)] == scheme {
		return location[len(scheme):]
	}
	return location
}
