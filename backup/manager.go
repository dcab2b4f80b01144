// Package backup copies a storage directory's managed files to a backup
// destination and restores them. Destinations are afs URLs, so a local
// directory and an object-store bucket work the same way; each backup is a
// self-describing directory with a manifest.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/viant/nebulastore/layout"
)

// backupDirPrefix names backup directories under the destination.
const backupDirPrefix = "backup_"

// Manager creates, lists and restores backups of one storage directory.
type Manager struct {
	dir     string
	dest    string
	fs      afs.Service
	catalog *Catalog
	logf    func(format string, args ...any)
	clock   func() time.Time
}

// Option mutates a Manager at construction.
type Option func(*Manager)

// WithLogf overrides the progress logger.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(m *Manager) { m.logf = logf }
}

// WithClock overrides the manifest timestamp clock, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithCatalog attaches a backup history catalog.
func WithCatalog(catalog *Catalog) Option {
	return func(m *Manager) { m.catalog = catalog }
}

// New creates a manager backing up dir to the dest URL.
func New(dir, dest string, opts ...Option) *Manager {
	m := &Manager{
		dir:   dir,
		dest:  dest,
		fs:    afs.New(),
		logf:  log.Printf,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateFullBackup copies every managed data and log file into a new backup
// directory and writes its manifest.
func (m *Manager) CreateFullBackup(ctx context.Context) (*Manifest, error) {
	names, err := m.managedFiles(ctx)
	if err != nil {
		return nil, err
	}
	return m.create(ctx, TypeFull, names)
}

// CreateIncrementalBackup copies the managed files modified after since or
// whose fingerprint drifted from the most recent backup. A file absent from
// the previous manifest always qualifies.
func (m *Manager) CreateIncrementalBackup(ctx context.Context, since time.Time) (*Manifest, error) {
	names, err := m.managedFiles(ctx)
	if err != nil {
		return nil, err
	}
	previous, err := m.latestManifest(ctx)
	if err != nil {
		return nil, err
	}
	var changed []string
	for _, name := range names {
		qualifies, err := m.changedSince(name, since, previous)
		if err != nil {
			return nil, err
		}
		if qualifies {
			changed = append(changed, name)
		}
	}
	return m.create(ctx, TypeIncremental, changed)
}

func (m *Manager) changedSince(name string, since time.Time, previous *Manifest) (bool, error) {
	info, err := os.Stat(filepath.Join(m.dir, name))
	if err != nil {
		return false, fmt.Errorf("backup: stat %s: %w", name, err)
	}
	if info.ModTime().After(since) {
		return true, nil
	}
	if previous == nil {
		return true, nil
	}
	entry := previous.Entry(name)
	if entry == nil {
		return true, nil
	}
	current, err := m.fileFingerprint(name)
	if err != nil {
		return false, err
	}
	return current != entry.Fingerprint, nil
}

func (m *Manager) create(ctx context.Context, kind Type, names []string) (*Manifest, error) {
	now := m.clock()
	manifest := &Manifest{
		BackupID:    uuid.New().String(),
		Type:        kind,
		CreatedTime: now,
	}
	dirName := fmt.Sprintf("%s%s_%d", backupDirPrefix, manifest.BackupID, now.Unix())
	manifest.Path = url.Join(m.dest, dirName)

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			return nil, fmt.Errorf("backup: read %s: %w", name, err)
		}
		digest, err := fingerprint(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("backup: fingerprint %s: %w", name, err)
		}
		if err := m.fs.Upload(ctx, url.Join(manifest.Path, name), file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("backup: upload %s: %w", name, err)
		}
		manifest.Files = append(manifest.Files, FileEntry{
			Name:        name,
			Size:        int64(len(data)),
			Fingerprint: digest,
		})
	}
	manifest.FileCount = len(manifest.Files)
	if err := m.writeManifest(ctx, manifest); err != nil {
		return nil, err
	}
	if m.catalog != nil {
		if err := m.catalog.Record(ctx, manifest); err != nil {
			return nil, err
		}
	}
	m.logf("backup %s type=%s files=%d dest=%s", manifest.BackupID, manifest.Type, manifest.FileCount, manifest.Path)
	return manifest, nil
}

// Restore brings the storage directory back to the state captured by the
// given backup. Every backed-up file is fingerprint-validated first; then the
// current state is captured as a safety backup before anything is touched.
// A full backup replaces the managed files; an incremental backup overlays
// only the files it carries.
func (m *Manager) Restore(ctx context.Context, backupID string) (*Manifest, error) {
	manifest, err := m.Find(ctx, backupID)
	if err != nil {
		return nil, err
	}
	payload := make(map[string][]byte, len(manifest.Files))
	for _, entry := range manifest.Files {
		data, err := m.download(ctx, url.Join(manifest.Path, entry.Name))
		if err != nil {
			return nil, fmt.Errorf("backup: read %s from %s: %w", entry.Name, manifest.BackupID, err)
		}
		digest, err := fingerprint(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		if digest != entry.Fingerprint {
			return nil, fmt.Errorf("backup: %s: fingerprint mismatch for %s", manifest.BackupID, entry.Name)
		}
		payload[entry.Name] = data
	}

	// The current state survives as a safety backup; only after that may the
	// directory be touched.
	current, err := m.managedFiles(ctx)
	if err != nil {
		return nil, err
	}
	safety, err := m.create(ctx, TypeSafety, current)
	if err != nil {
		return nil, fmt.Errorf("backup: safety backup: %w", err)
	}
	m.logf("backup restore %s: safety backup %s", manifest.BackupID, safety.BackupID)

	if manifest.Type != TypeIncremental {
		for _, name := range current {
			if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
				return nil, fmt.Errorf("backup: clear %s: %w", name, err)
			}
		}
	}
	for _, entry := range manifest.Files {
		path := filepath.Join(m.dir, entry.Name)
		if err := os.WriteFile(path, payload[entry.Name], 0o644); err != nil {
			return nil, fmt.Errorf("backup: restore %s: %w", entry.Name, err)
		}
	}
	// Integrity baselines describe the replaced state; drop them so the next
	// scan re-establishes trust.
	_ = m.fs.Delete(ctx, url.Join(m.dir, layout.IntegrityDirName))
	m.logf("backup restore %s: %d files restored", manifest.BackupID, manifest.FileCount)
	return manifest, nil
}

// List returns the manifests at the destination, oldest first.
func (m *Manager) List(ctx context.Context) ([]*Manifest, error) {
	exists, err := m.fs.Exists(ctx, m.dest)
	if err != nil {
		return nil, fmt.Errorf("backup: probe %s: %w", m.dest, err)
	}
	if !exists {
		return nil, nil
	}
	objects, err := m.fs.List(ctx, m.dest)
	if err != nil {
		return nil, fmt.Errorf("backup: list %s: %w", m.dest, err)
	}
	var manifests []*Manifest
	for _, object := range objects {
		if !object.IsDir() || !strings.HasPrefix(object.Name(), backupDirPrefix) {
			continue
		}
		manifest, err := m.readManifest(ctx, url.Join(m.dest, object.Name()))
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, manifest)
	}
	sort.Slice(manifests, func(a, b int) bool {
		return manifests[a].CreatedTime.Before(manifests[b].CreatedTime)
	})
	return manifests, nil
}

// Find returns the manifest with the given backup id.
func (m *Manager) Find(ctx context.Context, backupID string) (*Manifest, error) {
	manifests, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, manifest := range manifests {
		if manifest.BackupID == backupID {
			return manifest, nil
		}
	}
	return nil, fmt.Errorf("backup: unknown backup %s", backupID)
}

func (m *Manager) latestManifest(ctx context.Context) (*Manifest, error) {
	manifests, err := m.List(ctx)
	if err != nil || len(manifests) == 0 {
		return nil, err
	}
	return manifests[len(manifests)-1], nil
}

func (m *Manager) writeManifest(ctx context.Context, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("backup: marshal manifest: %w", err)
	}
	if err := m.fs.Upload(ctx, url.Join(manifest.Path, manifestName), file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("backup: write manifest: %w", err)
	}
	return nil
}

func (m *Manager) readManifest(ctx context.Context, backupURL string) (*Manifest, error) {
	data, err := m.download(ctx, url.Join(backupURL, manifestName))
	if err != nil {
		return nil, fmt.Errorf("backup: read manifest at %s: %w", backupURL, err)
	}
	manifest := &Manifest{}
	if err := json.Unmarshal(data, manifest); err != nil {
		return nil, fmt.Errorf("backup: malformed manifest at %s: %w", backupURL, err)
	}
	return manifest, nil
}

func (m *Manager) download(ctx context.Context, location string) ([]byte, error) {
	reader, err := m.fs.OpenURL(ctx, location)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (m *Manager) fileFingerprint(name string) (string, error) {
	f, err := os.Open(filepath.Join(m.dir, name))
	if err != nil {
		return "", fmt.Errorf("backup: open %s: %w", name, err)
	}
	defer f.Close()
	return fingerprint(f)
}

func (m *Manager) managedFiles(ctx context.Context) ([]string, error) {
	objects, err := m.fs.List(ctx, m.dir)
	if err != nil {
		return nil, fmt.Errorf("backup: list %s: %w", m.dir, err)
	}
	var names []string
	for _, object := range objects {
		if object.IsDir() {
			continue
		}
		name := object.Name()
		if _, _, ok := layout.IsDataFile(name); ok {
			names = append(names, name)
			continue
		}
		if _, ok := layout.IsLogFile(name); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
