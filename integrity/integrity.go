// Package integrity detects and repairs accidental corruption of storage
// files, independent of crash timing. It keeps one SHA-256 digest per
// managed file in a sidecar directory and re-checks structure even when the
// digest matches: a checksum is necessary but not sufficient.
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/viant/nebulastore/layout"
	"github.com/viant/nebulastore/wal"
)

// structuralReadLimit bounds the head read of a data file.
const structuralReadLimit = 64 << 10

// Verifier scans the managed files of one storage directory.
type Verifier struct {
	dir   string
	fs    afs.Service
	logf  func(format string, args ...any)
	clock func() time.Time
}

// Option mutates a Verifier.
type Option func(*Verifier)

// WithLogf overrides the progress logger.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(v *Verifier) { v.logf = logf }
}

// WithClock overrides the quarantine timestamp clock, used by tests.
func WithClock(clock func() time.Time) Option {
	return func(v *Verifier) { v.clock = clock }
}

// New creates a verifier over the storage directory.
func New(dir string, opts ...Option) *Verifier {
	v := &Verifier{dir: dir, fs: afs.New(), logf: log.Printf, clock: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify scans every managed data and log file. A missing baseline is
// trusted on first use and stored; a digest mismatch or failed structural
// check marks the file invalid. The scan itself failing yields
// StatusCheckFailed.
func (v *Verifier) Verify(ctx context.Context) (result *Result) {
	result = &Result{Status: StatusIntact}
	defer func() {
		if rec := recover(); rec != nil {
			result.Status = StatusCheckFailed
			result.Error = fmt.Sprintf("integrity: scan fault: %v", rec)
		}
	}()

	names, err := v.managedFiles(ctx)
	if err != nil {
		result.Status = StatusCheckFailed
		result.Error = err.Error()
		return result
	}
	for _, name := range names {
		check := v.verifyFile(ctx, name)
		result.Files = append(result.Files, check)
	}

	dataInvalid := len(result.Invalid(KindData)) > 0
	logInvalid := len(result.Invalid(KindLog)) > 0
	switch {
	case dataInvalid && logInvalid:
		result.Status = StatusSeverelyCorrupted
	case dataInvalid || logInvalid:
		result.Status = StatusPartiallyCorrupted
	}
	v.logf("integrity dir=%s status=%s files=%d", v.dir, result.Status, len(result.Files))
	return result
}

func (v *Verifier) verifyFile(ctx context.Context, name string) FileCheck {
	check := FileCheck{Name: name, Kind: kindOf(name)}
	digest, err := v.digest(ctx, name)
	if err != nil {
		check.Reason = fmt.Sprintf("read failed: %v", err)
		return check
	}
	baseline, found, err := v.loadBaseline(ctx, name)
	if err != nil {
		check.Reason = fmt.Sprintf("baseline read failed: %v", err)
		return check
	}
	switch {
	case !found:
		if err := v.storeBaseline(ctx, name, digest); err != nil {
			check.Reason = fmt.Sprintf("baseline store failed: %v", err)
			return check
		}
		check.NewBaseline = true
	case baseline != digest:
		check.Reason = "checksum mismatch"
		return check
	}
	if reason := v.structuralCheck(name); reason != "" {
		check.Reason = reason
		return check
	}
	check.Valid = true
	return check
}

// Repair attempts a best-effort fix of every invalid file from a prior
// scan: logs are truncated back to their last structurally valid entry,
// data files are quarantined — their content may still be reconstructible
// from the transaction log, but replay is not this component's job.
func (v *Verifier) Repair(ctx context.Context, scan *Result) *RepairResult {
	result := &RepairResult{}
	now := v.clock()
	for _, check := range scan.Files {
		if check.Valid {
			continue
		}
		switch check.Kind {
		case KindLog:
			if err := v.repairLog(ctx, check.Name); err != nil {
				result.Error = err.Error()
				return result
			}
			result.Actions = append(result.Actions, RepairAction{
				Name:   check.Name,
				Action: "truncated to last valid entry",
			})
		case KindData:
			quarantined := layout.QuarantineName(check.Name, now)
			if err := v.fs.Move(ctx, url.Join(v.dir, check.Name), url.Join(v.dir, quarantined)); err != nil {
				result.Error = fmt.Sprintf("quarantine %s: %v", check.Name, err)
				return result
			}
			_ = v.fs.Delete(ctx, v.sidecarURL(check.Name))
			result.Actions = append(result.Actions, RepairAction{
				Name:   check.Name,
				Action: fmt.Sprintf("quarantined as %s; content may be reconstructible from the transaction log", quarantined),
			})
		}
	}
	for _, action := range result.Actions {
		v.logf("integrity repair %s: %s", action.Name, action.Action)
	}
	return result
}

func (v *Verifier) repairLog(ctx context.Context, name string) error {
	path := filepath.Join(v.dir, name)
	offset, err := wal.LastValidOffset(path)
	if err != nil {
		return fmt.Errorf("integrity: scan %s: %w", name, err)
	}
	if err := os.Truncate(path, offset); err != nil {
		return fmt.Errorf("integrity: truncate %s: %w", name, err)
	}
	digest, err := v.digest(ctx, name)
	if err != nil {
		return fmt.Errorf("integrity: redigest %s: %w", name, err)
	}
	return v.storeBaseline(ctx, name, digest)
}

func (v *Verifier) managedFiles(ctx context.Context) ([]string, error) {
	objects, err := v.fs.List(ctx, v.dir)
	if err != nil {
		return nil, fmt.Errorf("integrity: list %s: %w", v.dir, err)
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

func (v *Verifier) digest(ctx context.Context, name string) (string, error) {
	reader, err := v.fs.OpenURL(ctx, url.Join(v.dir, name))
	if err != nil {
		return "", err
	}
	defer reader.Close()
	h := sha256.New()
	if _, err := io.Copy(h, reader); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (v *Verifier) sidecarURL(name string) string {
	return url.Join(v.dir, layout.IntegrityDirName, name+".sha256")
}

func (v *Verifier) loadBaseline(ctx context.Context, name string) (string, bool, error) {
	sidecar := v.sidecarURL(name)
	ok, err := v.fs.Exists(ctx, sidecar)
	if err != nil || !ok {
		return "", false, err
	}
	reader, err := v.fs.OpenURL(ctx, sidecar)
	if err != nil {
		return "", false, err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(string(data)), true, nil
}

func (v *Verifier) storeBaseline(ctx context.Context, name, digest string) error {
	sidecar := v.sidecarURL(name)
	if ok, _ := v.fs.Exists(ctx, sidecar); ok {
		_ = v.fs.Delete(ctx, sidecar)
	}
	return v.fs.Upload(ctx, sidecar, file.DefaultFileOsMode, strings.NewReader(digest+"\n"))
}

// structuralCheck validates file structure beyond the digest: logs get a
// parse dry run, data files a bounded head read.
func (v *Verifier) structuralCheck(name string) string {
	path := filepath.Join(v.dir, name)
	if _, ok := layout.IsLogFile(name); ok {
		_, truncated, err := wal.ParseFile(path)
		if err != nil {
			return fmt.Sprintf("log parse failed: %v", err)
		}
		if truncated {
			return "log contains corrupt entries"
		}
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Sprintf("open failed: %v", err)
	}
	defer f.Close()
	if _, err := io.CopyN(io.Discard, f, structuralReadLimit); err != nil && err != io.EOF {
		return fmt.Sprintf("bounded read failed: %v", err)
	}
	return ""
}

func kindOf(name string) Kind {
	if _, ok := layout.IsLogFile(name); ok {
		return KindLog
	}
	return KindData
}
