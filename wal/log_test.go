package wal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openTestLog(t *testing.T, dir string) *Log {
	t.Helper()
	l, err := Open(filepath.Join(dir, "channel_000_transactions.log"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return l
}

func TestLog_StoreCommitRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := openTestLog(t, dir)

	tx, err := l.BeginTransaction()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := l.LogCreateOperation(tx, 1, "channel_000_data_0000000001.dat"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := l.LogStoreOperation(tx, 1, 0, 128, []int64{1000000000001, 1000000000002}); err != nil {
		t.Fatalf("store: %v", err)
	}
	count, err := l.CommitTransaction(tx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if count != 2 {
		t.Fatalf("op count: got %d, want 2", count)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, truncated, err := ParseFile(l.Path())
	if err != nil || truncated {
		t.Fatalf("parse: err=%v truncated=%v", err, truncated)
	}
	if len(entries) != 3 {
		t.Fatalf("entries: got %d, want 3", len(entries))
	}
	if entries[0].Type != EntryCreate || entries[1].Type != EntryStore || entries[2].Type != EntryCommit {
		t.Fatalf("entry types: %v %v %v", entries[0].Type, entries[1].Type, entries[2].Type)
	}
	if entries[2].OperationCount != 2 {
		t.Fatalf("commit op count: got %d, want 2", entries[2].OperationCount)
	}
	if got := entries[1].ObjectIDs; len(got) != 2 || got[0] != 1000000000001 {
		t.Fatalf("object ids: %v", got)
	}
	for i, e := range entries {
		if e.SequenceNumber != int64(i+1) {
			t.Fatalf("sequence at %d: got %d", i, e.SequenceNumber)
		}
	}
}

func TestLog_UnknownTransaction(t *testing.T) {
	dir := t.TempDir()
	l := openTestLog(t, dir)
	defer l.Close()

	if err := l.LogStoreOperation(99, 1, 0, 10, nil); !errors.Is(err, ErrUnknownTransaction) {
		t.Fatalf("store on unknown tx: %v", err)
	}
	tx, _ := l.BeginTransaction()
	if _, err := l.CommitTransaction(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := l.CommitTransaction(tx); !errors.Is(err, ErrUnknownTransaction) {
		t.Fatalf("double commit: %v", err)
	}
}

func TestLog_RollbackWritesNothing(t *testing.T) {
	dir := t.TempDir()
	l := openTestLog(t, dir)

	tx, _ := l.BeginTransaction()
	if err := l.LogStoreOperation(tx, 1, 0, 64, []int64{7}); err != nil {
		t.Fatalf("store: %v", err)
	}
	sizeBefore := fileSize(t, l.Path())
	if err := l.RollbackTransaction(tx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if got := fileSize(t, l.Path()); got != sizeBefore {
		t.Fatalf("rollback appended bytes: %d -> %d", sizeBefore, got)
	}
	if l.ActiveTransactions() != 0 {
		t.Fatalf("active after rollback: %d", l.ActiveTransactions())
	}
	_ = l.Close()
}

func TestLog_ParseStopsAtCorruptTail(t *testing.T) {
	dir := t.TempDir()
	l := openTestLog(t, dir)
	tx, _ := l.BeginTransaction()
	_ = l.LogStoreOperation(tx, 1, 0, 32, []int64{1})
	if _, err := l.CommitTransaction(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = l.Close()

	// Simulate a crash mid-append.
	f, err := os.OpenFile(l.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.Write([]byte{0x40, 0x00, 0x00, 0x00, 0xde, 0xad}); err != nil {
		t.Fatalf("inject: %v", err)
	}
	_ = f.Close()

	entries, truncated, err := ParseFile(l.Path())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !truncated {
		t.Fatalf("expected truncation flag")
	}
	if len(entries) != 2 {
		t.Fatalf("valid prefix: got %d entries, want 2", len(entries))
	}
}

func TestLog_CountersResumeAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	l := openTestLog(t, dir)
	tx, _ := l.BeginTransaction()
	_ = l.LogStoreOperation(tx, 1, 0, 16, []int64{5})
	if _, err := l.CommitTransaction(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = l.Close()

	l2 := openTestLog(t, dir)
	defer l2.Close()
	tx2, _ := l2.BeginTransaction()
	if tx2 <= tx {
		t.Fatalf("tx id reused: first=%d second=%d", tx, tx2)
	}
	if _, err := l2.CommitTransaction(tx2); err != nil {
		t.Fatalf("commit2: %v", err)
	}
	entries, _, _ := ParseFile(l2.Path())
	last := entries[len(entries)-1]
	if last.SequenceNumber <= 2 {
		t.Fatalf("sequence not resumed: %d", last.SequenceNumber)
	}
}

func TestLog_LastValidOffsetAfterDamage(t *testing.T) {
	dir := t.TempDir()
	l := openTestLog(t, dir)
	tx, _ := l.BeginTransaction()
	if _, err := l.CommitTransaction(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = l.Close()
	clean := fileSize(t, l.Path())

	f, _ := os.OpenFile(l.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	_, _ = f.Write([]byte{0xff, 0xff})
	_ = f.Close()

	offset, err := LastValidOffset(l.Path())
	if err != nil {
		t.Fatalf("last valid offset: %v", err)
	}
	if offset != clean {
		t.Fatalf("offset: got %d, want %d", offset, clean)
	}
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info.Size()
}
