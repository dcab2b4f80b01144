package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"
)

// Log is the single-writer transaction log of one storage channel. All
// mutations of the channel are appended here before they become durable.
// A Log owns its file handle exclusively.
type Log struct {
	mu           sync.Mutex
	f            *os.File
	path         string
	channelIndex int32
	nextTxID     int64
	nextSeq      int64
	active       map[int64]int32 // txID -> operation count
	closed       bool
	clock        func() int64
}

// Option mutates a Log during Open.
type Option func(*Log)

// WithClock overrides the logical millisecond clock, used by tests.
func WithClock(clock func() int64) Option {
	return func(l *Log) { l.clock = clock }
}

// Open opens or creates the channel transaction log at path. An existing log
// is scanned so that transaction ids and sequence numbers resume past the
// highest values already on disk; ids are never reused across restarts.
func Open(path string, channelIndex int32, opts ...Option) (*Log, error) {
	l := &Log{
		path:         path,
		channelIndex: channelIndex,
		nextTxID:     1,
		nextSeq:      1,
		active:       map[int64]int32{},
		clock:        func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(l)
	}
	if entries, _, err := ParseFile(path); err == nil {
		for _, e := range entries {
			if e.TransactionID >= l.nextTxID {
				l.nextTxID = e.TransactionID + 1
			}
			if e.SequenceNumber >= l.nextSeq {
				l.nextSeq = e.SequenceNumber + 1
			}
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	l.f = f
	return l, nil
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// BeginTransaction allocates a new transaction id and registers it as active.
func (l *Log) BeginTransaction() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	id := l.nextTxID
	l.nextTxID++
	l.active[id] = 0
	return id, nil
}

// LogStoreOperation appends a store entry binding a byte range of a data file
// to the object ids it now holds.
func (l *Log) LogStoreOperation(txID, fileNumber, offset, length int64, objectIDs []int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkActive(txID); err != nil {
		return err
	}
	ids := make([]int64, len(objectIDs))
	copy(ids, objectIDs)
	if err := l.append(&Entry{
		Type:          EntryStore,
		TransactionID: txID,
		FileNumber:    fileNumber,
		Offset:        offset,
		Length:        length,
		ObjectIDs:     ids,
	}); err != nil {
		return err
	}
	l.active[txID]++
	return nil
}

// LogCreateOperation appends a create entry recording allocation of a new
// data file.
func (l *Log) LogCreateOperation(txID, fileNumber int64, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkActive(txID); err != nil {
		return err
	}
	if err := l.append(&Entry{
		Type:          EntryCreate,
		TransactionID: txID,
		FileNumber:    fileNumber,
		Path:          path,
	}); err != nil {
		return err
	}
	l.active[txID]++
	return nil
}

// CommitTransaction appends the commit marker, forces it to stable storage
// and retires the transaction. It returns the committed operation count.
// Once CommitTransaction returns, the transaction survives any crash.
func (l *Log) CommitTransaction(txID int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkActive(txID); err != nil {
		return 0, err
	}
	count := l.active[txID]
	if err := l.append(&Entry{
		Type:           EntryCommit,
		TransactionID:  txID,
		OperationCount: count,
	}); err != nil {
		return 0, err
	}
	if err := l.f.Sync(); err != nil {
		return 0, fmt.Errorf("wal: sync commit tx=%d: %w", txID, err)
	}
	delete(l.active, txID)
	return int(count), nil
}

// RollbackTransaction discards the in-memory transaction context. Nothing is
// written: entries without a following commit are void by definition, so an
// abandoned transaction needs no rollback record.
func (l *Log) RollbackTransaction(txID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkActive(txID); err != nil {
		return err
	}
	delete(l.active, txID)
	return nil
}

// ActiveTransactions reports the number of begun, not yet completed
// transactions.
func (l *Log) ActiveTransactions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Close flushes and releases the log file. Uncommitted transactions are left
// void on disk.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.f.Sync(); err != nil {
		_ = l.f.Close()
		return fmt.Errorf("wal: close sync: %w", err)
	}
	return l.f.Close()
}

func (l *Log) checkActive(txID int64) error {
	if l.closed {
		return ErrClosed
	}
	if _, ok := l.active[txID]; !ok {
		return fmt.Errorf("wal: tx=%d: %w", txID, ErrUnknownTransaction)
	}
	return nil
}

// append frames and writes one entry as a single unit, so a failed write can
// never leave an ambiguous partial record followed by valid data.
func (l *Log) append(e *Entry) error {
	e.Timestamp = l.clock()
	e.ChannelIndex = l.channelIndex
	e.SequenceNumber = l.nextSeq
	payload, err := e.encodePayload()
	if err != nil {
		return err
	}
	frame := make([]byte, 4+len(payload)+4)
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	binary.LittleEndian.PutUint32(frame[4+len(payload):], Checksum(payload))
	if _, err := l.f.Write(frame); err != nil {
		return fmt.Errorf("wal: append %s tx=%d: %w", e.Type, e.TransactionID, err)
	}
	l.nextSeq++
	return nil
}
