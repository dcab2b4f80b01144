// Package wal implements the per-channel write-ahead transaction log.
//
// Every mutation is framed, checksummed and appended before it is considered
// durable. Record layout: [length:int32][payload][checksum:uint32], with the
// payload starting [type:1][txId:int64][timestamp:int64][channel:int32][seq:int64]
// followed by type-specific fields. All integers are little-endian.
package wal

import (
	"encoding/binary"
	"fmt"
)

// EntryType tags a log entry variant.
type EntryType byte

const (
	// EntryStore binds a byte range in a data file to a set of object ids.
	EntryStore EntryType = 1
	// EntryCreate records allocation of a new data file.
	EntryCreate EntryType = 2
	// EntryCommit finalizes a transaction; entries without it are void.
	EntryCommit EntryType = 3

	// Reserved for future use; defined so readers can classify them,
	// the writer never emits them.
	EntryTransfer EntryType = 4
	EntryDelete   EntryType = 5
	EntryTruncate EntryType = 6
	EntryRollback EntryType = 7
)

func (t EntryType) String() string {
	switch t {
	case EntryStore:
		return "store"
	case EntryCreate:
		return "create"
	case EntryCommit:
		return "commit"
	case EntryTransfer:
		return "transfer"
	case EntryDelete:
		return "delete"
	case EntryTruncate:
		return "truncate"
	case EntryRollback:
		return "rollback"
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

// Entry is an immutable transaction log record.
type Entry struct {
	Type           EntryType
	TransactionID  int64
	Timestamp      int64
	ChannelIndex   int32
	SequenceNumber int64

	// Store fields
	FileNumber int64
	Offset     int64
	Length     int64
	ObjectIDs  []int64

	// Create fields (FileNumber shared with Store)
	Path string

	// Commit fields
	OperationCount int32
}

const headerSize = 1 + 8 + 8 + 4 + 8

// encodePayload serializes the entry payload (without frame and checksum).
func (e *Entry) encodePayload() ([]byte, error) {
	size := headerSize
	switch e.Type {
	case EntryStore:
		size += 8 + 8 + 8 + 4 + 8*len(e.ObjectIDs)
	case EntryCreate:
		size += 8 + 4 + len(e.Path)
	case EntryCommit:
		size += 4
	default:
		return nil, fmt.Errorf("wal: encode: unsupported entry type %s", e.Type)
	}
	buf := make([]byte, size)
	buf[0] = byte(e.Type)
	binary.LittleEndian.PutUint64(buf[1:], uint64(e.TransactionID))
	binary.LittleEndian.PutUint64(buf[9:], uint64(e.Timestamp))
	binary.LittleEndian.PutUint32(buf[17:], uint32(e.ChannelIndex))
	binary.LittleEndian.PutUint64(buf[21:], uint64(e.SequenceNumber))
	off := headerSize
	switch e.Type {
	case EntryStore:
		binary.LittleEndian.PutUint64(buf[off:], uint64(e.FileNumber))
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(e.Offset))
		binary.LittleEndian.PutUint64(buf[off+16:], uint64(e.Length))
		binary.LittleEndian.PutUint32(buf[off+24:], uint32(len(e.ObjectIDs)))
		off += 28
		for _, id := range e.ObjectIDs {
			binary.LittleEndian.PutUint64(buf[off:], uint64(id))
			off += 8
		}
	case EntryCreate:
		binary.LittleEndian.PutUint64(buf[off:], uint64(e.FileNumber))
		binary.LittleEndian.PutUint32(buf[off+8:], uint32(len(e.Path)))
		copy(buf[off+12:], e.Path)
	case EntryCommit:
		binary.LittleEndian.PutUint32(buf[off:], uint32(e.OperationCount))
	}
	return buf, nil
}

// decodePayload deserializes an entry payload previously produced by
// encodePayload. The frame and checksum have already been stripped.
func decodePayload(buf []byte) (*Entry, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("wal: payload too short: %d bytes: %w", len(buf), ErrCorruptEntry)
	}
	e := &Entry{
		Type:           EntryType(buf[0]),
		TransactionID:  int64(binary.LittleEndian.Uint64(buf[1:])),
		Timestamp:      int64(binary.LittleEndian.Uint64(buf[9:])),
		ChannelIndex:   int32(binary.LittleEndian.Uint32(buf[17:])),
		SequenceNumber: int64(binary.LittleEndian.Uint64(buf[21:])),
	}
	rest := buf[headerSize:]
	switch e.Type {
	case EntryStore:
		if len(rest) < 28 {
			return nil, fmt.Errorf("wal: store entry truncated: %w", ErrCorruptEntry)
		}
		e.FileNumber = int64(binary.LittleEndian.Uint64(rest))
		e.Offset = int64(binary.LittleEndian.Uint64(rest[8:]))
		e.Length = int64(binary.LittleEndian.Uint64(rest[16:]))
		count := int(int32(binary.LittleEndian.Uint32(rest[24:])))
		if count < 0 || len(rest) != 28+8*count {
			return nil, fmt.Errorf("wal: store entry id count %d inconsistent with payload: %w", count, ErrCorruptEntry)
		}
		e.ObjectIDs = make([]int64, count)
		for i := 0; i < count; i++ {
			e.ObjectIDs[i] = int64(binary.LittleEndian.Uint64(rest[28+8*i:]))
		}
	case EntryCreate:
		if len(rest) < 12 {
			return nil, fmt.Errorf("wal: create entry truncated: %w", ErrCorruptEntry)
		}
		e.FileNumber = int64(binary.LittleEndian.Uint64(rest))
		pathLen := int(int32(binary.LittleEndian.Uint32(rest[8:])))
		if pathLen < 0 || len(rest) != 12+pathLen {
			return nil, fmt.Errorf("wal: create entry path length %d inconsistent with payload: %w", pathLen, ErrCorruptEntry)
		}
		e.Path = string(rest[12 : 12+pathLen])
	case EntryCommit:
		if len(rest) != 4 {
			return nil, fmt.Errorf("wal: commit entry malformed: %w", ErrCorruptEntry)
		}
		e.OperationCount = int32(binary.LittleEndian.Uint32(rest))
	default:
		return nil, fmt.Errorf("wal: unknown entry type %d: %w", buf[0], ErrCorruptEntry)
	}
	return e, nil
}
