package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// maxPayload bounds a single entry so a corrupt length prefix cannot trigger
// a huge allocation.
const maxPayload = 64 << 20

// Parse reads entries until EOF or the first structurally invalid entry.
// On damage it returns the entries read so far together with an error
// wrapping ErrCorruptEntry; it never skips past a bad entry, since anything
// after it cannot be trusted.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return entries, fmt.Errorf("wal: truncated length prefix: %w", ErrCorruptEntry)
		}
		size := int(int32(binary.LittleEndian.Uint32(lenBuf[:])))
		if size < headerSize || size > maxPayload {
			return entries, fmt.Errorf("wal: implausible entry length %d: %w", size, ErrCorruptEntry)
		}
		buf := make([]byte, size+4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return entries, fmt.Errorf("wal: truncated entry body: %w", ErrCorruptEntry)
		}
		payload := buf[:size]
		want := binary.LittleEndian.Uint32(buf[size:])
		if got := Checksum(payload); got != want {
			return entries, fmt.Errorf("wal: checksum mismatch got=%08x want=%08x: %w", got, want, ErrCorruptEntry)
		}
		e, err := decodePayload(payload)
		if err != nil {
			return entries, err
		}
		entries = append(entries, *e)
	}
}

// ParseFile parses a log file. truncated reports whether reading stopped at
// damage before the physical end of file; the returned entries are the valid
// prefix either way. A missing file yields no entries and no error.
func ParseFile(path string) (entries []Entry, truncated bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer f.Close()
	entries, perr := Parse(f)
	if perr != nil {
		if errors.Is(perr, ErrCorruptEntry) {
			return entries, true, nil
		}
		return entries, false, perr
	}
	return entries, false, nil
}

// LastValidOffset scans the file and returns the byte offset just past the
// last structurally valid entry. Integrity repair truncates to it.
func LastValidOffset(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer f.Close()
	var offset int64
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
			return offset, nil
		}
		size := int(int32(binary.LittleEndian.Uint32(lenBuf[:])))
		if size < headerSize || size > maxPayload {
			return offset, nil
		}
		buf := make([]byte, size+4)
		if _, err := io.ReadFull(f, buf); err != nil {
			return offset, nil
		}
		payload := buf[:size]
		if Checksum(payload) != binary.LittleEndian.Uint32(buf[size:]) {
			return offset, nil
		}
		if _, err := decodePayload(payload); err != nil {
			return offset, nil
		}
		offset += int64(4 + size + 4)
	}
}
