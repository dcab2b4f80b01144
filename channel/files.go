package channel

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/viant/nebulastore/layout"
)

// fileManager owns the data files of one channel: an ordered set of
// append-only files of which the highest-numbered is the write target.
// Rotation happens at a soft size limit, mirroring segment rotation of an
// append-only value store.
type fileManager struct {
	dir          string
	channelIndex int32
	rotateSize   int64
	files        map[int64]*dataFile
	current      *dataFile
}

type dataFile struct {
	number int64
	path   string
	f      *os.File
	size   int64
}

func newFileManager(dir string, channelIndex int32, rotateSize int64) *fileManager {
	if rotateSize <= 0 {
		rotateSize = 1 << 30
	}
	return &fileManager{
		dir:          dir,
		channelIndex: channelIndex,
		rotateSize:   rotateSize,
		files:        map[int64]*dataFile{},
	}
}

// open discovers and opens the channel's existing data files. With none
// present the manager stays empty; the first store allocates file 1 through
// the WAL so the allocation itself is crash-recoverable.
func (m *fileManager) open() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("channel: read dir %s: %w", m.dir, err)
	}
	var numbers []int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		channelIndex, fileNumber, ok := layout.IsDataFile(entry.Name())
		if !ok || channelIndex != m.channelIndex {
			continue
		}
		if err := m.openFile(fileNumber); err != nil {
			return err
		}
		numbers = append(numbers, fileNumber)
	}
	if len(numbers) > 0 {
		sort.Slice(numbers, func(a, b int) bool { return numbers[a] < numbers[b] })
		m.current = m.files[numbers[len(numbers)-1]]
	}
	return nil
}

func (m *fileManager) openFile(fileNumber int64) error {
	path := filepath.Join(m.dir, layout.DataFileName(m.channelIndex, fileNumber))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("channel: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("channel: stat %s: %w", path, err)
	}
	m.files[fileNumber] = &dataFile{number: fileNumber, path: path, f: f, size: info.Size()}
	return nil
}

// needsRotation reports whether the next store must allocate a new file.
func (m *fileManager) needsRotation() bool {
	return m.current == nil || m.current.size >= m.rotateSize
}

// allocateNext creates the next data file and makes it current. The caller
// is responsible for logging the allocation to the WAL first.
func (m *fileManager) allocateNext() (fileNumber int64, name string, err error) {
	next := int64(1)
	if m.current != nil {
		next = m.current.number + 1
	}
	if err := m.openFile(next); err != nil {
		return 0, "", err
	}
	m.current = m.files[next]
	return next, layout.DataFileName(m.channelIndex, next), nil
}

// append writes the buffers contiguously at the current file's tail and
// returns the start offset of each buffer. The write is not yet synced;
// commit decides durability.
func (m *fileManager) append(buffers [][]byte) (fileNumber int64, positions []int64, err error) {
	if m.current == nil {
		return 0, nil, fmt.Errorf("channel: no current data file")
	}
	positions = make([]int64, len(buffers))
	offset := m.current.size
	for i, buffer := range buffers {
		positions[i] = offset
		if _, err := m.current.f.WriteAt(buffer, offset); err != nil {
			return 0, nil, fmt.Errorf("channel: write %s at %d: %w", m.current.path, offset, err)
		}
		offset += int64(len(buffer))
	}
	m.current.size = offset
	return m.current.number, positions, nil
}

// sync flushes the current file to stable storage.
func (m *fileManager) sync() error {
	if m.current == nil {
		return nil
	}
	if err := m.current.f.Sync(); err != nil {
		return fmt.Errorf("channel: sync %s: %w", m.current.path, err)
	}
	return nil
}

// truncateTo undoes uncommitted appends, restoring the file tail.
func (m *fileManager) truncateTo(fileNumber, size int64) error {
	file, ok := m.files[fileNumber]
	if !ok {
		return fmt.Errorf("channel: truncate unknown file %d", fileNumber)
	}
	if err := file.f.Truncate(size); err != nil {
		return fmt.Errorf("channel: truncate %s: %w", file.path, err)
	}
	file.size = size
	return nil
}

// readAt loads length bytes from the given file and position.
func (m *fileManager) readAt(fileNumber, position, length int64) ([]byte, error) {
	file, ok := m.files[fileNumber]
	if !ok {
		return nil, fmt.Errorf("channel: read unknown file %d", fileNumber)
	}
	buffer := make([]byte, length)
	if _, err := file.f.ReadAt(buffer, position); err != nil {
		return nil, fmt.Errorf("channel: read %s at %d: %w", file.path, position, err)
	}
	return buffer, nil
}

// fileSize returns the physical size of a managed file.
func (m *fileManager) fileSize(fileNumber int64) (int64, bool) {
	file, ok := m.files[fileNumber]
	if !ok {
		return 0, false
	}
	return file.size, true
}

// fileNumbers lists the managed files in ascending order.
func (m *fileManager) fileNumbers() []int64 {
	numbers := make([]int64, 0, len(m.files))
	for number := range m.files {
		numbers = append(numbers, number)
	}
	sort.Slice(numbers, func(a, b int) bool { return numbers[a] < numbers[b] })
	return numbers
}

// close releases all file handles.
func (m *fileManager) close() error {
	var firstErr error
	for _, file := range m.files {
		if err := file.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.files = map[int64]*dataFile{}
	m.current = nil
	return firstErr
}
