// Package layout fixes the on-disk naming scheme of a storage directory.
package layout

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

const (
	// LockFileName guards a storage directory against concurrent processes.
	LockFileName = ".nebulastore.lock"
	// IntegrityDirName holds per-file checksum sidecars.
	IntegrityDirName = ".integrity"

	dataFileFormat = "channel_%03d_data_%010d.dat"
	logFileFormat  = "channel_%03d_transactions.log"

	// CorruptedSuffix marks a quarantined file, preserved for inspection.
	CorruptedSuffix = ".corrupted"
	// RecoveredSuffix marks an archived, already-processed transaction log.
	RecoveredSuffix = ".recovered"
)

var (
	dataFilePattern = regexp.MustCompile(`^channel_(\d{3})_data_(\d{10})\.dat$`)
	logFilePattern  = regexp.MustCompile(`^channel_(\d{3})_transactions\.log$`)
)

// DataFileName names the data file of a channel.
func DataFileName(channelIndex int32, fileNumber int64) string {
	return fmt.Sprintf(dataFileFormat, channelIndex, fileNumber)
}

// LogFileName names the transaction log of a channel.
func LogFileName(channelIndex int32) string {
	return fmt.Sprintf(logFileFormat, channelIndex)
}

// IsDataFile reports whether name is a channel data file and decomposes it.
func IsDataFile(name string) (channelIndex int32, fileNumber int64, ok bool) {
	m := dataFilePattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, 0, false
	}
	channel, _ := strconv.ParseInt(m[1], 10, 32)
	file, _ := strconv.ParseInt(m[2], 10, 64)
	return int32(channel), file, true
}

// IsLogFile reports whether name is a channel transaction log.
func IsLogFile(name string) (channelIndex int32, ok bool) {
	m := logFilePattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, false
	}
	channel, _ := strconv.ParseInt(m[1], 10, 32)
	return int32(channel), true
}

// QuarantineName appends the timestamped corruption suffix.
func QuarantineName(name string, now time.Time) string {
	return fmt.Sprintf("%s%s.%d", name, CorruptedSuffix, now.Unix())
}

// ArchiveName appends the timestamped recovery suffix.
func ArchiveName(name string, now time.Time) string {
	return fmt.Sprintf("%s%s.%d", name, RecoveredSuffix, now.Unix())
}
