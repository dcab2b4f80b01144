package wal

// Checksum computes the rolling-shift checksum used to frame log entries.
// It detects crash truncation and torn writes only; it is not collision
// resistant and must not be strengthened without versioning the on-disk
// format.
func Checksum(payload []byte) uint32 {
	var c uint32
	for _, b := range payload {
		c = (c << 1) ^ uint32(b)
	}
	return c
}
