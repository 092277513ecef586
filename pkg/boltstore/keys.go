package boltstore

import "encoding/binary"

// Bucket names. Documents live in one nested bucket per owner type tag
// under bucketOwners.
var (
	bucketMeta   = []byte("meta")
	bucketOwners = []byte("owners")
)

// Meta keys.
var (
	keyVersion = []byte("version")
)

// formatVersion is bumped when the bucket layout changes.
const formatVersion = 1

// intToKey converts an int to an 8-byte big-endian value.
func intToKey(n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

// keyToInt converts an 8-byte big-endian value back to an int.
func keyToInt(b []byte) int {
	return int(binary.BigEndian.Uint64(b))
}
