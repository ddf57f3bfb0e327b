package record

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeEventID computes the SHA256 hash of the BMP message bytes.
// The hash covers the BMP message only, so the same message relayed by two
// proxies or wrapped in different OpenBMP frames yields the same ID.
func ComputeEventID(bmpBytes []byte) []byte {
	h := sha256.Sum256(bmpBytes)
	return h[:]
}

// EventIDString is the hex form of ComputeEventID used in records.
func EventIDString(bmpBytes []byte) string {
	return hex.EncodeToString(ComputeEventID(bmpBytes))
}
