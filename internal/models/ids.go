package models

import (
	"crypto/rand"
	"encoding/hex"
)

// IDLength is the length of a hex-encoded 160-bit identifier.
const IDLength = 40

// NewID returns a random 160-bit identifier encoded as 40 lowercase hex
// characters. Elements, users, files and transactions share this scheme.
func NewID() string {
	var b [IDLength / 2]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand.Read never fails on supported platforms.
		panic("models: read random id: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// IsValidID reports whether id has the shape produced by NewID.
func IsValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
