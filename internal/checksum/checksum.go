// Package checksum computes the content digests used for record headers and
// entity tags.
package checksum

import (
	"fmt"
	"strconv"

	"github.com/zeebo/xxh3"
)

// Size is the length of a digest returned by Sum.
const Size = 16

// Sum returns the hex-encoded xxh3 digest of data.
func Sum(data []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(data))
}

// Verify reports whether sum is the digest of data.
func Verify(data []byte, sum string) bool {
	want, err := strconv.ParseUint(sum, 16, 64)
	return err == nil && len(sum) == Size && xxh3.Hash(data) == want
}
