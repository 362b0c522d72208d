package artifacts

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// DigestPrefix tags digests with the algorithm that produced them.
const DigestPrefix = "blake3:"

// Digest returns the BLAKE3-256 digest of data as "blake3:<hex>".
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return DigestPrefix + hex.EncodeToString(sum[:])
}
