package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex hashes the input to lowercase hex. Used to derive idempotency
// and bridge replay keys without storing raw payloads in redis.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
