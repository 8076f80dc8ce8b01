package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// keyHashContext separates staff key digests from other sha256 values the
// service stores.
const keyHashContext = "rentflow.apikey.v1:"

// HashAPIKey returns the stored digest of a raw rf_live_ key. Key creation,
// bootstrap and Authenticate all go through it.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(keyHashContext + raw))
	return hex.EncodeToString(sum[:])
}
