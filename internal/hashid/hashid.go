// Package hashid derives the stable, non-reversible identifier used to refer
// to an inbox id anywhere it might end up in a log line or store key.
package hashid

import (
	"crypto/sha256"
	"encoding/hex"
)

// Len is the number of hex characters kept from the SHA-256 digest.
const Len = 12

// Hash returns the first Len hex characters of SHA-256(inboxID).
// Callers must never log or key persisted state on the raw inbox id directly;
// this is the only form that should cross a log boundary or a store key.
func Hash(inboxID string) string {
	sum := sha256.Sum256([]byte(inboxID))
	return hex.EncodeToString(sum[:])[:Len]
}
