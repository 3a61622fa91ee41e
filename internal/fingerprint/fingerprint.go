// Package fingerprint derives loggable identifiers for secret material.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// prefixLen is the number of hex characters kept from the SHA-256 digest.
// Short enough to stay useless for reconstructing the token, long enough
// to disambiguate credentials in logs.
const prefixLen = 12

// Of returns a short SHA-256 prefix of token, safe to log or store as a
// duplicate-detection key. The full digest is never retained.
func Of(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:prefixLen]
}
