// Package visitors builds privacy-preserving visitor identities and keeps the
// prior-visit markers behind FIRST_VISIT / RETURNING_VISITOR detection.
package visitors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// BuildVisitorSignature creates a stable, privacy-first visitor identifier.
// IP addresses are never stored - only used in hashing. The signature is
// stable across days so a returning visitor is recognizable on later visits.
func BuildVisitorSignature(domain, ipAddress, userAgent, salt string) string {
	data := fmt.Sprintf("%s.%s.%s.%s", salt, domain, ipAddress, userAgent)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
