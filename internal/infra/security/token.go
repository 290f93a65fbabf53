package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const scanTokenBytes = 24

// ScanTokenGenerator mints opaque session tokens from crypto/rand.
type ScanTokenGenerator struct {
	prefix string
}

// NewScanTokenGenerator constructs a generator. The prefix namespaces tokens
// per deployment so leaked values are attributable.
func NewScanTokenGenerator(prefix string) *ScanTokenGenerator {
	if prefix == "" {
		prefix = "att"
	}
	return &ScanTokenGenerator{prefix: prefix}
}

// Mint returns a fresh URL-safe token.
func (g *ScanTokenGenerator) Mint() (string, error) {
	buf := make([]byte, scanTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return g.prefix + "_" + base64.RawURLEncoding.EncodeToString(buf), nil
}
