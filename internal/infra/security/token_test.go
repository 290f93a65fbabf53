package security

import (
	"strings"
	"testing"
)

func TestScanTokenGeneratorMint(t *testing.T) {
	gen := NewScanTokenGenerator("att")

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := gen.Mint()
		if err != nil {
			t.Fatalf("mint: %v", err)
		}
		if !strings.HasPrefix(token, "att_") {
			t.Fatalf("expected att_ prefix, got %q", token)
		}
		if seen[token] {
			t.Fatalf("duplicate token minted: %q", token)
		}
		seen[token] = true
	}
}

func TestScanTokenGeneratorDefaultPrefix(t *testing.T) {
	gen := NewScanTokenGenerator("")
	token, err := gen.Mint()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !strings.HasPrefix(token, "att_") {
		t.Fatalf("expected default prefix, got %q", token)
	}
}
