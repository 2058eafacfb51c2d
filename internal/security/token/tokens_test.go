package tokens

import (
	"encoding/base64"
	"testing"
)

func TestGenerateOpaqueToken(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := GenerateOpaqueToken(32)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		b, err := base64.RawURLEncoding.DecodeString(tok)
		if err != nil || len(b) != 32 {
			t.Fatalf("token %q is not 32 bytes of base64url", tok)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestGenerateOpaqueTokenRejectsShort(t *testing.T) {
	if _, err := GenerateOpaqueToken(8); err == nil {
		t.Fatal("expected error for 64-bit token")
	}
}

func TestSHA256Hex(t *testing.T) {
	const want = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := SHA256Hex(""); got != want {
		t.Fatalf("got %s", got)
	}
}
