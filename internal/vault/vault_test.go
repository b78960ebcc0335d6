package vault

import (
	"bytes"
	"testing"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	k1 := DeriveKey([]byte("hunter2"), salt)
	k2 := DeriveKey([]byte("hunter2"), salt)
	if k1 != k2 {
		t.Fatalf("expected deterministic derivation for same passphrase+salt")
	}
	k3 := DeriveKey([]byte("different"), salt)
	if k1 == k3 {
		t.Fatalf("expected different passphrases to derive different keys")
	}
}

func TestSealAndOpenCheckRoundTrip(t *testing.T) {
	key := DeriveKey([]byte("correct-horse"), []byte("0123456789abcdef"))
	sealed, err := sealCheck(key)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := openCheck(key, sealed); err != nil {
		t.Fatalf("expected correct key to open check, got %v", err)
	}

	wrongKey := DeriveKey([]byte("wrong-password"), []byte("0123456789abcdef"))
	if err := openCheck(wrongKey, sealed); err == nil {
		t.Fatalf("expected wrong key to fail the check")
	}
}

func TestHexRawKeyFormat(t *testing.T) {
	key := DeriveKey([]byte("p"), []byte("0123456789abcdef"))
	raw := key.HexRawKey()
	if !bytes.HasPrefix([]byte(raw), []byte(`"x'`)) {
		t.Fatalf("expected raw key literal to start with \"x', got %s", raw)
	}
}

func TestSanitizeID(t *testing.T) {
	cases := map[string]string{
		"My Vault":    "my-vault",
		"Work_Notes":  "work-notes",
		"!!!":         "",
		"Already-ok":  "already-ok",
	}
	for in, want := range cases {
		got := sanitizeID(in)
		if want == "" {
			if got == "" {
				t.Fatalf("sanitizeID(%q) should fall back to a generated id, got empty", in)
			}
			continue
		}
		if got != want {
			t.Fatalf("sanitizeID(%q) = %q, want %q", in, got, want)
		}
	}
}
