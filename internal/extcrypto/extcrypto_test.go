package extcrypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeBundle(t *testing.T, dir string, manifest map[string]interface{}, files map[string]string) {
	t.Helper()
	for name, content := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestHashBundleStableAcrossSignatureField(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, map[string]interface{}{
		"name": "pm", "version": "1.0.0", "signature": "",
	}, map[string]string{"entry.js": "console.log(1)"})

	h1, err := HashBundle(dir)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	// Rewrite manifest with a populated signature field; hash must be
	// unaffected since signature is blanked before hashing.
	writeBundle(t, dir, map[string]interface{}{
		"name": "pm", "version": "1.0.0", "signature": "deadbeef",
	}, map[string]string{"entry.js": "console.log(1)"})

	h2, err := HashBundle(dir)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if string(h1) != string(h2) {
		t.Fatalf("expected hash to be stable across signature field changes")
	}
}

func TestHashBundleChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, map[string]interface{}{"name": "pm"}, map[string]string{"entry.js": "a"})
	h1, err := HashBundle(dir)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	writeBundle(t, dir, map[string]interface{}{"name": "pm"}, map[string]string{"entry.js": "b"})
	h2, err := HashBundle(dir)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	if string(h1) == string(h2) {
		t.Fatalf("expected hash to change when file content changes")
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, map[string]interface{}{"name": "pm", "version": "1.0.0"}, map[string]string{
		"entry.js": "console.log(1)",
	})

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	hash, err := HashBundle(dir)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sig := ed25519.Sign(priv, []byte(hex.EncodeToString(hash)))

	// Write the signature into the manifest, matching the property law's
	// "final write" — this must not change the hash the signature covers.
	writeBundle(t, dir, map[string]interface{}{
		"name": "pm", "version": "1.0.0", "signature": hex.EncodeToString(sig),
	}, map[string]string{"entry.js": "console.log(1)"})

	hashAfter, err := HashBundle(dir)
	if err != nil {
		t.Fatalf("hash after signing: %v", err)
	}

	ok, err := VerifySignature(pub, hashAfter, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected signature to verify")
	}
}

func TestSignatureRejectsTamperedContent(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, map[string]interface{}{"name": "pm"}, map[string]string{"entry.js": "original"})

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hash, err := HashBundle(dir)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sig := ed25519.Sign(priv, []byte(hex.EncodeToString(hash)))

	// Tamper with a file after signing.
	writeBundle(t, dir, map[string]interface{}{"name": "pm"}, map[string]string{"entry.js": "tampered"})
	tamperedHash, err := HashBundle(dir)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	ok, err := VerifySignature(pub, tamperedHash, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("expected tampered bundle to fail signature verification")
	}
}
