// Package extcrypto computes the deterministic content hash of an
// extension bundle and verifies its Ed25519 signature, per §4.7. It
// generalizes the teacher's pkg/crypto primitives (Argon2id/XChaCha20 are
// vault concerns, not bundle concerns) to SHA-256 content hashing plus
// stdlib Ed25519, since bundle integrity only needs signing, not secrecy.
package extcrypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haexhub/haexvault/internal/apperr"
)

// ManifestFileName is the required bundle-root manifest file.
const ManifestFileName = "manifest.json"

var errPathEscape = errors.New("extcrypto: manifest path escapes bundle root")

// HashBundle computes the deterministic content hash of the bundle rooted
// at dir: enumerate files, normalize each relative path to forward
// slashes, sort by path, and hash the concatenation of file contents in
// that order. manifest.json is special-cased: it is parsed as JSON, its
// "signature" field is blanked, and the canonical pretty-printed,
// sorted-key, LF-terminated re-serialization is hashed in place of the
// raw bytes, so a signature written into the file doesn't invalidate its
// own hash.
func HashBundle(dir string) ([]byte, error) {
	var relPaths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		relPaths = append(relPaths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
	}
	sort.Strings(relPaths)

	h := sha256.New()
	for _, rel := range relPaths {
		abs := filepath.Join(dir, filepath.FromSlash(rel))

		absClean, err := filepath.Abs(abs)
		if err != nil {
			return nil, &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
		}
		rootClean, err := filepath.Abs(dir)
		if err != nil {
			return nil, &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
		}
		if !isDescendant(rootClean, absClean) {
			return nil, &apperr.ExtensionError{Kind: apperr.ExtensionSecurityViolation, Reason: errPathEscape.Error()}
		}

		if rel == ManifestFileName {
			canon, err := canonicalManifest(abs)
			if err != nil {
				return nil, err
			}
			h.Write(canon)
			continue
		}

		content, err := os.ReadFile(abs)
		if err != nil {
			return nil, &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
		}
		h.Write(content)
	}
	return h.Sum(nil), nil
}

func isDescendant(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// canonicalManifest reads manifestPath, blanks the "signature" field, and
// re-serializes pretty-printed with sorted keys and LF line endings.
func canonicalManifest(manifestPath string) ([]byte, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &apperr.ExtensionError{Kind: apperr.ExtensionManifestError, Reason: err.Error()}
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &apperr.ExtensionError{Kind: apperr.ExtensionManifestError, Reason: err.Error()}
	}
	m["signature"] = ""

	return marshalCanonicalJSON(m)
}

// marshalCanonicalJSON pretty-prints v with lexicographically sorted
// object keys at every level and normalizes CRLF to LF.
func marshalCanonicalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v, ""); err != nil {
		return nil, err
	}
	return bytes.ReplaceAll(buf.Bytes(), []byte("\r\n"), []byte("\n")), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}, indent string) error {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteString("{\n")
		childIndent := indent + "  "
		for i, k := range keys {
			buf.WriteString(childIndent)
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteString(": ")
			if err := writeCanonical(buf, val[k], childIndent); err != nil {
				return err
			}
			if i < len(keys)-1 {
				buf.WriteString(",")
			}
			buf.WriteString("\n")
		}
		buf.WriteString(indent + "}")
	case []interface{}:
		buf.WriteString("[\n")
		childIndent := indent + "  "
		for i, item := range val {
			buf.WriteString(childIndent)
			if err := writeCanonical(buf, item, childIndent); err != nil {
				return err
			}
			if i < len(val)-1 {
				buf.WriteString(",")
			}
			buf.WriteString("\n")
		}
		buf.WriteString(indent + "]")
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// VerifySignature verifies sig (raw Ed25519 signature bytes) over the
// hex-encoded content hash using publicKey. Returns false rather than an
// error for a plain signature mismatch; only malformed inputs error.
func VerifySignature(publicKey ed25519.PublicKey, contentHash []byte, sig []byte) (bool, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return false, &apperr.ExtensionError{Kind: apperr.ExtensionValidationError, Reason: "invalid public key size"}
	}
	message := []byte(hex.EncodeToString(contentHash))
	return ed25519.Verify(publicKey, message, sig), nil
}
