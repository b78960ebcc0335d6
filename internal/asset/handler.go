// Package asset implements the custom URI-scheme handler extensions load
// their static files through, per §4.10. It is grounded on the teacher's
// pkg/api/api.go HTTP handler style (explicit status codes, one handler
// method per concern) generalized from a REST API to a single
// asset-serving endpoint with the teacher's path-containment discipline
// carried over from internal/vault's directory-scoping logic.
package asset

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Identity is the decoded host component of an asset request URI:
// {publicKey, name, version} identifying the requesting extension.
type Identity struct {
	PublicKey string `json:"publicKey"`
	Name      string `json:"name"`
	Version   string `json:"version"`
}

// BundleLocator resolves an Identity to the filesystem directory holding
// that extension's bundle, so the handler stays independent of how
// extensions are actually stored (installed vs. dev-server).
type BundleLocator func(id Identity) (string, error)

// Handler serves extension assets over a registered custom URI scheme.
// Host is the hex-encoded JSON identity; Path is the requested asset
// path within the bundle.
type Handler struct {
	Locate BundleLocator
}

// NewHandler creates a Handler backed by locate.
func NewHandler(locate BundleLocator) *Handler {
	return &Handler{Locate: locate}
}

// ServeHTTP implements the asset protocol steps from §4.10: decode the
// host, locate the bundle, resolve and contain the requested path, then
// serve the file with MIME type, Content-Length, and byte-range support.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := DecodeIdentity(r.URL.Host)
	if err != nil {
		http.Error(w, "invalid extension identity", http.StatusInternalServerError)
		return
	}

	bundleRoot, err := h.Locate(identity)
	if err != nil {
		http.Error(w, "extension not found", http.StatusNotFound)
		return
	}

	assetPath, err := ResolveAssetPath(bundleRoot, r.URL.Path)
	if err != nil {
		if errors.Is(err, errPathEscape) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		http.Error(w, "invalid path", http.StatusInternalServerError)
		return
	}

	f, err := os.Open(assetPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if os.IsPermission(err) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if info.IsDir() {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType(assetPath))
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, assetPath, info.ModTime(), f)
}

// DecodeIdentity hex-decodes and JSON-parses host into an Identity.
func DecodeIdentity(host string) (Identity, error) {
	raw, err := hex.DecodeString(host)
	if err != nil {
		return Identity{}, err
	}
	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// EncodeIdentity is DecodeIdentity's inverse, used by callers constructing
// asset URIs.
func EncodeIdentity(id Identity) (string, error) {
	raw, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

var errPathEscape = errors.New("asset: requested path escapes bundle root")

// ResolveAssetPath joins requestPath onto bundleRoot after stripping ".."
// segments and normalizing separators, then verifies the canonical
// result is a descendant of bundleRoot. Any other outcome is rejected
// rather than silently clamped, per §4.10's SECURITY note.
func ResolveAssetPath(bundleRoot, requestPath string) (string, error) {
	cleaned := path.Clean("/" + strings.ReplaceAll(requestPath, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		cleaned = "index.html"
	}

	rootAbs, err := filepath.Abs(bundleRoot)
	if err != nil {
		return "", err
	}
	candidate := filepath.Join(rootAbs, filepath.FromSlash(cleaned))
	candidateAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", err
	}

	if !isDescendant(rootAbs, candidateAbs) {
		return "", errPathEscape
	}

	// Resolve symlinks so a link planted inside the bundle can't point
	// back out of it.
	resolved, err := filepath.EvalSymlinks(candidateAbs)
	if err != nil {
		if os.IsNotExist(err) {
			return candidateAbs, nil
		}
		return "", err
	}
	resolvedRoot, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", err
	}
	if !isDescendant(resolvedRoot, resolved) {
		return "", errPathEscape
	}
	return resolved, nil
}

func isDescendant(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// contentType derives a MIME type from assetPath's extension, falling
// back to the generic octet-stream type mime.TypeByExtension returns
// nothing for.
func contentType(assetPath string) string {
	ext := filepath.Ext(assetPath)
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
