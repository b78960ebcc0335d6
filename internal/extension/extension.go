package extension

import (
	"archive/zip"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/haexhub/haexvault/internal/apperr"
	"github.com/haexhub/haexvault/internal/extcrypto"
	"github.com/haexhub/haexvault/internal/permission"
	"github.com/haexhub/haexvault/internal/sqlexec"
)

// Source distinguishes an extension loaded from the production bundle
// directory from one pointed at a dev server, per §4.8's dev-first
// lookup rule.
type Source int

const (
	SourceProduction Source = iota
	SourceDevelopment
)

// Extension is one installed or loaded-for-dev extension: its manifest,
// where its bundle lives, and the permissions it currently holds.
type Extension struct {
	ID          string
	Manifest    Manifest
	Source      Source
	Path        string // production: bundle directory; dev: dev-server origin
	Permissions []permission.Permission
}

// PreviewResult is what Preview returns before anything is written to
// disk: the parsed manifest plus the exact permission requests the user
// must approve or deny to proceed with Install.
type PreviewResult struct {
	Manifest    Manifest
	Requested   []PermissionEntry
	ContentHash []byte
}

// Manager owns the production and dev extension registries, and the
// haex_extensions/haex_extension_permissions rows backing the production
// registry. Production and dev are both keyed by (public_key, name),
// per §3.3: "Dev extensions shadow Production with the same
// (public_key, name)". Dev extensions are looked up before production
// ones, letting a developer iterate on an installed extension without
// reinstalling it.
type Manager struct {
	mu                sync.RWMutex
	extensionsDir     string
	exec              *sqlexec.Executor
	production        map[string]*Extension // key: compositeKey(public_key, name)
	dev               map[string]*Extension // key: compositeKey(public_key, name)
	permissionCache   map[string][]permission.Permission // key: extension id
	missingExtensions map[string]bool                    // key: extension id
}

// NewManager creates a Manager rooted at extensionsDir, the directory
// each installed extension's versioned bundle lives under
// (extensions/<public_key>/<name>/<version>), backed by exec for the
// haex_extensions/haex_extension_permissions rows Install/Remove/
// LoadInstalled read and write.
func NewManager(extensionsDir string, exec *sqlexec.Executor) *Manager {
	return &Manager{
		extensionsDir:     extensionsDir,
		exec:              exec,
		production:        make(map[string]*Extension),
		dev:               make(map[string]*Extension),
		permissionCache:   make(map[string][]permission.Permission),
		missingExtensions: make(map[string]bool),
	}
}

func compositeKey(publicKey, name string) string {
	return publicKey + "\x00" + name
}

// Preview unpacks bundleZipPath into a scratch directory, validates its
// manifest, verifies its Ed25519 signature, and returns what would be
// granted on Install without registering anything or touching the vault
// database. Callers use this to render a permission-consent dialog
// before committing to Install.
func (m *Manager) Preview(bundleZipPath string) (PreviewResult, error) {
	scratch, err := os.MkdirTemp("", "haexvault-ext-preview-*")
	if err != nil {
		return PreviewResult{}, &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
	}
	defer os.RemoveAll(scratch)

	bundleRoot, err := extractBundle(bundleZipPath, scratch)
	if err != nil {
		return PreviewResult{}, err
	}

	manifest, hash, err := loadAndVerify(bundleRoot)
	if err != nil {
		return PreviewResult{}, err
	}

	entries := manifest.AllPermissionEntries()
	requested := make([]PermissionEntry, 0, len(entries))
	for _, e := range entries {
		requested = append(requested, e.Entry)
	}

	return PreviewResult{Manifest: manifest, Requested: requested, ContentHash: hash}, nil
}

// Install extracts bundleZipPath into a scratch directory, validates and
// verifies it exactly as Preview does, then moves the bundle into its
// final extensions/<public_key>/<name>/<version> directory (§4.8, §6)
// and, in a single transaction, INSERTs the extension row (RETURNING
// id) and INSERTs each granted permission row, per §3.4/§4.8. A PKRemap
// context is threaded through the permission inserts so a future
// adopted-row id (were ON CONFLICT adoption ever reintroduced at the
// SQL layer) would be picked up automatically; today it always resolves
// to the id this call generates, since the extension row is always a
// fresh insert. grantedOverride lets the caller deny specific entries
// requested by the manifest; any entry not present in grantedOverride is
// granted as requested.
func (m *Manager) Install(bundleZipPath string, grantedOverride map[string]permission.Status) (*Extension, error) {
	scratch, err := os.MkdirTemp("", "haexvault-ext-install-*")
	if err != nil {
		return nil, &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
	}
	defer os.RemoveAll(scratch)

	bundleRoot, err := extractBundle(bundleZipPath, scratch)
	if err != nil {
		return nil, err
	}

	manifest, _, err := loadAndVerify(bundleRoot)
	if err != nil {
		return nil, err
	}

	destDir := filepath.Join(m.extensionsDir, manifest.PublicKey, manifest.Name, manifest.Version)
	if _, err := os.Stat(destDir); err == nil {
		return nil, &apperr.ExtensionError{Kind: apperr.ExtensionInstallationFailed, Reason: fmt.Sprintf("%s@%s is already installed", manifest.Name, manifest.Version)}
	}
	if err := os.MkdirAll(filepath.Dir(destDir), 0700); err != nil {
		return nil, &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
	}
	if err := moveDir(bundleRoot, destDir); err != nil {
		return nil, &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
	}

	id := uuid.NewString()
	perms := grantPermissions(id, manifest, grantedOverride)

	if err := m.insertExtensionAndPermissions(id, manifest, perms); err != nil {
		os.RemoveAll(destDir)
		pruneEmptyParents(destDir, m.extensionsDir)
		return nil, err
	}

	ext := &Extension{
		ID:          id,
		Manifest:    manifest,
		Source:      SourceProduction,
		Path:        destDir,
		Permissions: perms,
	}

	m.mu.Lock()
	m.production[compositeKey(manifest.PublicKey, manifest.Name)] = ext
	m.permissionCache[id] = perms
	delete(m.missingExtensions, id)
	m.mu.Unlock()

	return ext, nil
}

// insertExtensionAndPermissions writes the extension row and its granted
// permission rows in a single call to Executor.Execute, which runs every
// statement it is given inside exactly one *sql.Tx — satisfying §3.4's
// "single transaction" requirement without needing a second entry point
// on Executor. A PKRemap is seeded with the generated id and consulted
// when binding each permission row's extension_id before Execute runs;
// the extension-row INSERT carries RETURNING id, and that result is read
// only after the statements have run, so it does not change the binding.
func (m *Manager) insertExtensionAndPermissions(id string, manifest Manifest, perms []permission.Permission) error {
	remap := sqlexec.NewPKRemap()
	remap.Put("haex_extensions", id, id)

	var sb strings.Builder
	sb.WriteString(`INSERT INTO haex_extensions(id, public_key, name, version, author, entry, icon, homepage, description, signature, enabled, last_accessed) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	params := []interface{}{
		id, manifest.PublicKey, manifest.Name, manifest.Version,
		nullIfEmpty(manifest.Author), manifest.Entry, nullIfEmpty(manifest.Icon),
		nullIfEmpty(manifest.Homepage), nullIfEmpty(manifest.Description),
		manifest.Signature, 1, nil,
	}

	extensionID := remap.Resolve("haex_extensions", id)
	for _, p := range perms {
		constraints, err := marshalConstraints(p.Constraints)
		if err != nil {
			return err
		}
		sb.WriteString(`; INSERT INTO haex_extension_permissions(id, extension_id, resource_type, action, target, constraints, status) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		params = append(params, p.ID, extensionID, string(p.ResourceType), p.Action, p.Target, constraints, string(p.Status))
	}

	rows, err := m.exec.Execute(sb.String(), params)
	if err != nil {
		return err
	}
	if len(rows) == 1 {
		if returned, ok := rows[0]["id"].(string); ok {
			remap.Put("haex_extensions", id, returned)
		}
	}
	return nil
}

// Remove deletes an installed extension's haex_extensions and
// haex_extension_permissions rows (permissions first, then the
// extension row, in one transaction per §3.4), then its bundle
// directory, pruning empty parent directories (name, public_key)
// upward while they remain empty.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	key, ext, ok := m.findProductionLocked(id)
	if ok {
		delete(m.production, key)
	}
	delete(m.permissionCache, id)
	delete(m.missingExtensions, id)
	m.mu.Unlock()

	if !ok {
		return &apperr.ExtensionError{Kind: apperr.ExtensionNotFound, Reason: "extension " + id + " is not installed"}
	}

	if _, err := m.exec.Execute(
		`DELETE FROM haex_extension_permissions WHERE extension_id = ?; DELETE FROM haex_extensions WHERE id = ?`,
		[]interface{}{id, id},
	); err != nil {
		return err
	}

	if err := os.RemoveAll(ext.Path); err != nil {
		return &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
	}
	pruneEmptyParents(ext.Path, m.extensionsDir)
	return nil
}

func (m *Manager) findProductionLocked(id string) (string, *Extension, bool) {
	for key, ext := range m.production {
		if ext.ID == id {
			return key, ext, true
		}
	}
	return "", nil, false
}

// RegisterDev points id at a local dev-server bundle, shadowing any
// installed production extension with the same (public_key, name) until
// UnregisterDev is called. The manifest is read straight from devPath (a
// filesystem directory serving the dev bundle) so the developer's edits
// are picked up without reinstalling. Dev registrations are never
// written to the vault database; they are process-local only.
func (m *Manager) RegisterDev(id, devPath string) error {
	manifest, _, err := loadAndVerify(devPath)
	if err != nil {
		return err
	}
	perms := grantPermissions(id, manifest, nil)

	m.mu.Lock()
	m.dev[compositeKey(manifest.PublicKey, manifest.Name)] = &Extension{
		ID: id, Manifest: manifest, Source: SourceDevelopment, Path: devPath, Permissions: perms,
	}
	m.mu.Unlock()
	return nil
}

// UnregisterDev removes a dev shadow, un-shadowing the production
// extension (if any) with the same (public_key, name).
func (m *Manager) UnregisterDev(id string) {
	m.mu.Lock()
	for key, ext := range m.dev {
		if ext.ID == id {
			delete(m.dev, key)
			break
		}
	}
	m.mu.Unlock()
}

// Get looks up id, preferring the dev registry over production.
func (m *Manager) Get(id string) (*Extension, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ext := range m.dev {
		if ext.ID == id {
			return ext, nil
		}
	}
	for _, ext := range m.production {
		if ext.ID == id {
			return ext, nil
		}
	}
	return nil, &apperr.ExtensionError{Kind: apperr.ExtensionNotFound, Reason: "extension " + id + " is not loaded"}
}

// List returns every extension known to the manager, dev entries
// shadowing their production counterpart where (public_key, name)
// collide.
func (m *Manager) List() []*Extension {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool, len(m.dev)+len(m.production))
	out := make([]*Extension, 0, len(m.dev)+len(m.production))
	for key, ext := range m.dev {
		out = append(out, ext)
		seen[key] = true
	}
	for key, ext := range m.production {
		if seen[key] {
			continue
		}
		out = append(out, ext)
	}
	return out
}

// LoadInstalled reads every row out of haex_extensions and
// haex_extension_permissions and registers each extension whose bundle
// directory and manifest.json still exist on disk under
// extensions/<public_key>/<name>/<version>, per §3.4's "Load-at-open"
// step. A row whose on-disk directory has gone missing is recorded as
// missing instead of failing the whole load.
func (m *Manager) LoadInstalled() error {
	rows, err := m.exec.Execute(
		`SELECT id, public_key, name, version, author, entry, icon, homepage, description, signature FROM haex_extensions`,
		nil,
	)
	if err != nil {
		return err
	}

	permRows, err := m.exec.Execute(
		`SELECT id, extension_id, resource_type, action, target, constraints, status FROM haex_extension_permissions`,
		nil,
	)
	if err != nil {
		return err
	}

	permsByExt := make(map[string][]permission.Permission, len(permRows))
	for _, r := range permRows {
		p := permission.Permission{
			ID:           rowString(r, "id"),
			ExtensionID:  rowString(r, "extension_id"),
			ResourceType: permission.ResourceType(rowString(r, "resource_type")),
			Action:       rowString(r, "action"),
			Target:       rowString(r, "target"),
			Status:       permission.Status(rowString(r, "status")),
		}
		unmarshalConstraints(rowString(r, "constraints"), &p.Constraints)
		permsByExt[p.ExtensionID] = append(permsByExt[p.ExtensionID], p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rows {
		id := rowString(r, "id")
		manifest := Manifest{
			Name:        rowString(r, "name"),
			Version:     rowString(r, "version"),
			Author:      rowString(r, "author"),
			Entry:       rowString(r, "entry"),
			Icon:        rowString(r, "icon"),
			PublicKey:   rowString(r, "public_key"),
			Signature:   rowString(r, "signature"),
			Homepage:    rowString(r, "homepage"),
			Description: rowString(r, "description"),
		}

		bundleDir := filepath.Join(m.extensionsDir, manifest.PublicKey, manifest.Name, manifest.Version)
		if _, err := os.Stat(filepath.Join(bundleDir, ManifestFileName)); err != nil {
			m.missingExtensions[id] = true
			continue
		}

		perms := permsByExt[id]
		m.production[compositeKey(manifest.PublicKey, manifest.Name)] = &Extension{
			ID: id, Manifest: manifest, Source: SourceProduction, Path: bundleDir, Permissions: perms,
		}
		m.permissionCache[id] = perms
		delete(m.missingExtensions, id)
	}
	return nil
}

// Missing reports the ids LoadInstalled could not resolve to a valid
// bundle.
func (m *Manager) Missing() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.missingExtensions))
	for id := range m.missingExtensions {
		out = append(out, id)
	}
	return out
}

// Validator returns a permission.Validator scoped to id's own-table
// prefix and currently granted permissions, for use by the SQL bridge
// before an extension's query reaches the executor.
func (m *Manager) Validator(id string) (*permission.Validator, error) {
	ext, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return &permission.Validator{
		ExtensionID: id,
		PublicKey:   ext.Manifest.PublicKey,
		Name:        ext.Manifest.Name,
		Granted:     ext.Permissions,
	}, nil
}

func grantPermissions(extensionID string, manifest Manifest, override map[string]permission.Status) []permission.Permission {
	entries := manifest.AllPermissionEntries()
	perms := make([]permission.Permission, 0, len(entries))
	for _, e := range entries {
		status := permission.StatusGranted
		key := e.Resource + ":" + e.Entry.Target + ":" + e.Entry.Operation
		if override != nil {
			if s, ok := override[key]; ok {
				status = s
			}
		}
		constraints := permission.Constraints{}
		decodeConstraints(e.Entry.Constraints, &constraints)
		perms = append(perms, permission.Permission{
			ID:           uuid.NewString(),
			ExtensionID:  extensionID,
			ResourceType: permission.ResourceType(e.Resource),
			Action:       e.Entry.Operation,
			Target:       e.Entry.Target,
			Constraints:  constraints,
			Status:       status,
		})
	}
	return perms
}

func decodeConstraints(raw map[string]interface{}, out *permission.Constraints) {
	if raw == nil {
		return
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, out)
}

func marshalConstraints(c permission.Constraints) (interface{}, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, &apperr.ExtensionError{Kind: apperr.ExtensionManifestError, Reason: err.Error()}
	}
	return string(b), nil
}

func unmarshalConstraints(raw string, out *permission.Constraints) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), out)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func rowString(r sqlexec.Row, key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// pruneEmptyParents removes versionDir's parent directories (the
// extension's name and public_key directories) while they remain empty,
// stopping at root, per §3.4's "prune empty parent directories" step.
func pruneEmptyParents(versionDir, root string) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return
	}
	dir, err := filepath.Abs(filepath.Dir(versionDir))
	if err != nil {
		return
	}
	for dir != rootAbs && len(dir) > len(rootAbs) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// moveDir relocates src to dst, preferring a rename and falling back to
// a recursive copy-then-remove when src and dst straddle a filesystem
// boundary (e.g. a scratch directory under the OS temp dir moved into
// the vault's own extensions directory).
func moveDir(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyDirTree(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func copyDirTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0700)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0600)
	})
}

// extractBundle unzips zipPath into destDir and returns the directory
// holding manifest.json, which per §4.7 may be the bundle root itself or
// a single top-level subdirectory (the common shape when a zip tool
// wraps the bundle in its own folder).
func extractBundle(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
	}
	defer r.Close()

	destAbs, err := filepath.Abs(destDir)
	if err != nil {
		return "", &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
	}

	for _, f := range r.File {
		target := filepath.Join(destAbs, filepath.FromSlash(f.Name))
		targetAbs, err := filepath.Abs(target)
		if err != nil || !isWithin(destAbs, targetAbs) {
			return "", &apperr.ExtensionError{Kind: apperr.ExtensionSecurityViolation, Reason: "bundle entry escapes destination: " + f.Name}
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(targetAbs, 0700); err != nil {
				return "", &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(targetAbs), 0700); err != nil {
			return "", &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
		}
		if err := extractFile(f, targetAbs); err != nil {
			return "", &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
		}
	}

	return locateManifestDir(destDir)
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func isWithin(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// locateManifestDir returns dir if manifest.json sits at its root, or the
// single subdirectory containing it when the bundle was wrapped in an
// extra folder. Any other shape is rejected.
func locateManifestDir(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, ManifestFileName)); err == nil {
		return dir, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
	}
	var subdirs []fs.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e)
		}
	}
	if len(subdirs) == 1 {
		candidate := filepath.Join(dir, subdirs[0].Name())
		if _, err := os.Stat(filepath.Join(candidate, ManifestFileName)); err == nil {
			return candidate, nil
		}
	}
	return "", &apperr.ExtensionError{Kind: apperr.ExtensionManifestError, Reason: "bundle does not contain manifest.json at its root or in a single subdirectory"}
}

// loadAndVerify reads manifest.json from bundleRoot, validates its
// schema, recomputes the bundle's content hash, and checks the
// manifest's signature against its own declared public_key.
func loadAndVerify(bundleRoot string) (Manifest, []byte, error) {
	raw, err := os.ReadFile(filepath.Join(bundleRoot, ManifestFileName))
	if err != nil {
		return Manifest{}, nil, &apperr.ExtensionError{Kind: apperr.ExtensionFilesystem, Reason: err.Error()}
	}

	manifest, err := ParseManifest(raw)
	if err != nil {
		return Manifest{}, nil, err
	}

	hash, err := extcrypto.HashBundle(bundleRoot)
	if err != nil {
		return Manifest{}, nil, err
	}

	pubBytes, err := hex.DecodeString(manifest.PublicKey)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return Manifest{}, nil, &apperr.ExtensionError{Kind: apperr.ExtensionValidationError, Reason: "invalid public_key encoding"}
	}
	sigBytes, err := hex.DecodeString(manifest.Signature)
	if err != nil {
		return Manifest{}, nil, &apperr.ExtensionError{Kind: apperr.ExtensionValidationError, Reason: "invalid signature encoding"}
	}

	ok, err := extcrypto.VerifySignature(ed25519.PublicKey(pubBytes), hash, sigBytes)
	if err != nil {
		return Manifest{}, nil, err
	}
	if !ok {
		return Manifest{}, nil, &apperr.ExtensionError{Kind: apperr.ExtensionSignatureVerificationFailed, Reason: fmt.Sprintf("signature does not match content hash for %s", manifest.Name)}
	}

	return manifest, hash, nil
}
