// Package extension manages the extension lifecycle: preview, install,
// remove, and load-at-startup, per §4.8. Manifest validation is grounded
// on the teacher's internal/schema/validator.go, generalized from
// entry-content schemas to a fixed extension-manifest schema.
package extension

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/haexhub/haexvault/internal/apperr"
)

// PermissionEntry is one manifest-declared permission request, before it
// becomes a permission.Permission row (which additionally carries a
// Status and an HLC timestamp).
type PermissionEntry struct {
	Target      string                 `json:"target"`
	Operation   string                 `json:"operation,omitempty"`
	Constraints map[string]interface{} `json:"constraints,omitempty"`
}

// PermissionsManifest groups declared permissions by resource type.
type PermissionsManifest struct {
	Database   []PermissionEntry `json:"database,omitempty"`
	Filesystem []PermissionEntry `json:"filesystem,omitempty"`
	Http       []PermissionEntry `json:"http,omitempty"`
	Shell      []PermissionEntry `json:"shell,omitempty"`
}

// Manifest is the parsed contents of an extension's manifest.json.
type Manifest struct {
	Name        string               `json:"name"`
	Version     string               `json:"version"`
	Author      string               `json:"author,omitempty"`
	Entry       string               `json:"entry"`
	Icon        string               `json:"icon,omitempty"`
	PublicKey   string               `json:"public_key"`
	Signature   string               `json:"signature"`
	Permissions PermissionsManifest  `json:"permissions"`
	Homepage    string               `json:"homepage,omitempty"`
	Description string               `json:"description,omitempty"`
}

// manifestSchemaJSON is the fixed JSON Schema every manifest.json must
// satisfy before the manager trusts its shape, mirroring the way the
// teacher's schema.Registry compiles a gojsonschema.Schema once and
// reuses it for every validation call.
const manifestSchemaJSON = `{
  "type": "object",
  "required": ["name", "version", "entry", "public_key", "signature"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "author": {"type": "string"},
    "entry": {"type": "string", "minLength": 1},
    "icon": {"type": "string"},
    "public_key": {"type": "string", "pattern": "^[0-9a-fA-F]{64}$"},
    "signature": {"type": "string"},
    "homepage": {"type": "string"},
    "description": {"type": "string"},
    "permissions": {
      "type": "object",
      "properties": {
        "database": {"type": "array"},
        "filesystem": {"type": "array"},
        "http": {"type": "array"},
        "shell": {"type": "array"}
      }
    }
  }
}`

var compiledManifestSchema *gojsonschema.Schema

func manifestSchema() (*gojsonschema.Schema, error) {
	if compiledManifestSchema != nil {
		return compiledManifestSchema, nil
	}
	loader := gojsonschema.NewStringLoader(manifestSchemaJSON)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest schema: %w", err)
	}
	compiledManifestSchema = schema
	return schema, nil
}

// ParseManifest validates raw manifest.json bytes against the schema and
// decodes them into a Manifest.
func ParseManifest(raw []byte) (Manifest, error) {
	schema, err := manifestSchema()
	if err != nil {
		return Manifest{}, &apperr.ExtensionError{Kind: apperr.ExtensionManifestError, Reason: err.Error()}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Manifest{}, &apperr.ExtensionError{Kind: apperr.ExtensionManifestError, Reason: err.Error()}
	}
	if !result.Valid() {
		msgs := ""
		for i, e := range result.Errors() {
			if i > 0 {
				msgs += "; "
			}
			msgs += e.String()
		}
		return Manifest{}, &apperr.ExtensionError{Kind: apperr.ExtensionValidationError, Reason: msgs}
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, &apperr.ExtensionError{Kind: apperr.ExtensionManifestError, Reason: err.Error()}
	}
	return m, nil
}

// AllPermissionEntries flattens the manifest's grouped permissions into a
// single (resourceType, entry) sequence, in database/filesystem/http/shell
// order.
func (m Manifest) AllPermissionEntries() []struct {
	Resource string
	Entry    PermissionEntry
} {
	var out []struct {
		Resource string
		Entry    PermissionEntry
	}
	add := func(resource string, entries []PermissionEntry) {
		for _, e := range entries {
			out = append(out, struct {
				Resource string
				Entry    PermissionEntry
			}{Resource: resource, Entry: e})
		}
	}
	add("db", m.Permissions.Database)
	add("fs", m.Permissions.Filesystem)
	add("http", m.Permissions.Http)
	add("shell", m.Permissions.Shell)
	return out
}
