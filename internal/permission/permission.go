// Package permission models the capability grants an extension can hold
// (database, filesystem, http, shell) and validates extension-submitted
// SQL against them before it reaches the executor, per §4.9.
package permission

import (
	"strings"

	"github.com/haexhub/haexvault/internal/apperr"
	"github.com/haexhub/haexvault/internal/sqlast"
)

// ResourceType enumerates the four capability domains an extension can
// request.
type ResourceType string

const (
	ResourceDB    ResourceType = "db"
	ResourceFS    ResourceType = "fs"
	ResourceHTTP  ResourceType = "http"
	ResourceShell ResourceType = "shell"
)

// Status is the grant state of a permission.
type Status string

const (
	StatusAsk     Status = "ask"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
)

// Constraints carries the type-specific limits a permission can declare.
// Only the fields relevant to ResourceType are populated; the rest are
// left at their zero value.
type Constraints struct {
	// db
	Columns []string `json:"columns,omitempty"`
	// fs
	MaxFileSizeBytes int64    `json:"maxFileSizeBytes,omitempty"`
	AllowedExt       []string `json:"allowedExt,omitempty"`
	// http
	Methods   []string `json:"methods,omitempty"`
	RateLimit int      `json:"rateLimit,omitempty"`
	// shell
	AllowedSubcommands []string `json:"allowedSubcommands,omitempty"`
	AllowedFlags       []string `json:"allowedFlags,omitempty"`
	ForbiddenArgs      []string `json:"forbiddenArgs,omitempty"`
}

// Permission is one capability grant belonging to an extension.
type Permission struct {
	ID            string
	ExtensionID   string
	ResourceType  ResourceType
	Action        string // "read"/"read_write" for db/fs; HTTP method; shell subcommand/flag
	Target        string // glob, table name, host, or path
	Constraints   Constraints
	Status        Status
	HLCTimestamp  string
}

// Requirement is a single (action, table) obligation a SQL statement
// imposes, derived by Validator.Requirements.
type Requirement struct {
	Action string // "read" or "read_write"
	Table  string
}

// Validator checks a batch of Requirements against a set of granted
// Permissions for one extension.
type Validator struct {
	ExtensionID string
	PublicKey   string
	Name        string
	Granted     []Permission
}

// Requirements derives the required (action, table) pairs for stmt per
// the table in §4.9. Statement kinds outside the table are rejected with
// *apperr.UnsupportedStatement.
func Requirements(stmt sqlast.Statement) ([]Requirement, error) {
	switch s := stmt.(type) {
	case *sqlast.SelectStmt:
		var reqs []Requirement
		for _, t := range sqlast.ExtractTableNames(s) {
			reqs = append(reqs, Requirement{Action: "read", Table: t})
		}
		return reqs, nil
	case *sqlast.InsertStmt:
		return []Requirement{{Action: "read_write", Table: s.Table}}, nil
	case *sqlast.UpdateStmt:
		return []Requirement{{Action: "read_write", Table: s.Table}}, nil
	case *sqlast.DeleteStmt:
		return []Requirement{{Action: "read_write", Table: s.Table}}, nil
	case *sqlast.CreateTableStmt:
		return []Requirement{{Action: "read_write", Table: s.Table}}, nil
	case *sqlast.AlterTableStmt, *sqlast.DropStmt:
		var reqs []Requirement
		for _, t := range sqlast.ExtractTableNames(stmt) {
			reqs = append(reqs, Requirement{Action: "read_write", Table: t})
		}
		return reqs, nil
	default:
		return nil, &apperr.UnsupportedStatement{SQL: sqlast.Print(stmt), Reason: "statement kind is not permitted for extension SQL"}
	}
}

// ownTablePrefix returns the auto-grant prefix "{publicKey}__{name}__"
// for this extension.
func (v *Validator) ownTablePrefix() string {
	return v.PublicKey + "__" + v.Name + "__"
}

func (v *Validator) isOwnTable(table string) bool {
	return strings.HasPrefix(strings.ToLower(table), strings.ToLower(v.ownTablePrefix()))
}

func (v *Validator) hasGrant(action, table string) bool {
	for _, p := range v.Granted {
		if p.ResourceType != ResourceDB || p.Status != StatusGranted {
			continue
		}
		if !strings.EqualFold(p.Target, table) {
			continue
		}
		if p.Action == action || (p.Action == "read_write" && action == "read") {
			return true
		}
	}
	return false
}

// Validate parses sqlText once and checks that every derived requirement
// is satisfied either by an own-table auto-grant or an explicit granted
// permission. It returns the first unmet requirement as a
// *apperr.PermissionError.
func (v *Validator) Validate(sqlText string) error {
	stmts, err := sqlast.ParseMany(sqlText)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		reqs, err := Requirements(stmt)
		if err != nil {
			return err
		}
		for _, r := range reqs {
			if v.isOwnTable(r.Table) {
				continue
			}
			if !v.hasGrant(r.Action, r.Table) {
				return &apperr.PermissionError{
					ExtensionID: v.ExtensionID,
					Operation:   r.Action,
					Resource:    r.Table,
					Reason:      "no granted permission covers this table",
				}
			}
		}
	}
	return nil
}
