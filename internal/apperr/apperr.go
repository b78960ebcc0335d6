// Package apperr defines the typed error taxonomy shared by every layer of
// the vault core: parsing, the CRDT transformer, the executor, trigger
// setup, vault lifecycle, permissions and extensions. Callers use
// errors.As to recover structured fields instead of parsing messages.
package apperr

import "fmt"

// ParseError reports that SQL text did not parse.
type ParseError struct {
	SQL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s (sql: %s)", e.Reason, e.SQL)
}

// ParameterMismatch reports a disagreement between the number of `?`
// placeholders in a statement and the number of bound parameters.
type ParameterMismatch struct {
	Expected int
	Provided int
	SQL      string
}

func (e *ParameterMismatch) Error() string {
	return fmt.Sprintf("parameter mismatch: expected %d, got %d (sql: %s)", e.Expected, e.Provided, e.SQL)
}

// UnsupportedStatement reports a statement kind the transformer or executor
// refuses to handle (multi-table DELETE, INSERT without a source, ...).
type UnsupportedStatement struct {
	SQL    string
	Reason string
}

func (e *UnsupportedStatement) Error() string {
	return fmt.Sprintf("unsupported statement: %s (sql: %s)", e.Reason, e.SQL)
}

// ExecutionError reports that the database engine rejected a statement.
// Table is filled in lazily by whoever catches the error, since extracting
// it requires re-parsing.
type ExecutionError struct {
	SQL    string
	Table  string
	Reason string
}

func (e *ExecutionError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("execution error on %s: %s (sql: %s)", e.Table, e.Reason, e.SQL)
	}
	return fmt.Sprintf("execution error: %s (sql: %s)", e.Reason, e.SQL)
}

// HlcError reports a failure generating or persisting an HLC timestamp.
type HlcError struct {
	Reason string
}

func (e *HlcError) Error() string { return fmt.Sprintf("hlc error: %s", e.Reason) }

// TransactionError reports a failure beginning, committing or rolling back
// a transaction.
type TransactionError struct {
	Reason string
}

func (e *TransactionError) Error() string { return fmt.Sprintf("transaction error: %s", e.Reason) }

// PrepareError reports a failure preparing a statement.
type PrepareError struct {
	SQL    string
	Reason string
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("prepare error: %s (sql: %s)", e.Reason, e.SQL)
}

// QueryError reports a failure running a query.
type QueryError struct {
	SQL    string
	Reason string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query error: %s (sql: %s)", e.Reason, e.SQL)
}

// RowProcessingError reports a failure scanning or marshaling a result row.
type RowProcessingError struct {
	Reason string
}

func (e *RowProcessingError) Error() string { return fmt.Sprintf("row processing error: %s", e.Reason) }

// CrdtSetupKind distinguishes why trigger installation could not proceed.
type CrdtSetupKind int

const (
	CrdtSetupDatabaseError CrdtSetupKind = iota
	CrdtSetupTombstoneColumnMissing
	CrdtSetupPrimaryKeyMissing
)

// CrdtSetupError reports that a table failed trigger-installation
// preconditions, or that the underlying database rejected trigger DDL.
type CrdtSetupError struct {
	Kind   CrdtSetupKind
	Table  string
	Reason string
}

func (e *CrdtSetupError) Error() string {
	switch e.Kind {
	case CrdtSetupTombstoneColumnMissing:
		return fmt.Sprintf("table %s is missing haex_tombstone", e.Table)
	case CrdtSetupPrimaryKeyMissing:
		return fmt.Sprintf("table %s has no primary key", e.Table)
	default:
		return fmt.Sprintf("crdt setup error on %s: %s", e.Table, e.Reason)
	}
}

// ConnectionFailed reports a failure opening the vault database file.
type ConnectionFailed struct {
	Path   string
	Reason string
}

func (e *ConnectionFailed) Error() string {
	return fmt.Sprintf("connection failed for %s: %s", e.Path, e.Reason)
}

// PragmaError reports a failure issuing a PRAGMA during vault open.
type PragmaError struct {
	Pragma string
	Reason string
}

func (e *PragmaError) Error() string {
	return fmt.Sprintf("pragma %s failed: %s", e.Pragma, e.Reason)
}

// PathResolutionError reports a failure resolving a filesystem path
// (vault directory, extension bundle path, asset path).
type PathResolutionError struct {
	Path   string
	Reason string
}

func (e *PathResolutionError) Error() string {
	return fmt.Sprintf("path resolution failed for %s: %s", e.Path, e.Reason)
}

// IoError wraps a plain filesystem failure outside the cases above.
type IoError struct {
	Op     string
	Path   string
	Reason string
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error during %s on %s: %s", e.Op, e.Path, e.Reason)
}

// PermissionError reports that either the SQL permission validator or the
// underlying engine refused an extension's request.
type PermissionError struct {
	ExtensionID string
	Operation   string
	Resource    string
	Reason      string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied for extension %s (%s on %s): %s",
		e.ExtensionID, e.Operation, e.Resource, e.Reason)
}

// ExtensionErrorKind enumerates the extension-lifecycle failure kinds.
type ExtensionErrorKind int

const (
	ExtensionNotFound ExtensionErrorKind = iota
	ExtensionValidationError
	ExtensionSecurityViolation
	ExtensionSignatureVerificationFailed
	ExtensionInstallationFailed
	ExtensionManifestError
	ExtensionFilesystem
	ExtensionMutexPoisoned
)

func (k ExtensionErrorKind) String() string {
	switch k {
	case ExtensionNotFound:
		return "NotFound"
	case ExtensionValidationError:
		return "ValidationError"
	case ExtensionSecurityViolation:
		return "SecurityViolation"
	case ExtensionSignatureVerificationFailed:
		return "SignatureVerificationFailed"
	case ExtensionInstallationFailed:
		return "InstallationFailed"
	case ExtensionManifestError:
		return "ManifestError"
	case ExtensionFilesystem:
		return "Filesystem"
	case ExtensionMutexPoisoned:
		return "MutexPoisoned"
	default:
		return "Unknown"
	}
}

// ExtensionError reports an extension install/preview/remove failure.
type ExtensionError struct {
	Kind   ExtensionErrorKind
	Reason string
}

func (e *ExtensionError) Error() string {
	return fmt.Sprintf("extension error (%s): %s", e.Kind, e.Reason)
}
