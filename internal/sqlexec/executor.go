// Package sqlexec is the orchestrator every mutating and read path flows
// through: it validates placeholder counts, parses SQL, asks the CRDT
// transformer to rewrite each statement, (re)installs triggers for any
// schema touched, and executes against the open vault connection.
package sqlexec

import (
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/haexhub/haexvault/internal/apperr"
	"github.com/haexhub/haexvault/internal/crdt"
	"github.com/haexhub/haexvault/internal/hlc"
	"github.com/haexhub/haexvault/internal/sqlast"
	"github.com/haexhub/haexvault/internal/trigger"
)

// PKRemap threads a per-transaction map of (table, original primary key
// tuple) -> remapped primary key tuple, populated when an INSERT that
// would have violated a unique constraint instead adopts the existing row
// via RETURNING. Subsequent INSERTs in the same transaction consult it
// when binding foreign-key parameters. Keys and values are caller-defined
// tuple encodings (e.g. a JSON array); this type is intentionally opaque
// about their shape.
type PKRemap struct {
	entries map[string]string
}

// NewPKRemap returns an empty remap context.
func NewPKRemap() *PKRemap {
	return &PKRemap{entries: make(map[string]string)}
}

// Put records that originalPK on table was adopted as remappedPK.
func (r *PKRemap) Put(table, originalPK, remappedPK string) {
	r.entries[table+"\x00"+originalPK] = remappedPK
}

// Resolve returns the remapped PK for (table, originalPK), or originalPK
// unchanged if no remap was recorded.
func (r *PKRemap) Resolve(table, originalPK string) string {
	if v, ok := r.entries[table+"\x00"+originalPK]; ok {
		return v
	}
	return originalPK
}

// Executor is the process-wide SQL entry point for one open vault. It
// holds no connection state of its own beyond what is passed in; callers
// own the *sql.DB and *hlc.Service lifetime (see internal/appstate).
type Executor struct {
	DB  *sql.DB
	HLC *hlc.Service
}

// New returns an Executor bound to db and an HLC service.
func New(db *sql.DB, h *hlc.Service) *Executor {
	return &Executor{DB: db, HLC: h}
}

// Row is one result row from a SELECT, keyed by column name, with values
// already converted to the caller's JSON value space.
type Row map[string]interface{}

func placeholderCount(sqlText string) int {
	return sqlast.CountPlaceholders(sqlText)
}

// ExecuteJSON runs sqlText (one or more statements) against the vault with
// JSON-valued parameters, stamping a single HLC timestamp for the whole
// call and (re)installing triggers for any schema touched. Returns the
// rows of the last statement that yields rows (a RETURNING clause or a
// SELECT), if any.
func (e *Executor) ExecuteJSON(sqlText string, params []interface{}) ([]Row, error) {
	sqlParams, err := convertParams(params)
	if err != nil {
		return nil, err
	}
	return e.Execute(sqlText, sqlParams)
}

func convertParams(params []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(params))
	for i, p := range params {
		v, err := sqlast.JSONToSQLValue(p)
		if err != nil {
			return nil, &apperr.RowProcessingError{Reason: err.Error()}
		}
		out[i] = v
	}
	return out, nil
}

// Execute runs sqlText with already-driver-typed parameters. It is the
// shared path beneath ExecuteJSON and any strongly-typed entry point.
func (e *Executor) Execute(sqlText string, params []interface{}) ([]Row, error) {
	if want := placeholderCount(sqlText); want >= 0 && want != len(params) {
		return nil, &apperr.ParameterMismatch{Expected: want, Provided: len(params), SQL: sqlText}
	}

	stmts, err := sqlast.ParseMany(sqlText)
	if err != nil {
		return nil, err // already a *apperr.ParseError
	}

	tx, err := e.DB.Begin()
	if err != nil {
		return nil, &apperr.TransactionError{Reason: err.Error()}
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	ts, err := e.HLC.NewTimestampAndPersist(tx)
	if err != nil {
		return nil, err
	}

	var schemaTouched []crdt.Result
	var lastRows []Row
	paramIdx := 0

	for _, stmt := range stmts {
		res, err := crdt.Transform(stmt, string(ts))
		if err != nil {
			return nil, err
		}
		if res.SchemaTouched != "" {
			schemaTouched = append(schemaTouched, res)
		}

		rendered := sqlast.Print(res.Statement)
		nParams := strings.Count(rendered, "?")
		thisParams := params[paramIdx : paramIdx+nParams]
		paramIdx += nParams

		returning := returningColumns(res.Statement)
		if len(returning) > 0 {
			rows, err := e.execReturning(tx, rendered, thisParams)
			if err != nil {
				return nil, withTable(err, res.Statement)
			}
			lastRows = rows
		} else if isQuery(res.Statement) {
			rows, err := e.execQuery(tx, rendered, thisParams)
			if err != nil {
				return nil, withTable(err, res.Statement)
			}
			lastRows = rows
		} else {
			if _, err := tx.Exec(rendered, thisParams...); err != nil {
				return nil, withTable(&apperr.ExecutionError{SQL: rendered, Reason: err.Error()}, res.Statement)
			}
		}
	}

	for _, st := range schemaTouched {
		if err := trigger.SetupTriggersForTable(tx, st.SchemaTouched, st.Force); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, &apperr.TransactionError{Reason: err.Error()}
	}
	committed = true
	return lastRows, nil
}

func withTable(err error, stmt sqlast.Statement) error {
	if ee, ok := err.(*apperr.ExecutionError); ok {
		names := sqlast.ExtractTableNames(stmt)
		if len(names) > 0 {
			ee.Table = names[0]
		}
	}
	return err
}

func isQuery(stmt sqlast.Statement) bool {
	_, ok := stmt.(*sqlast.SelectStmt)
	return ok
}

func returningColumns(stmt sqlast.Statement) []sqlast.ResultColumn {
	switch s := stmt.(type) {
	case *sqlast.InsertStmt:
		return s.Returning
	case *sqlast.UpdateStmt:
		return s.Returning
	}
	return nil
}

func (e *Executor) execQuery(tx *sql.Tx, rendered string, params []interface{}) ([]Row, error) {
	rows, err := tx.Query(rendered, params...)
	if err != nil {
		return nil, &apperr.QueryError{SQL: rendered, Reason: err.Error()}
	}
	defer rows.Close()
	return scanRows(rows)
}

func (e *Executor) execReturning(tx *sql.Tx, rendered string, params []interface{}) ([]Row, error) {
	rows, err := tx.Query(rendered, params...)
	if err != nil {
		return nil, &apperr.QueryError{SQL: rendered, Reason: err.Error()}
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, &apperr.RowProcessingError{Reason: err.Error()}
	}
	var out []Row
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &apperr.RowProcessingError{Reason: err.Error()}
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = sqlast.SQLValueToJSON(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperr.RowProcessingError{Reason: err.Error()}
	}
	return out, nil
}

// SelectJSON runs a read-only statement (or bundle of statements, every
// one of which must be a query) and materializes the last one's results as
// {column: json_value} rows, per §4.5's select_internal path. Unlike
// Execute it still opens a transaction (SQLite requires one for a
// consistent read snapshot) but never persists an HLC tick, since no
// write occurs.
func (e *Executor) SelectJSON(sqlText string, params []interface{}) ([]Row, error) {
	sqlParams, err := convertParams(params)
	if err != nil {
		return nil, err
	}

	if want := placeholderCount(sqlText); want >= 0 && want != len(sqlParams) {
		return nil, &apperr.ParameterMismatch{Expected: want, Provided: len(sqlParams), SQL: sqlText}
	}

	stmts, err := sqlast.ParseMany(sqlText)
	if err != nil {
		return nil, err
	}
	for _, stmt := range stmts {
		if !isQuery(stmt) {
			return nil, &apperr.UnsupportedStatement{SQL: sqlText, Reason: "select_internal requires every statement to be a query"}
		}
	}

	tx, err := e.DB.Begin()
	if err != nil {
		return nil, &apperr.TransactionError{Reason: err.Error()}
	}
	defer tx.Rollback()

	var lastRows []Row
	paramIdx := 0
	for _, stmt := range stmts {
		res, err := crdt.Transform(stmt, "")
		if err != nil {
			return nil, err
		}
		rendered := sqlast.Print(res.Statement)
		nParams := strings.Count(rendered, "?")
		thisParams := sqlParams[paramIdx : paramIdx+nParams]
		paramIdx += nParams

		rows, err := e.execQuery(tx, rendered, thisParams)
		if err != nil {
			return nil, withTable(err, res.Statement)
		}
		lastRows = rows
	}
	return lastRows, nil
}

// MarshalRows encodes rows as a JSON array of objects, matching the shape
// handed back across the extension/host boundary.
func MarshalRows(rows []Row) ([]byte, error) {
	return json.Marshal(rows)
}
