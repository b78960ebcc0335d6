// Package crdt implements the AST-level rewrite rules that turn ordinary
// SQL statements into CRDT-tracked ones: tombstone-aware SELECTs, HLC
// stamping on writes, and DELETE-to-UPDATE rewriting. It is a pure
// function over the sqlast AST — no I/O, no database handle.
package crdt

import (
	"strings"

	"github.com/haexhub/haexvault/internal/apperr"
	"github.com/haexhub/haexvault/internal/sqlast"
)

// TombstoneColumn and HLCColumn name the two columns the transformer adds
// to every synchronized table.
const (
	TombstoneColumn = "haex_tombstone"
	HLCColumn       = "haex_hlc_timestamp"
)

// excludedTables never receive the CRDT transform: the journal itself,
// its configuration store, and the snapshot table used for compaction.
var excludedTables = map[string]bool{
	"haex_crdt_configs":   true,
	"haex_crdt_logs":      true,
	"haex_crdt_snapshots": true,
}

func isExcluded(table string) bool {
	return excludedTables[sqlast.NormalizeTableName(table)]
}

// Result carries the rewritten statement plus the table name the caller
// must (re)install triggers for, when the statement touched schema or
// created a synchronized row source.
type Result struct {
	Statement sqlast.Statement
	// SchemaTouched is non-empty when the caller must run
	// setup_triggers_for_table for this table after execution
	// (CREATE TABLE or ALTER TABLE).
	SchemaTouched string
	// Force requests drop-and-recreate of existing triggers (ALTER TABLE).
	Force bool
}

// Transform rewrites stmt according to spec §4.3. hlc is the timestamp
// to stamp onto INSERT/UPDATE/DELETE-as-UPDATE statements; it is ignored
// for SELECT and for all DDL, CREATE and ALTER TABLE included.
func Transform(stmt sqlast.Statement, hlc string) (Result, error) {
	switch s := stmt.(type) {
	case *sqlast.CreateTableStmt:
		return transformCreateTable(s)
	case *sqlast.AlterTableStmt:
		if isExcluded(s.Table) {
			return Result{Statement: s}, nil
		}
		return Result{Statement: s, SchemaTouched: s.Table, Force: true}, nil
	case *sqlast.InsertStmt:
		return transformInsert(s, hlc)
	case *sqlast.UpdateStmt:
		return transformUpdate(s, hlc)
	case *sqlast.DeleteStmt:
		return transformDelete(s, hlc)
	case *sqlast.SelectStmt:
		return transformSelect(s)
	default:
		return Result{Statement: stmt}, nil
	}
}

func transformCreateTable(s *sqlast.CreateTableStmt) (Result, error) {
	if isExcluded(s.Table) {
		return Result{Statement: s}, nil
	}
	have := map[string]bool{}
	for _, c := range s.Columns {
		have[strings.ToLower(c.Name)] = true
	}
	if !have[TombstoneColumn] {
		s.Columns = append(s.Columns, sqlast.ColumnDef{Name: TombstoneColumn, TypeName: "INTEGER", RawSuffix: "NOT NULL DEFAULT 0"})
	}
	if !have[HLCColumn] {
		s.Columns = append(s.Columns, sqlast.ColumnDef{Name: HLCColumn, TypeName: "TEXT"})
	}
	return Result{Statement: s, SchemaTouched: s.Table}, nil
}

func transformInsert(s *sqlast.InsertStmt, hlc string) (Result, error) {
	if isExcluded(s.Table) {
		return Result{Statement: s}, nil
	}
	if s.DefaultValues {
		return Result{}, &apperr.UnsupportedStatement{
			SQL:    sqlast.Print(s),
			Reason: "INSERT ... DEFAULT VALUES cannot carry CRDT tombstone/HLC columns",
		}
	}

	tombIdx, tombPresent := columnIndex(s.Columns, TombstoneColumn)
	hlcIdx, hlcPresent := columnIndex(s.Columns, HLCColumn)

	// Column list has explicit names: append any missing CRDT columns to
	// the column list itself, then mirror that into every row / select.
	if len(s.Columns) > 0 {
		if !tombPresent {
			tombIdx = len(s.Columns)
			s.Columns = append(s.Columns, TombstoneColumn)
		}
		if !hlcPresent {
			hlcIdx = len(s.Columns)
			s.Columns = append(s.Columns, HLCColumn)
		}
	}

	tombValue := sqlast.Expr(&sqlast.Literal{Kind: sqlast.LitNumber, Text: "0"})
	hlcValue := sqlast.Expr(&sqlast.Literal{Kind: sqlast.LitString, Text: hlc})

	for i := range s.ValuesRows {
		row := s.ValuesRows[i]
		rowTomb, rowHLC := tombIdx, hlcIdx
		if len(s.Columns) == 0 {
			// Implicit column list: transformCreateTable puts the CRDT
			// columns last, so their values are appended to the row.
			rowTomb, rowHLC = len(row), len(row)+1
		}
		row = insertAt(row, rowTomb, tombPresent, tombValue)
		row = insertAt(row, rowHLC, hlcPresent, hlcValue)
		s.ValuesRows[i] = row
	}

	if s.Select != nil {
		if !tombPresent {
			appendResultColumn(s.Select, sqlast.ResultColumn{Expr: tombValue})
		}
		if !hlcPresent {
			appendResultColumn(s.Select, sqlast.ResultColumn{Expr: hlcValue})
		}
	}

	return Result{Statement: s}, nil
}

// columnIndex returns the position of name in cols (case-insensitive) and
// whether it was found. When cols is empty (implicit column list), it
// returns (len, false) as a placeholder — callers only use the index when
// an explicit column list exists.
func columnIndex(cols []string, name string) (int, bool) {
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i, true
		}
	}
	return len(cols), false
}

// insertAt inserts value into row at idx unless present is true, in which
// case row is returned unchanged (the column was already supplied
// explicitly and the caller must not clobber it).
func insertAt(row []sqlast.Expr, idx int, present bool, value sqlast.Expr) []sqlast.Expr {
	if present {
		return row
	}
	if idx >= len(row) {
		return append(row, value)
	}
	out := make([]sqlast.Expr, 0, len(row)+1)
	out = append(out, row[:idx]...)
	out = append(out, value)
	out = append(out, row[idx:]...)
	return out
}

func appendResultColumn(sel *sqlast.SelectStmt, col sqlast.ResultColumn) {
	if len(sel.Terms) == 0 {
		return
	}
	last := sel.Terms[len(sel.Terms)-1]
	last.Core.Columns = append(last.Core.Columns, col)
}

func transformUpdate(s *sqlast.UpdateStmt, hlc string) (Result, error) {
	if isExcluded(s.Table) {
		return Result{Statement: s}, nil
	}
	for _, a := range s.Assignments {
		if strings.EqualFold(a.Column, HLCColumn) {
			return Result{Statement: s}, nil
		}
	}
	s.Assignments = append(s.Assignments, sqlast.Assignment{
		Column: HLCColumn,
		Value:  &sqlast.Literal{Kind: sqlast.LitString, Text: hlc},
	})
	return Result{Statement: s}, nil
}

func transformDelete(s *sqlast.DeleteStmt, hlc string) (Result, error) {
	if isExcluded(s.Table) {
		return Result{Statement: &sqlast.DeleteStmt{Table: s.Table, Alias: s.Alias, Where: s.Where}}, nil
	}
	upd := &sqlast.UpdateStmt{
		Table: s.Table,
		Alias: s.Alias,
		Where: s.Where,
		Assignments: []sqlast.Assignment{
			{Column: TombstoneColumn, Value: &sqlast.Literal{Kind: sqlast.LitNumber, Text: "1"}},
			{Column: HLCColumn, Value: &sqlast.Literal{Kind: sqlast.LitString, Text: hlc}},
		},
	}
	return Result{Statement: upd}, nil
}

func transformSelect(s *sqlast.SelectStmt) (Result, error) {
	if err := transformSelectRec(s); err != nil {
		return Result{}, err
	}
	return Result{Statement: s}, nil
}

func transformSelectRec(s *sqlast.SelectStmt) error {
	for _, cte := range s.CTEs {
		if err := transformSelectRec(cte.Query); err != nil {
			return err
		}
	}
	for _, term := range s.Terms {
		core := term.Core

		// Read this level's WHERE for explicit tombstone filters, then
		// recurse into FROM subqueries; the nested rewrites do not touch
		// this level's WHERE, so the order does not matter.
		var syncedTables []string // table name or alias, in FROM order
		explicit := explicitTombstoneRefs(core.Where)

		for _, item := range core.From {
			if item.Subquery != nil {
				if err := transformSelectRec(item.Subquery); err != nil {
					return err
				}
				continue
			}
			if isExcluded(item.Table) {
				continue
			}
			ref := item.Table
			if item.Alias != "" {
				ref = item.Alias
			}
			if explicit["*"] || explicit[strings.ToLower(ref)] || explicit[strings.ToLower(item.Table)] {
				continue
			}
			syncedTables = append(syncedTables, ref)
		}

		for _, col := range core.Columns {
			if col.Expr != nil {
				if err := transformExprSubqueries(col.Expr); err != nil {
					return err
				}
			}
		}
		if core.Where != nil {
			if err := transformExprSubqueries(core.Where); err != nil {
				return err
			}
		}
		for _, g := range core.GroupBy {
			if err := transformExprSubqueries(g); err != nil {
				return err
			}
		}
		if core.Having != nil {
			if err := transformExprSubqueries(core.Having); err != nil {
				return err
			}
		}
		for _, item := range core.From {
			if item.On != nil {
				if err := transformExprSubqueries(item.On); err != nil {
					return err
				}
			}
		}

		qualifyAll := len(core.From) > 1
		for _, ref := range syncedTables {
			var col sqlast.Expr = &sqlast.Ident{Column: TombstoneColumn}
			if qualifyAll {
				col = &sqlast.Ident{Table: ref, Column: TombstoneColumn}
			}
			pred := &sqlast.BinaryExpr{
				Op:   "!=",
				Left: col,
				Right: &sqlast.Literal{Kind: sqlast.LitNumber, Text: "1"},
			}
			if core.Where == nil {
				core.Where = pred
			} else {
				core.Where = &sqlast.BinaryExpr{Op: "AND", Left: core.Where, Right: pred}
			}
		}
	}
	for _, o := range s.OrderBy {
		if err := transformExprSubqueries(o.Expr); err != nil {
			return err
		}
	}
	return nil
}

// explicitTombstoneRefs scans a WHERE expression for bare `tombstone`,
// `alias.tombstone` or `table.tombstone` references and returns the set
// of lower-cased alias/table names already filtered explicitly, so the
// implicit predicate is suppressed for them.
func explicitTombstoneRefs(e sqlast.Expr) map[string]bool {
	found := map[string]bool{}
	var walk func(sqlast.Expr)
	walk = func(e sqlast.Expr) {
		switch v := e.(type) {
		case nil:
			return
		case *sqlast.Ident:
			if strings.EqualFold(v.Column, TombstoneColumn) {
				if v.Table != "" {
					found[strings.ToLower(v.Table)] = true
				} else {
					found["*"] = true
				}
			}
		case *sqlast.BinaryExpr:
			walk(v.Left)
			walk(v.Right)
		case *sqlast.UnaryExpr:
			walk(v.Operand)
		case *sqlast.Paren:
			walk(v.Inner)
		case *sqlast.Between:
			walk(v.Operand)
			walk(v.Low)
			walk(v.High)
		case *sqlast.InExpr:
			walk(v.Operand)
			for _, item := range v.List {
				walk(item)
			}
		case *sqlast.FuncCall:
			for _, a := range v.Args {
				walk(a)
			}
		case *sqlast.CaseExpr:
			walk(v.Operand)
			for _, w := range v.Whens {
				walk(w.When)
				walk(w.Then)
			}
			walk(v.Else)
		}
	}
	walk(e)
	return found
}

func transformExprSubqueries(e sqlast.Expr) error {
	switch v := e.(type) {
	case nil:
		return nil
	case *sqlast.BinaryExpr:
		if err := transformExprSubqueries(v.Left); err != nil {
			return err
		}
		return transformExprSubqueries(v.Right)
	case *sqlast.UnaryExpr:
		return transformExprSubqueries(v.Operand)
	case *sqlast.Paren:
		return transformExprSubqueries(v.Inner)
	case *sqlast.FuncCall:
		for _, a := range v.Args {
			if err := transformExprSubqueries(a); err != nil {
				return err
			}
		}
		return nil
	case *sqlast.Between:
		if err := transformExprSubqueries(v.Operand); err != nil {
			return err
		}
		if err := transformExprSubqueries(v.Low); err != nil {
			return err
		}
		return transformExprSubqueries(v.High)
	case *sqlast.CaseExpr:
		if err := transformExprSubqueries(v.Operand); err != nil {
			return err
		}
		for _, w := range v.Whens {
			if err := transformExprSubqueries(w.When); err != nil {
				return err
			}
			if err := transformExprSubqueries(w.Then); err != nil {
				return err
			}
		}
		return transformExprSubqueries(v.Else)
	case *sqlast.ExprList:
		for _, item := range v.Items {
			if err := transformExprSubqueries(item); err != nil {
				return err
			}
		}
		return nil
	case *sqlast.SubqueryExpr:
		return transformSelectRec(v.Query)
	case *sqlast.ExistsExpr:
		return transformSelectRec(v.Query)
	case *sqlast.InExpr:
		if err := transformExprSubqueries(v.Operand); err != nil {
			return err
		}
		if v.Subquery != nil {
			return transformSelectRec(v.Subquery)
		}
		for _, item := range v.List {
			if err := transformExprSubqueries(item); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}
