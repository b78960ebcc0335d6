package crdt

import (
	"strings"
	"testing"

	"github.com/haexhub/haexvault/internal/sqlast"
)

func mustParse(t *testing.T, sql string) sqlast.Statement {
	t.Helper()
	stmt, err := sqlast.ParseSingle(sql)
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	return stmt
}

func TestTransformCreateTableAddsColumns(t *testing.T) {
	stmt := mustParse(t, `CREATE TABLE notes(id TEXT PRIMARY KEY, body TEXT)`)
	res, err := Transform(stmt, "0001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SchemaTouched != "notes" {
		t.Fatalf("expected SchemaTouched=notes, got %q", res.SchemaTouched)
	}
	out := sqlast.Print(res.Statement)
	if !containsAll(out, TombstoneColumn, HLCColumn) {
		t.Fatalf("expected both crdt columns in %s", out)
	}
}

func TestTransformCreateTableExcludedUnchanged(t *testing.T) {
	stmt := mustParse(t, `CREATE TABLE haex_crdt_logs(id TEXT)`)
	res, err := Transform(stmt, "0001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SchemaTouched != "" {
		t.Fatalf("expected no schema-touched table for excluded table, got %q", res.SchemaTouched)
	}
	out := sqlast.Print(res.Statement)
	if containsAll(out, TombstoneColumn) {
		t.Fatalf("excluded table should not gain tombstone column: %s", out)
	}
}

func TestTransformInsertStampsHLCAndTombstone(t *testing.T) {
	stmt := mustParse(t, `INSERT INTO notes(id, body) VALUES(?, ?)`)
	res, err := Transform(stmt, "0007")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ins := res.Statement.(*sqlast.InsertStmt)
	if len(ins.Columns) != 4 {
		t.Fatalf("expected 4 columns after stamping, got %d (%v)", len(ins.Columns), ins.Columns)
	}
	out := sqlast.Print(ins)
	if !containsAll(out, "0007", TombstoneColumn, HLCColumn) {
		t.Fatalf("expected hlc/tombstone in rewritten insert: %s", out)
	}
}

func TestTransformInsertDefaultValuesRejected(t *testing.T) {
	stmt := mustParse(t, `INSERT INTO notes DEFAULT VALUES`)
	_, err := Transform(stmt, "0001")
	if err == nil {
		t.Fatalf("expected UnsupportedStatement error for DEFAULT VALUES insert")
	}
}

func TestTransformUpdateAppendsHLC(t *testing.T) {
	stmt := mustParse(t, `UPDATE notes SET body = ? WHERE id = ?`)
	res, err := Transform(stmt, "0009")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	upd := res.Statement.(*sqlast.UpdateStmt)
	if len(upd.Assignments) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(upd.Assignments))
	}
	if upd.Assignments[1].Column != HLCColumn {
		t.Fatalf("expected last assignment to be %s, got %s", HLCColumn, upd.Assignments[1].Column)
	}
}

func TestTransformDeleteBecomesUpdate(t *testing.T) {
	stmt := mustParse(t, `DELETE FROM notes WHERE id = ?`)
	res, err := Transform(stmt, "0010")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	upd, ok := res.Statement.(*sqlast.UpdateStmt)
	if !ok {
		t.Fatalf("expected DELETE to rewrite to *UpdateStmt, got %T", res.Statement)
	}
	if upd.Table != "notes" || len(upd.Assignments) != 2 {
		t.Fatalf("unexpected rewritten update: %+v", upd)
	}
	out := sqlast.Print(upd)
	if !containsAll(out, "\""+TombstoneColumn+"\" = 1") {
		t.Fatalf("expected tombstone=1 in rewritten delete: %s", out)
	}
}

func TestTransformSelectInjectsTombstonePredicate(t *testing.T) {
	stmt := mustParse(t, `SELECT id FROM notes WHERE body = ?`)
	res, err := Transform(stmt, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := sqlast.Print(res.Statement)
	if !containsAll(out, "\""+TombstoneColumn+"\" != 1") {
		t.Fatalf("expected implicit tombstone predicate: %s", out)
	}
}

func TestTransformSelectExplicitTombstoneFilterSuppressesImplicit(t *testing.T) {
	stmt := mustParse(t, `SELECT id FROM notes WHERE haex_tombstone = 1`)
	res, err := Transform(stmt, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sel := res.Statement.(*sqlast.SelectStmt)
	where := sel.Terms[0].Core.Where
	// Should remain exactly the user's explicit predicate, not ANDed with
	// an implicit != 1.
	bin, ok := where.(*sqlast.BinaryExpr)
	if !ok || bin.Op != "=" {
		t.Fatalf("expected unmodified explicit predicate, got %#v", where)
	}
}

func TestTransformSelectTwoTableJoinQualifiesAlias(t *testing.T) {
	stmt := mustParse(t, `SELECT a.id FROM notes a JOIN tags b ON a.id = b.note_id`)
	res, err := Transform(stmt, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := sqlast.Print(res.Statement)
	if !containsAll(out, `"a".`+`"`+TombstoneColumn+`"`, `"b".`+`"`+TombstoneColumn+`"`) {
		t.Fatalf("expected both aliases qualified with tombstone predicate: %s", out)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
