package sqlast

import (
	"testing"
)

func mustParse(t *testing.T, sql string) Statement {
	t.Helper()
	stmt, err := ParseSingle(sql)
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	return stmt
}

func TestParseCreateTable(t *testing.T) {
	stmt := mustParse(t, `CREATE TABLE items(id TEXT PRIMARY KEY, label TEXT)`)
	ct, ok := stmt.(*CreateTableStmt)
	if !ok {
		t.Fatalf("expected *CreateTableStmt, got %T", stmt)
	}
	if ct.Table != "items" {
		t.Fatalf("expected table items, got %s", ct.Table)
	}
	if len(ct.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(ct.Columns))
	}
	if ct.Columns[0].Name != "id" || ct.Columns[0].RawSuffix != "PRIMARY KEY" {
		t.Fatalf("unexpected first column: %+v", ct.Columns[0])
	}
}

func TestParseInsertValues(t *testing.T) {
	stmt := mustParse(t, `INSERT INTO items(id,label) VALUES('a','x')`)
	ins, ok := stmt.(*InsertStmt)
	if !ok {
		t.Fatalf("expected *InsertStmt, got %T", stmt)
	}
	if len(ins.ValuesRows) != 1 || len(ins.ValuesRows[0]) != 2 {
		t.Fatalf("unexpected values rows: %+v", ins.ValuesRows)
	}
}

func TestParseInsertRejectsOnConflict(t *testing.T) {
	_, err := ParseSingle(`INSERT INTO t(a) VALUES(1) ON CONFLICT(a) DO UPDATE SET a=2`)
	if err == nil {
		t.Fatalf("expected ON CONFLICT to be rejected")
	}
}

func TestParseInsertDefaultValuesSetsFlag(t *testing.T) {
	stmt := mustParse(t, `INSERT INTO t DEFAULT VALUES`)
	ins := stmt.(*InsertStmt)
	if !ins.DefaultValues {
		t.Fatalf("expected DefaultValues true")
	}
}

func TestParseDeleteRejectsMultiTable(t *testing.T) {
	_, err := ParseSingle(`DELETE FROM a, b WHERE a.id = b.id`)
	if err == nil {
		t.Fatalf("expected multi-table delete to be rejected")
	}
}

func TestParseSelectJoinAndWhere(t *testing.T) {
	stmt := mustParse(t, `SELECT u.id FROM users u JOIN posts p ON u.id = p.uid WHERE p.haex_tombstone = 1`)
	sel := stmt.(*SelectStmt)
	core := sel.Terms[0].Core
	if len(core.From) != 2 {
		t.Fatalf("expected 2 from items, got %d", len(core.From))
	}
	if core.From[1].JoinOp != "JOIN" || core.From[1].Table != "posts" || core.From[1].Alias != "p" {
		t.Fatalf("unexpected join item: %+v", core.From[1])
	}
	names := ExtractTableNames(sel)
	if len(names) != 2 || names[0] != "users" || names[1] != "posts" {
		t.Fatalf("unexpected table names: %v", names)
	}
}

func TestParseSubqueryInWhere(t *testing.T) {
	stmt := mustParse(t, `SELECT * FROM a WHERE id IN (SELECT id FROM b WHERE x = 1)`)
	names := ExtractTableNames(stmt)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected table names: %v", names)
	}
}

func TestParseUnion(t *testing.T) {
	stmt := mustParse(t, `SELECT id FROM a UNION SELECT id FROM b`)
	sel := stmt.(*SelectStmt)
	if len(sel.Terms) != 2 || sel.Terms[1].Op != "UNION" {
		t.Fatalf("unexpected compound terms: %+v", sel.Terms)
	}
}

func TestPrintRoundTripsExecutableSQL(t *testing.T) {
	stmt := mustParse(t, `SELECT a, b FROM t WHERE x = ? AND y != 'z'`)
	out := Print(stmt)
	if _, err := ParseSingle(out); err != nil {
		t.Fatalf("re-parsing printed SQL failed: %v (sql: %s)", err, out)
	}
}

func TestAlterTableTableName(t *testing.T) {
	stmt := mustParse(t, `ALTER TABLE items ADD COLUMN c TEXT`)
	alt := stmt.(*AlterTableStmt)
	if alt.Table != "items" {
		t.Fatalf("unexpected table: %s", alt.Table)
	}
	names := ExtractTableNames(alt)
	if len(names) != 1 || names[0] != "items" {
		t.Fatalf("unexpected names: %v", names)
	}
}
