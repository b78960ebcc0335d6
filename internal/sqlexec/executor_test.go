package sqlexec

import (
	"database/sql"
	"testing"

	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/haexhub/haexvault/internal/hlc"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE haex_crdt_configs(key TEXT PRIMARY KEY, value TEXT)`,
		`CREATE TABLE haex_crdt_logs(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			haex_timestamp TEXT,
			table_name TEXT,
			row_pks TEXT,
			op_type TEXT,
			column_name TEXT,
			new_value TEXT,
			old_value TEXT
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("schema: %v", err)
		}
	}

	h := hlc.New()
	if err := h.Init(db); err != nil {
		t.Fatalf("hlc init: %v", err)
	}
	return New(db, h)
}

func TestScenario1CreateTableInstallsTriggers(t *testing.T) {
	ex := newTestExecutor(t)
	if _, err := ex.ExecuteJSON(`CREATE TABLE items(id TEXT PRIMARY KEY, label TEXT)`, nil); err != nil {
		t.Fatalf("create table: %v", err)
	}

	// sqlite_master is a system catalog, not a synchronized application
	// table, so it is queried directly rather than through SelectJSON
	// (which would otherwise try to filter it on a tombstone column it
	// doesn't have).
	rows, err := ex.DB.Query(`SELECT name FROM sqlite_master WHERE type='trigger'`)
	if err != nil {
		t.Fatalf("select triggers: %v", err)
	}
	defer rows.Close()
	names := map[string]bool{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			t.Fatalf("scan: %v", err)
		}
		names[n] = true
	}
	if !names["z_crdt_items_insert"] || !names["z_crdt_items_update"] {
		t.Fatalf("expected both crdt triggers installed, got %v", names)
	}
}

func TestScenario2InsertThenSelect(t *testing.T) {
	ex := newTestExecutor(t)
	if _, err := ex.ExecuteJSON(`CREATE TABLE items(id TEXT PRIMARY KEY, label TEXT)`, nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := ex.ExecuteJSON(`INSERT INTO items(id,label) VALUES(?,?)`, []interface{}{"a", "x"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := ex.SelectJSON(`SELECT * FROM items`, nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["id"] != "a" || rows[0]["label"] != "x" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
	if rows[0]["haex_tombstone"] != int64(0) {
		t.Fatalf("expected tombstone 0, got %v", rows[0]["haex_tombstone"])
	}
	if rows[0]["haex_hlc_timestamp"] == nil || rows[0]["haex_hlc_timestamp"] == "" {
		t.Fatalf("expected non-empty hlc timestamp")
	}

	logRows, err := ex.SelectJSON(`SELECT * FROM haex_crdt_logs WHERE op_type='INSERT'`, nil)
	if err != nil {
		t.Fatalf("select logs: %v", err)
	}
	if len(logRows) != 1 {
		t.Fatalf("expected exactly one insert log row (for column label), got %d", len(logRows))
	}
}

func TestScenario3DeleteIsSoft(t *testing.T) {
	ex := newTestExecutor(t)
	if _, err := ex.ExecuteJSON(`CREATE TABLE items(id TEXT PRIMARY KEY, label TEXT)`, nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := ex.ExecuteJSON(`INSERT INTO items(id,label) VALUES(?,?)`, []interface{}{"a", "x"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := ex.ExecuteJSON(`DELETE FROM items WHERE id=?`, []interface{}{"a"}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	rows, err := ex.SelectJSON(`SELECT * FROM items`, nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected 0 visible rows after delete, got %d", len(rows))
	}

	rows, err = ex.SelectJSON(`SELECT * FROM items WHERE haex_tombstone=1`, nil)
	if err != nil {
		t.Fatalf("select tombstoned: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 tombstoned row, got %d", len(rows))
	}

	logRows, err := ex.SelectJSON(`SELECT * FROM haex_crdt_logs WHERE op_type='DELETE'`, nil)
	if err != nil {
		t.Fatalf("select logs: %v", err)
	}
	if len(logRows) != 1 {
		t.Fatalf("expected exactly one delete log row, got %d", len(logRows))
	}
}

func TestScenario4TwoTableJoinQualifiesOnlyUnfiltered(t *testing.T) {
	ex := newTestExecutor(t)
	if _, err := ex.ExecuteJSON(`CREATE TABLE users(id TEXT PRIMARY KEY, name TEXT)`, nil); err != nil {
		t.Fatalf("create users: %v", err)
	}
	if _, err := ex.ExecuteJSON(`CREATE TABLE posts(id TEXT PRIMARY KEY, uid TEXT, title TEXT)`, nil); err != nil {
		t.Fatalf("create posts: %v", err)
	}
	if _, err := ex.ExecuteJSON(`INSERT INTO users(id,name) VALUES(?,?)`, []interface{}{"u1", "Ada"}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if _, err := ex.ExecuteJSON(`INSERT INTO posts(id,uid,title) VALUES(?,?,?)`, []interface{}{"p1", "u1", "hi"}); err != nil {
		t.Fatalf("insert post: %v", err)
	}
	if _, err := ex.ExecuteJSON(`DELETE FROM posts WHERE id=?`, []interface{}{"p1"}); err != nil {
		t.Fatalf("delete post: %v", err)
	}

	rows, err := ex.SelectJSON(
		`SELECT u.id FROM users u JOIN posts p ON u.id = p.uid WHERE p.haex_tombstone = 1`, nil,
	)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != "u1" {
		t.Fatalf("expected the tombstoned post's user to still be visible, got %+v", rows)
	}
}

func TestParameterMismatchRejected(t *testing.T) {
	ex := newTestExecutor(t)
	if _, err := ex.ExecuteJSON(`CREATE TABLE items(id TEXT PRIMARY KEY, label TEXT)`, nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	_, err := ex.ExecuteJSON(`INSERT INTO items(id,label) VALUES(?,?)`, []interface{}{"only-one"})
	if err == nil {
		t.Fatalf("expected parameter mismatch error")
	}
}
