package trigger

import (
	"database/sql"
	"testing"

	_ "github.com/mutecomm/go-sqlcipher/v4"
)

func openTestDB(t *testing.T) *sql.DB {
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
		`CREATE TABLE items(
			id TEXT PRIMARY KEY,
			label TEXT,
			haex_tombstone INTEGER NOT NULL DEFAULT 0,
			haex_hlc_timestamp TEXT
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	return db
}

func TestSetupTriggersForTableRejectsMissingPK(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`CREATE TABLE nopk(label TEXT, haex_tombstone INTEGER DEFAULT 0)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := SetupTriggersForTable(tx, "nopk", false); err == nil {
		t.Fatalf("expected primary key missing error")
	}
}

func TestSetupTriggersForTableRejectsMissingTombstone(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Exec(`CREATE TABLE notomb(id TEXT PRIMARY KEY, label TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := SetupTriggersForTable(tx, "notomb", false); err == nil {
		t.Fatalf("expected tombstone missing error")
	}
}

func TestInsertTriggerWritesLog(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := SetupTriggersForTable(tx, "items", false); err != nil {
		t.Fatalf("setup triggers: %v", err)
	}
	if _, err := tx.Exec(`INSERT INTO items(id, label, haex_tombstone, haex_hlc_timestamp) VALUES ('a', 'x', 0, 'T1')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM haex_crdt_logs WHERE op_type = 'INSERT'`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 insert log row (one tracked column), got %d", count)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestUpdateTriggerLogsChangedColumnAndSoftDelete(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := SetupTriggersForTable(tx, "items", false); err != nil {
		t.Fatalf("setup triggers: %v", err)
	}
	if _, err := tx.Exec(`INSERT INTO items(id, label, haex_tombstone, haex_hlc_timestamp) VALUES ('a', 'x', 0, 'T1')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := tx.Exec(`UPDATE items SET label='y', haex_hlc_timestamp='T2' WHERE id='a'`); err != nil {
		t.Fatalf("update: %v", err)
	}
	var updCount int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM haex_crdt_logs WHERE op_type='UPDATE' AND column_name='label'`).Scan(&updCount); err != nil {
		t.Fatalf("count: %v", err)
	}
	if updCount != 1 {
		t.Fatalf("expected 1 update log row for label, got %d", updCount)
	}

	if _, err := tx.Exec(`UPDATE items SET haex_tombstone=1, haex_hlc_timestamp='T3' WHERE id='a'`); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	var delCount int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM haex_crdt_logs WHERE op_type='DELETE'`).Scan(&delCount); err != nil {
		t.Fatalf("count: %v", err)
	}
	if delCount != 1 {
		t.Fatalf("expected 1 delete log row, got %d", delCount)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestWithTriggersPausedSuppressesLogging(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := SetupTriggersForTable(tx, "items", false); err != nil {
		t.Fatalf("setup triggers: %v", err)
	}
	err = WithTriggersPaused(tx, func() error {
		_, execErr := tx.Exec(`INSERT INTO items(id, label, haex_tombstone, haex_hlc_timestamp) VALUES ('a', 'x', 0, 'T1')`)
		return execErr
	})
	if err != nil {
		t.Fatalf("paused action: %v", err)
	}
	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM haex_crdt_logs`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no log rows while paused, got %d", count)
	}
	var flag string
	if err := tx.QueryRow(`SELECT value FROM haex_crdt_configs WHERE key='sync_active'`).Scan(&flag); err != nil {
		t.Fatalf("flag: %v", err)
	}
	if flag != "0" {
		t.Fatalf("expected sync_active cleared after action, got %q", flag)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}
