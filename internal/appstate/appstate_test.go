package appstate

import (
	"database/sql"
	"testing"

	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/haexhub/haexvault/internal/extension"
	"github.com/haexhub/haexvault/internal/hlc"
	"github.com/haexhub/haexvault/internal/sqlexec"
)

func openMemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE haex_crdt_configs(key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func TestNewExposesBoundResources(t *testing.T) {
	db := openMemDB(t)
	defer db.Close()

	h := hlc.New()
	if err := h.Init(db); err != nil {
		t.Fatalf("init hlc: %v", err)
	}
	ext := extension.NewManager(t.TempDir(), sqlexec.New(db, h))

	st := New(db, h, ext, "/tmp/vault.db")
	if st.DB() != db {
		t.Fatalf("expected DB() to return the bound handle")
	}
	if st.HLC() != h {
		t.Fatalf("expected HLC() to return the bound service")
	}
	if st.Extensions() != ext {
		t.Fatalf("expected Extensions() to return the bound manager")
	}
	if st.VaultPath() != "/tmp/vault.db" {
		t.Fatalf("unexpected vault path: %s", st.VaultPath())
	}
	if st.Executor() == nil {
		t.Fatalf("expected a non-nil bound executor")
	}
}

func TestRebindSwapsResources(t *testing.T) {
	db1 := openMemDB(t)
	defer db1.Close()
	h1 := hlc.New()
	if err := h1.Init(db1); err != nil {
		t.Fatalf("init hlc 1: %v", err)
	}
	st := New(db1, h1, extension.NewManager(t.TempDir(), sqlexec.New(db1, h1)), "/tmp/a.db")

	db2 := openMemDB(t)
	defer db2.Close()
	h2 := hlc.New()
	if err := h2.Init(db2); err != nil {
		t.Fatalf("init hlc 2: %v", err)
	}
	st.Rebind(db2, h2, "/tmp/b.db")

	if st.DB() != db2 {
		t.Fatalf("expected rebind to swap in the new DB")
	}
	if st.HLC() != h2 {
		t.Fatalf("expected rebind to swap in the new HLC service")
	}
	if st.VaultPath() != "/tmp/b.db" {
		t.Fatalf("expected rebind to update vault path")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	db := openMemDB(t)
	h := hlc.New()
	if err := h.Init(db); err != nil {
		t.Fatalf("init hlc: %v", err)
	}
	st := New(db, h, extension.NewManager(t.TempDir(), sqlexec.New(db, h)), "/tmp/vault.db")

	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("expected second close to be a no-op, got %v", err)
	}
}
