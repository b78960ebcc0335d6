// Package appstate models the process-wide state a running vault needs
// (the open database connection, its HLC service, and the extension
// registry) as an explicit struct instead of package-level singletons,
// per §9's "Global state" design note: HLC and DB connection start as
// process-wide mutex-guarded globals in the source this module was
// distilled from, and are reworked here into values an AppState owns and
// every operation borrows.
package appstate

import (
	"database/sql"
	"sync"

	"github.com/haexhub/haexvault/internal/apperr"
	"github.com/haexhub/haexvault/internal/extension"
	"github.com/haexhub/haexvault/internal/hlc"
	"github.com/haexhub/haexvault/internal/sqlexec"
)

// State holds the resources a single open vault session needs. Zero
// value is not ready for use; construct with New after a vault.Session
// has been opened.
type State struct {
	mu         sync.RWMutex
	db         *sql.DB
	hlcService *hlc.Service
	executor   *sqlexec.Executor
	extensions *extension.Manager
	vaultPath  string
}

// New wraps an opened vault's database and HLC service, and the
// process's extension manager, into a State ready to be threaded through
// callers (CLI commands, request handlers, tests) explicitly.
func New(db *sql.DB, hlcService *hlc.Service, extensions *extension.Manager, vaultPath string) *State {
	return &State{
		db:         db,
		hlcService: hlcService,
		executor:   sqlexec.New(db, hlcService),
		extensions: extensions,
		vaultPath:  vaultPath,
	}
}

// DB returns the guarded database handle.
func (s *State) DB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// HLC returns the guarded HLC service.
func (s *State) HLC() *hlc.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hlcService
}

// Executor returns the SQL executor bound to this state's DB and HLC
// service.
func (s *State) Executor() *sqlexec.Executor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executor
}

// Extensions returns the guarded extension manager.
func (s *State) Extensions() *extension.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extensions
}

// VaultPath returns the filesystem path of the vault this state was
// opened against.
func (s *State) VaultPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vaultPath
}

// Rebind swaps in a new database handle and HLC service, for vault
// switch/close-then-reopen flows, and rebuilds the bound executor so
// callers never hold a stale one.
func (s *State) Rebind(db *sql.DB, hlcService *hlc.Service, vaultPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = db
	s.hlcService = hlcService
	s.executor = sqlexec.New(db, hlcService)
	s.vaultPath = vaultPath
}

// Close closes the underlying database connection, if any.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return &apperr.IoError{Op: "close", Path: s.vaultPath, Reason: err.Error()}
	}
	s.db = nil
	return nil
}
