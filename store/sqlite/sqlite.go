/*
Package sqlite provides a SQLite-backed implementation of the dispatch
storage interfaces.

PURPOSE:
  Embedded single-file storage for a depot running one server process.
  The schema and queries live in store/sqlrepo and are shared with
  PostgreSQL; this package only opens the database and supplies the
  SQLite dialect.

INTERFACES IMPLEMENTED:
  dispatch.Repository:      Tanker day persistence (versioned)
  dispatch.TankerDirectory: Tanker master data
  dispatch.Resetter:        Demo/test reset

CONCURRENCY:
  SQLite allows one writer at a time. The store holds a single connection
  and a sync.RWMutex so readers share and writers queue inside the process
  instead of failing with SQLITE_BUSY.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/dispatch.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := dispatch.NewService(store, store)

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/tanker-dispatch/dispatch"
	"github.com/warp/tanker-dispatch/store/sqlrepo"
)

var dialect = sqlrepo.Dialect{
	Name:              "sqlite",
	IsUniqueViolation: isUniqueConstraintError,
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	repo *sqlrepo.Repo
	mu   sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: required for ":memory:", and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	repo := sqlrepo.New(db, dialect)
	if err := repo.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{repo: repo}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.repo.DB().Close()
}

// =============================================================================
// TANKER DAYS (dispatch.Repository)
// =============================================================================

func (s *Store) Create(ctx context.Context, day *dispatch.TankerDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Create(ctx, day)
}

func (s *Store) Load(ctx context.Context, id string) (*dispatch.TankerDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.Load(ctx, id)
}

func (s *Store) Save(ctx context.Context, day *dispatch.TankerDay, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Save(ctx, day, expectedVersion)
}

func (s *Store) ListByDate(ctx context.Context, date time.Time) ([]dispatch.TankerDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.ListByDate(ctx, date)
}

func (s *Store) ListInRange(ctx context.Context, from, to time.Time) ([]dispatch.TankerDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.ListInRange(ctx, from, to)
}

// =============================================================================
// TANKERS (dispatch.TankerDirectory)
// =============================================================================

func (s *Store) GetTanker(ctx context.Context, id string) (*dispatch.Tanker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.GetTanker(ctx, id)
}

func (s *Store) ListTankers(ctx context.Context) ([]dispatch.Tanker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.ListTankers(ctx)
}

func (s *Store) SaveTanker(ctx context.Context, t dispatch.Tanker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.SaveTanker(ctx, t)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Reset(ctx)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
