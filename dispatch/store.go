/*
store.go - Persistence interfaces for tanker days and tankers

PURPOSE:
  Defines the boundary between the dispatch domain and storage. The core
  depends only on these interfaces; the in-memory, SQLite and PostgreSQL
  implementations all satisfy them.

WRITE CONTRACT:
  - Create() fails with ErrAlreadyExists for a second (date, tanker) pair.
    The id is derived from that pair, so the primary key enforces it.
  - Save() is an optimistic compare-and-swap on Version. It fails with
    ErrConcurrentModification when the stored version differs from the one
    the caller loaded, and on success the store sets day.Version to the new
    value.
  - Timeline events are append-only. Stores that keep them in a separate
    table insert only events whose Seq is beyond what is stored, inside the
    same transaction as the day itself.
  - There is no Delete. Days are locked, never removed.

IMPLEMENTATIONS:
  - dispatch/store/memory.go: In-memory for tests and demo mode
  - store/sqlite/sqlite.go: Embedded SQLite
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - service.go: the only caller that mutates through Save()
*/
package dispatch

import (
	"context"
	"time"
)

// Repository persists TankerDay aggregates.
type Repository interface {
	// Create inserts a new day with Version 1.
	Create(ctx context.Context, day *TankerDay) error

	// Load returns the day or an error wrapping ErrNotFound.
	Load(ctx context.Context, id string) (*TankerDay, error)

	// Save replaces the stored day if its version still equals expectedVersion.
	Save(ctx context.Context, day *TankerDay, expectedVersion int) error

	// ListByDate returns all days for one calendar date.
	ListByDate(ctx context.Context, date time.Time) ([]TankerDay, error)

	// ListInRange returns all days with from <= date <= to, oldest first.
	ListInRange(ctx context.Context, from, to time.Time) ([]TankerDay, error)
}

// TankerDirectory is the minimal tanker master data needed to open a day.
type TankerDirectory interface {
	GetTanker(ctx context.Context, id string) (*Tanker, error)
	ListTankers(ctx context.Context) ([]Tanker, error)
	SaveTanker(ctx context.Context, t Tanker) error
}

// Resetter clears all data. Used by demo scenarios and tests.
type Resetter interface {
	Reset(ctx context.Context) error
}
