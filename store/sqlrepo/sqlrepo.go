/*
Package sqlrepo implements dispatch.Repository and dispatch.TankerDirectory
on top of database/sql.

PURPOSE:
  SQLite and PostgreSQL share the same schema and the same queries. Only
  the placeholder style and the unique-violation check differ, and those
  come in through Dialect. store/sqlite and store/postgres open the
  connection and hand it here.

KEY TABLES:
  tankers:         master data, compartments kept as JSON
  tanker_days:     one row per (date, tanker), whole aggregate in doc
  timeline_events: insert-only audit trail, one row per (day_id, seq)

VERSIONING:
  Save() runs an UPDATE ... WHERE version = expected. Zero affected rows
  means somebody else saved first, and the caller gets
  dispatch.ErrConcurrentModification. New timeline events are inserted in
  the same transaction; rows already stored are never touched.

SEE ALSO:
  - dispatch/store.go: the contract
  - dispatch/store/memory.go: reference semantics
*/
package sqlrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/tanker-dispatch/dispatch"
)

// Dialect captures what differs between database engines.
type Dialect struct {
	Name string

	// Dollar placeholders ($1, $2) instead of '?'.
	Dollar bool

	// IsUniqueViolation reports whether err is a primary key or unique
	// constraint failure.
	IsUniqueViolation func(err error) bool
}

const schema = `
CREATE TABLE IF NOT EXISTS tankers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	doc TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tanker_days (
	id TEXT PRIMARY KEY,
	day_date TEXT NOT NULL,
	tanker_id TEXT NOT NULL,
	status TEXT NOT NULL,
	version INTEGER NOT NULL,
	doc TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(day_date, tanker_id)
);

CREATE INDEX IF NOT EXISTS idx_tanker_days_date
	ON tanker_days(day_date);

CREATE TABLE IF NOT EXISTS timeline_events (
	day_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	occurred_at TEXT NOT NULL,
	completed BOOLEAN NOT NULL,
	actor TEXT,
	PRIMARY KEY (day_id, seq)
)`

// Repo is safe for concurrent use to the extent the underlying *sql.DB is.
type Repo struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *Repo {
	return &Repo{db: db, dialect: dialect}
}

// Migrate creates the schema if it does not exist.
func (r *Repo) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: migrate: %w", r.dialect.Name, err)
		}
	}
	return nil
}

// DB exposes the handle for tests and health checks.
func (r *Repo) DB() *sql.DB { return r.db }

// =============================================================================
// TANKER DAYS (dispatch.Repository)
// =============================================================================

func (r *Repo) Create(ctx context.Context, day *dispatch.TankerDay) error {
	doc, err := encodeDay(day)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.q(`
		INSERT INTO tanker_days (id, day_date, tanker_id, status, version, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)`),
		day.ID,
		day.Date.Format(dispatch.DateLayout),
		day.TankerID,
		string(day.Status),
		doc,
		formatTime(day.CreatedAt),
		formatTime(day.UpdatedAt),
	)
	if err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("tanker day for %s on %s: %w",
				day.TankerID, day.Date.Format(dispatch.DateLayout), dispatch.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert tanker day: %w", err)
	}
	if err := r.insertEvents(ctx, tx, day.ID, day.Timeline); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	day.Version = 1
	return nil
}

func (r *Repo) Load(ctx context.Context, id string) (*dispatch.TankerDay, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT version, doc FROM tanker_days WHERE id = ?`), id)
	var version int
	var doc string
	if err := row.Scan(&version, &doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tanker day %s: %w", id, dispatch.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load tanker day: %w", err)
	}
	day, err := decodeDay(doc, version)
	if err != nil {
		return nil, err
	}
	events, err := r.loadEvents(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	day.Timeline = events[id]
	return day, nil
}

func (r *Repo) Save(ctx context.Context, day *dispatch.TankerDay, expectedVersion int) error {
	doc, err := encodeDay(day)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, r.q(`
		UPDATE tanker_days SET status = ?, version = ?, doc = ?, updated_at = ?
		WHERE id = ? AND version = ?`),
		string(day.Status),
		expectedVersion+1,
		doc,
		formatTime(day.UpdatedAt),
		day.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update tanker day: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update tanker day: %w", err)
	}
	if affected == 0 {
		var current int
		err := tx.QueryRowContext(ctx, r.q(`SELECT version FROM tanker_days WHERE id = ?`), day.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("tanker day %s: %w", day.ID, dispatch.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read version: %w", err)
		}
		return fmt.Errorf("tanker day %s at version %d, expected %d: %w",
			day.ID, current, expectedVersion, dispatch.ErrConcurrentModification)
	}

	var stored int
	if err := tx.QueryRowContext(ctx,
		r.q(`SELECT COALESCE(MAX(seq), 0) FROM timeline_events WHERE day_id = ?`), day.ID,
	).Scan(&stored); err != nil {
		return fmt.Errorf("failed to read timeline: %w", err)
	}
	if len(day.Timeline) < stored {
		return fmt.Errorf("tanker day %s: timeline is append-only", day.ID)
	}
	var fresh []dispatch.TimelineEvent
	for _, e := range day.Timeline {
		if e.Seq > stored {
			fresh = append(fresh, e)
		}
	}
	if err := r.insertEvents(ctx, tx, day.ID, fresh); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	day.Version = expectedVersion + 1
	return nil
}

func (r *Repo) ListByDate(ctx context.Context, date time.Time) ([]dispatch.TankerDay, error) {
	return r.ListInRange(ctx, date, date)
}

func (r *Repo) ListInRange(ctx context.Context, from, to time.Time) ([]dispatch.TankerDay, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, version, doc FROM tanker_days
		WHERE day_date >= ? AND day_date <= ?
		ORDER BY day_date ASC, tanker_id ASC`),
		dispatch.DateOf(from).Format(dispatch.DateLayout),
		dispatch.DateOf(to).Format(dispatch.DateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tanker days: %w", err)
	}
	defer rows.Close()

	var days []dispatch.TankerDay
	var ids []string
	for rows.Next() {
		var id, doc string
		var version int
		if err := rows.Scan(&id, &version, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan tanker day: %w", err)
		}
		day, err := decodeDay(doc, version)
		if err != nil {
			return nil, err
		}
		days = append(days, *day)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return days, nil
	}

	events, err := r.loadEvents(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range days {
		days[i].Timeline = events[days[i].ID]
	}
	return days, nil
}

// =============================================================================
// TIMELINE
// =============================================================================

func (r *Repo) insertEvents(ctx context.Context, tx *sql.Tx, dayID string, events []dispatch.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, r.q(`
		INSERT INTO timeline_events (day_id, seq, id, event_type, title, description, occurred_at, completed, actor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare timeline insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			dayID, e.Seq, e.ID, string(e.Type), e.Title,
			nullString(e.Description), formatTime(e.At), e.Completed, nullString(e.Actor),
		)
		if err != nil {
			if r.dialect.IsUniqueViolation(err) {
				return fmt.Errorf("timeline event %d on %s: %w", e.Seq, dayID, dispatch.ErrConcurrentModification)
			}
			return fmt.Errorf("failed to insert timeline event: %w", err)
		}
	}
	return nil
}

func (r *Repo) loadEvents(ctx context.Context, dayIDs []string) (map[string][]dispatch.TimelineEvent, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(dayIDs)), ", ")
	args := make([]any, len(dayIDs))
	for i, id := range dayIDs {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT day_id, seq, id, event_type, title, description, occurred_at, completed, actor
		FROM timeline_events
		WHERE day_id IN (`+placeholders+`)
		ORDER BY day_id, seq`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]dispatch.TimelineEvent, len(dayIDs))
	for rows.Next() {
		var (
			dayID, at          string
			e                  dispatch.TimelineEvent
			eventType          string
			description, actor sql.NullString
		)
		if err := rows.Scan(&dayID, &e.Seq, &e.ID, &eventType, &e.Title, &description, &at, &e.Completed, &actor); err != nil {
			return nil, fmt.Errorf("failed to scan timeline event: %w", err)
		}
		e.Type = dispatch.EventType(eventType)
		e.Description = description.String
		e.Actor = actor.String
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("timeline event %s/%d: %w", dayID, e.Seq, err)
		}
		out[dayID] = append(out[dayID], e)
	}
	return out, rows.Err()
}

// =============================================================================
// TANKERS (dispatch.TankerDirectory)
// =============================================================================

func (r *Repo) GetTanker(ctx context.Context, id string) (*dispatch.Tanker, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, r.q(`SELECT doc FROM tankers WHERE id = ?`), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, dispatch.ErrTankerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tanker: %w", err)
	}
	var t dispatch.Tanker
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("decode tanker %s: %w", id, err)
	}
	return &t, nil
}

func (r *Repo) ListTankers(ctx context.Context) ([]dispatch.Tanker, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT doc FROM tankers ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tankers: %w", err)
	}
	defer rows.Close()

	result := []dispatch.Tanker{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t dispatch.Tanker
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			return nil, fmt.Errorf("decode tanker: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *Repo) SaveTanker(ctx context.Context, t dispatch.Tanker) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tanker %s: %w", t.ID, err)
	}
	_, err = r.db.ExecContext(ctx, r.q(`
		INSERT INTO tankers (id, name, doc, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, doc = excluded.doc, updated_at = excluded.updated_at`),
		t.ID, t.Name, string(doc), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save tanker: %w", err)
	}
	return nil
}

// Reset clears all data (for testing/demo).
func (r *Repo) Reset(ctx context.Context) error {
	for _, table := range []string{"timeline_events", "tanker_days", "tankers"} {
		if _, err := r.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// q rewrites '?' placeholders for dialects that number them.
func (r *Repo) q(query string) string {
	if !r.dialect.Dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// encodeDay serializes everything except the timeline, which has its own table.
func encodeDay(day *dispatch.TankerDay) (string, error) {
	stripped := *day
	stripped.Timeline = nil
	doc, err := json.Marshal(stripped)
	if err != nil {
		return "", fmt.Errorf("encode tanker day %s: %w", day.ID, err)
	}
	return string(doc), nil
}

func decodeDay(doc string, version int) (*dispatch.TankerDay, error) {
	var day dispatch.TankerDay
	if err := json.Unmarshal([]byte(doc), &day); err != nil {
		return nil, fmt.Errorf("decode tanker day: %w", err)
	}
	day.Version = version
	return &day, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
