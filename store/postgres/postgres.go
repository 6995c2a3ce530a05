// Package postgres stores tanker days in PostgreSQL through the pgx
// database/sql driver. Schema and queries are shared with SQLite via
// store/sqlrepo.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/warp/tanker-dispatch/store/sqlrepo"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const defaultDSN = "postgres://localhost/dispatch?sslmode=disable"

var dialect = sqlrepo.Dialect{
	Name:              "postgres",
	Dollar:            true,
	IsUniqueViolation: isUniqueViolation,
}

// Store embeds the shared repository; every dispatch storage interface is
// promoted from it.
type Store struct {
	*sqlrepo.Repo
}

// New connects to dsn (defaultDSN when empty), pings and migrates.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	repo := sqlrepo.New(db, dialect)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{Repo: repo}, nil
}

func (s *Store) Close() error { return s.DB().Close() }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
