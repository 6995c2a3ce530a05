package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tanker-dispatch/dispatch"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("duplicate key")))
	assert.False(t, isUniqueViolation(nil))
}

// TestStore_RoundTrip runs against a real server when DISPATCH_TEST_POSTGRES
// holds a DSN.
func TestStore_RoundTrip(t *testing.T) {
	dsn := os.Getenv("DISPATCH_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("DISPATCH_TEST_POSTGRES not set")
	}
	ctx := context.Background()
	store, err := New(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Reset(ctx))

	tanker := dispatch.Tanker{ID: "tk-pg", Name: "PG", Compartments: []dispatch.Compartment{
		{ID: "c1", Name: "C1", MaxVolume: decimal.NewFromInt(5000)},
	}}
	require.NoError(t, store.SaveTanker(ctx, tanker))

	date, _ := dispatch.ParseDate("2025-03-10")
	day := dispatch.NewTankerDay(date, tanker, "alice", date)
	require.NoError(t, store.Create(ctx, day))
	assert.ErrorIs(t, store.Create(ctx, dispatch.NewTankerDay(date, tanker, "alice", date)), dispatch.ErrAlreadyExists)

	loaded, err := store.Load(ctx, day.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Version)
	assert.Len(t, loaded.Timeline, len(day.Timeline))

	require.NoError(t, store.Save(ctx, loaded, 1))
	assert.ErrorIs(t, store.Save(ctx, loaded, 1), dispatch.ErrConcurrentModification)
}
