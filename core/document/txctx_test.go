package document

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBareDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	_, err = db.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)")
	require.NoError(t, err)
	return db
}

func countItems(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM items").Scan(&n))
	return n
}

func TestRunInTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commit persists and fires commit hooks", func(t *testing.T) {
		db := openBareDB(t)
		committed, rolledBack := false, false
		err := runInTransaction(ctx, db, func(ctx context.Context, tx *Tx) error {
			tx.OnCommit(func() { committed = true })
			tx.OnRollback(func() { rolledBack = true })
			_, err := tx.Handle().ExecContext(ctx, "INSERT INTO items (name) VALUES ('a')")
			return err
		})
		require.NoError(t, err)
		assert.True(t, committed)
		assert.False(t, rolledBack)
		assert.Equal(t, 1, countItems(t, db))
	})

	t.Run("error rolls back and fires rollback hooks", func(t *testing.T) {
		db := openBareDB(t)
		boom := errors.New("boom")
		committed, rolledBack := false, false
		err := runInTransaction(ctx, db, func(ctx context.Context, tx *Tx) error {
			tx.OnCommit(func() { committed = true })
			tx.OnRollback(func() { rolledBack = true })
			if _, err := tx.Handle().ExecContext(ctx, "INSERT INTO items (name) VALUES ('a')"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.False(t, committed)
		assert.True(t, rolledBack)
		assert.Equal(t, 0, countItems(t, db))
	})

	t.Run("nested calls join the ambient transaction", func(t *testing.T) {
		db := openBareDB(t)
		var outer *Tx
		err := runInTransaction(ctx, db, func(ctx context.Context, tx *Tx) error {
			outer = tx
			return runInTransaction(ctx, db, func(ctx context.Context, inner *Tx) error {
				assert.Same(t, outer, inner)
				_, err := inner.Handle().ExecContext(ctx, "INSERT INTO items (name) VALUES ('nested')")
				return err
			})
		})
		require.NoError(t, err)
		assert.Equal(t, 1, countItems(t, db))
	})

	t.Run("nested error rolls back the whole transaction", func(t *testing.T) {
		db := openBareDB(t)
		boom := errors.New("inner failure")
		err := runInTransaction(ctx, db, func(ctx context.Context, tx *Tx) error {
			if _, err := tx.Handle().ExecContext(ctx, "INSERT INTO items (name) VALUES ('outer')"); err != nil {
				return err
			}
			return runInTransaction(ctx, db, func(ctx context.Context, inner *Tx) error {
				return boom
			})
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, countItems(t, db))
	})
}

func TestTxFrom(t *testing.T) {
	ctx := context.Background()

	t.Run("absent without a transaction", func(t *testing.T) {
		_, ok := TxFrom(ctx)
		assert.False(t, ok)
	})

	t.Run("resolved transactions report absent", func(t *testing.T) {
		db := openBareDB(t)
		var bound context.Context
		err := runInTransaction(ctx, db, func(ctx context.Context, tx *Tx) error {
			bound = ctx
			_, ok := TxFrom(ctx)
			assert.True(t, ok)
			return nil
		})
		require.NoError(t, err)
		_, ok := TxFrom(bound)
		assert.False(t, ok)
	})
}
