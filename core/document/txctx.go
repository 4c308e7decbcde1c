// Package document implements the lifecycle layer on top of the query
// builder: draft/publish status, localization, publish/unpublish and
// discard-draft transitions, component sub-entity management, middleware
// and lifecycle events. Every public operation runs inside a storage
// transaction.
package document

import (
	"context"
	"database/sql"
	"fmt"
)

type txContextKey struct{}

// Tx is the ambient transaction state carried through a logical operation.
// It wraps the live handle with commit and rollback callback lists that
// fire exactly once when the transaction resolves. It is readable by any
// code in the call chain but only the begin/commit/rollback operations
// mutate it.
type Tx struct {
	handle     *sql.Tx
	onCommit   []func()
	onRollback []func()
	resolved   bool
}

// Handle returns the live transaction for issuing statements.
func (t *Tx) Handle() *sql.Tx {
	return t.handle
}

// OnCommit registers a callback fired after a successful commit. Lifecycle
// events are emitted this way so subscribers never observe rolled-back
// state.
func (t *Tx) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

// OnRollback registers a callback fired when the transaction rolls back.
func (t *Tx) OnRollback(fn func()) {
	t.onRollback = append(t.onRollback, fn)
}

func (t *Tx) commit() error {
	if t.resolved {
		return nil
	}
	t.resolved = true
	if err := t.handle.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, fn := range t.onCommit {
		fn()
	}
	return nil
}

func (t *Tx) rollback() {
	if t.resolved {
		return
	}
	t.resolved = true
	_ = t.handle.Rollback()
	for _, fn := range t.onRollback {
		fn()
	}
}

// WithTx binds a transaction to the context.
func WithTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFrom returns the ambient transaction, if one is active. After commit
// or rollback the binding is cleared by the owning operation, so a lookup
// outside a transactional call chain reports none.
func TxFrom(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*Tx)
	if !ok || tx == nil || tx.resolved {
		return nil, false
	}
	return tx, true
}

// runInTransaction runs fn inside the ambient transaction, beginning a new
// one when none is active. A joined (nested) call never commits or rolls
// back the outer transaction; errors propagate and the owner resolves it.
func runInTransaction(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx *Tx) error) error {
	if tx, ok := TxFrom(ctx); ok {
		return fn(ctx, tx)
	}

	handle, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Tx{handle: handle}
	ctx = WithTx(ctx, tx)

	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return tx.commit()
}
