package coordinator

import (
	"context"

	"github.com/sop-txmanager/dynatx"
)

// Rollback pops the in-memory WAL buffer LIFO, undoing each record in the reverse of the order
// it was written, then releases every item's lock and sets tx-info.status=ROLLBACK.
// Rollback is idempotent: replaying the same log twice produces the same end
// state, since every inverse is either a full-attribute put or a key-only delete.
func (tx *Tx) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	if tx.terminated {
		tx.mu.Unlock()
		return dynatx.NewTransactionTerminatedError(tx.txUUID)
	}
	handles := append([]*ItemHandle(nil), tx.handles...)
	tx.mu.Unlock()

	if err := tx.undoBuffer(ctx); err != nil {
		return err
	}

	if err := releaseAll(ctx, handles); err != nil {
		return err
	}

	if err := tx.setStatus(ctx, dynatx.StatusRollback); err != nil {
		return dynatx.NewIndeterminateStateError(tx.txUUID, err)
	}

	tx.mu.Lock()
	tx.terminated = true
	tx.termination = dynatx.StatusRollback
	tx.mu.Unlock()
	return nil
}

// undoBuffer applies the inverse of every buffered WAL record in reverse order, i.e. pops the
// in-memory log LIFO.
func (tx *Tx) undoBuffer(ctx context.Context) error {
	tx.mu.Lock()
	records := tx.logRecords
	tx.mu.Unlock()

	for i := len(records) - 1; i >= 0; i-- {
		if err := tx.log.Undo(ctx, records[i]); err != nil {
			return err
		}
	}
	return nil
}
