package coordinator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
)

// Commit releases every item's lock (concurrently, via errgroup — mutations are already live
// since every write was performed synchronously) and then conditionally advances tx-info.status
// to COMMIT. A failed status transition is fatal and left for sweeper-driven rollback.
func (tx *Tx) Commit(ctx context.Context) error {
	tx.mu.Lock()
	if tx.terminated {
		tx.mu.Unlock()
		return dynatx.NewTransactionTerminatedError(tx.txUUID)
	}
	handles := append([]*ItemHandle(nil), tx.handles...)
	tx.mu.Unlock()

	if err := releaseAll(ctx, handles); err != nil {
		return err
	}

	if err := tx.setStatus(ctx, dynatx.StatusCommit); err != nil {
		return dynatx.NewIndeterminateStateError(tx.txUUID, err)
	}

	tx.mu.Lock()
	tx.terminated = true
	tx.termination = dynatx.StatusCommit
	tx.mu.Unlock()
	return nil
}

func releaseAll(ctx context.Context, handles []*ItemHandle) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		h := h
		g.Go(func() error {
			return h.lockMgr.Release(gctx)
		})
	}
	return g.Wait()
}

func (tx *Tx) setStatus(ctx context.Context, status dynatx.Status) error {
	_, err := tx.client.UpdateItem(ctx, store.UpdateItemInput{
		TableName: tx.cfg.TxInfoTable,
		Key:       dynatx.Key{dynatx.AttrTxUUID: dynatx.S(tx.txUUID.String())},
		Updates: map[string]store.AttributeUpdate{
			dynatx.AttrStatus: {Action: store.ActionPut, Value: dynatx.S(string(status))},
		},
		Expected: store.Expected{dynatx.AttrTxUUID: store.EqualTo(dynatx.S(tx.txUUID.String()))},
	})
	if err != nil {
		return fmt.Errorf("coordinator: set tx-info.status=%s: %w", status, err)
	}
	return nil
}
