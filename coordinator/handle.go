package coordinator

import (
	"context"
	"fmt"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/lock"
	"github.com/sop-txmanager/dynatx/store"
	"github.com/sop-txmanager/dynatx/wal"
)

// ItemHandle is the in-memory handle for one item within a transaction: a resolved key plus the
// client-cached lock state, valid for the lifetime of the owning transaction.
type ItemHandle struct {
	tx      *Tx
	table   string
	key     dynatx.Key
	recUUID dynatx.UUID
	lockMgr *lock.Manager
}

// Table and Key expose the handle's resolved identity to callers.
func (h *ItemHandle) Table() string   { return h.table }
func (h *ItemHandle) Key() dynatx.Key { return h.key }

func levelForIsolation(lvl dynatx.IsolationLevel) (lock.Level, bool) {
	switch lvl {
	case dynatx.FullLock:
		return lock.LevelExclusive, true
	case dynatx.ReadCommitted:
		return lock.LevelShared, true
	case dynatx.ReadUncommitted:
		return "", false
	default:
		return lock.LevelShared, true
	}
}

// Get performs a consistent read of the target, acquiring a lock first per the transaction's
// isolation level: FULL_LOCK upgrades to X, READ_COMMITTED takes S, READ_UNCOMMITTED takes no
// lock at all. Reserved
// attributes are not stripped from the result; this is a building block, not a query engine.
func (h *ItemHandle) Get(ctx context.Context, projectAttrs ...string) (dynatx.Item, error) {
	if err := h.tx.checkLive(); err != nil {
		return nil, err
	}

	level, needsLock := levelForIsolation(h.tx.isolation)
	if needsLock {
		res, err := h.lockMgr.WaitLock(ctx, level, h.tx.cfg.WaitLockInterval, h.tx.cfg.WaitLockMaxWait)
		if err != nil {
			return nil, err
		}
		if !res.ItemExisted {
			return nil, dynatx.NewNotExistingItemError(h.table, h.key)
		}
	}

	item, found, err := h.tx.client.GetItem(ctx, store.GetItemInput{
		TableName:      h.table,
		Key:            h.key,
		ProjectAttrs:   projectAttrs,
		ConsistentRead: true,
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: get_item(%s): %w", h.table, err)
	}
	if !found {
		return nil, dynatx.NewNotExistingItemError(h.table, h.key)
	}
	return item, nil
}

// Put writes item, acquiring X first. If the target row did not exist, it takes the conditional
// insert path (attribute_not_exists on the key) and logs a DELETE WAL record; otherwise it
// injects the reserved lock attributes, conditions on tx_manager_x_lock=self, and logs a PUT WAL
// record carrying the ALL_OLD image.
func (h *ItemHandle) Put(ctx context.Context, item dynatx.Item, expected store.Expected) (dynatx.Item, error) {
	if err := h.tx.checkLive(); err != nil {
		return nil, err
	}

	res, err := h.lockMgr.WaitLock(ctx, lock.LevelExclusive, h.tx.cfg.WaitLockInterval, h.tx.cfg.WaitLockMaxWait)
	if err != nil {
		return nil, err
	}

	if !res.ItemExisted {
		insertExpected := store.Expected{}
		for name := range h.key {
			insertExpected[name] = store.NotExists()
		}
		for k, v := range expected {
			insertExpected[k] = v
		}
		row := mergeItem(mergeItem(dynatx.Item(h.key), item), selfLockAttrs(h.tx.txUUID))
		if _, err := h.tx.client.PutItem(ctx, store.PutItemInput{
			TableName:    h.table,
			Item:         row,
			Expected:     insertExpected,
			ReturnValues: store.ReturnAllOld,
		}); err != nil {
			return nil, fmt.Errorf("coordinator: put_item(%s) insert: %w", h.table, err)
		}
		if err := h.tx.appendLog(ctx, h, wal.OpDelete, nil); err != nil {
			return nil, err
		}
		return nil, nil
	}

	row := mergeItem(mergeItem(dynatx.Item(h.key), item), selfLockAttrs(h.tx.txUUID))
	oldImage, err := h.tx.client.PutItem(ctx, store.PutItemInput{
		TableName:    h.table,
		Item:         row,
		Expected:     mergeExpected(expected, h.tx.txUUID.String()),
		ReturnValues: store.ReturnAllOld,
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: put_item(%s): %w", h.table, err)
	}
	if err := h.tx.appendLog(ctx, h, wal.OpPut, oldImage); err != nil {
		return nil, err
	}
	return oldImage, nil
}

// Update mutates the target via updates, acquiring X first; the target must already exist. Key
// attributes are stripped from updates since keys are immutable.
func (h *ItemHandle) Update(ctx context.Context, updates map[string]store.AttributeUpdate, expected store.Expected) (dynatx.Item, error) {
	if err := h.tx.checkLive(); err != nil {
		return nil, err
	}

	res, err := h.lockMgr.WaitLock(ctx, lock.LevelExclusive, h.tx.cfg.WaitLockInterval, h.tx.cfg.WaitLockMaxWait)
	if err != nil {
		return nil, err
	}
	if !res.ItemExisted {
		return nil, dynatx.NewNotExistingItemError(h.table, h.key)
	}

	stripped := map[string]store.AttributeUpdate{}
	for attr, upd := range updates {
		if _, isKey := h.key[attr]; isKey {
			continue
		}
		stripped[attr] = upd
	}

	oldImage, err := h.tx.client.UpdateItem(ctx, store.UpdateItemInput{
		TableName:    h.table,
		Key:          h.key,
		Updates:      stripped,
		Expected:     mergeExpected(expected, h.tx.txUUID.String()),
		ReturnValues: store.ReturnAllOld,
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: update_item(%s): %w", h.table, err)
	}
	if err := h.tx.appendLog(ctx, h, wal.OpPut, oldImage); err != nil {
		return nil, err
	}
	return oldImage, nil
}

// Delete removes the target, acquiring X first; the target must already exist.
func (h *ItemHandle) Delete(ctx context.Context, expected store.Expected) (dynatx.Item, error) {
	if err := h.tx.checkLive(); err != nil {
		return nil, err
	}

	res, err := h.lockMgr.WaitLock(ctx, lock.LevelExclusive, h.tx.cfg.WaitLockInterval, h.tx.cfg.WaitLockMaxWait)
	if err != nil {
		return nil, err
	}
	if !res.ItemExisted {
		return nil, dynatx.NewNotExistingItemError(h.table, h.key)
	}

	oldImage, err := h.tx.client.DeleteItem(ctx, store.DeleteItemInput{
		TableName:    h.table,
		Key:          h.key,
		Expected:     mergeExpected(expected, h.tx.txUUID.String()),
		ReturnValues: store.ReturnAllOld,
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: delete_item(%s): %w", h.table, err)
	}
	if err := h.tx.appendLog(ctx, h, wal.OpPut, oldImage); err != nil {
		return nil, err
	}
	return oldImage, nil
}
