// Package coordinator owns a transaction's identity,
// bootstraps the auxiliary tables, brokers item handles through the key resolver, enforces the
// lock/log protocol around every mutation, and drives commit/rollback.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/keyresolver"
	"github.com/sop-txmanager/dynatx/lock"
	"github.com/sop-txmanager/dynatx/store"
	"github.com/sop-txmanager/dynatx/wal"
)

// Tx is one client-side transaction: an identity row in tx-info, a set of item handles, and the
// in-memory WAL buffer that Rollback pops LIFO.
type Tx struct {
	client   store.Client
	resolver *keyresolver.Resolver
	log      *wal.Log
	cfg      dynatx.Config

	txUUID    dynatx.UUID
	txName    string
	isolation dynatx.IsolationLevel

	mu          sync.Mutex
	handles     []*ItemHandle
	logRecords  []wal.Record
	terminated  bool
	termination dynatx.Status
}

// New bootstraps the auxiliary tables (if needed) and creates the tx-info row with
// status=START, conditioned on attribute_not_exists(tx_uuid).
func New(ctx context.Context, client store.Client, resolver *keyresolver.Resolver, cfg dynatx.Config, txName string, isolation dynatx.IsolationLevel) (*Tx, error) {
	if !isolation.Valid() {
		return nil, dynatx.NewBadLockTypeError(string(isolation))
	}
	cfg = cfg.WithDefaults()

	if err := Bootstrap(ctx, client, cfg); err != nil {
		return nil, err
	}

	txUUID := dynatx.NewUUID()
	_, err := client.PutItem(ctx, store.PutItemInput{
		TableName: cfg.TxInfoTable,
		Item: dynatx.Item{
			dynatx.AttrTxUUID:       dynatx.S(txUUID.String()),
			dynatx.AttrTxName:       dynatx.S(txName),
			dynatx.AttrIsolationLvl: dynatx.S(string(isolation)),
			dynatx.AttrCreationDate: dynatx.S(dynatx.Now().UTC().Format(isoFormat)),
			dynatx.AttrStatus:       dynatx.S(string(dynatx.StatusStart)),
		},
		Expected: store.Expected{dynatx.AttrTxUUID: store.NotExists()},
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator: create tx-info row: %w", err)
	}

	return &Tx{
		client:    client,
		resolver:  resolver,
		log:       wal.New(client, cfg.TxInfoTable, cfg.TxDataTable),
		cfg:       cfg,
		txUUID:    txUUID,
		txName:    txName,
		isolation: isolation,
	}, nil
}

const isoFormat = "2006-01-02T15:04:05.999999999Z07:00"

// UUID returns the transaction's identity.
func (tx *Tx) UUID() dynatx.UUID { return tx.txUUID }

func (tx *Tx) checkLive() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.terminated {
		return dynatx.NewTransactionTerminatedError(tx.txUUID)
	}
	return nil
}

// markActive ADDs recUUID to tx-info.recs and (idempotently) bumps status to IN-FLIGHT,
// conditioned on tx_uuid=self: the transition to IN-FLIGHT happens implicitly on the first
// successful recs or logs addition.
func (tx *Tx) markActive(ctx context.Context, recUUID dynatx.UUID) error {
	_, err := tx.client.UpdateItem(ctx, store.UpdateItemInput{
		TableName: tx.cfg.TxInfoTable,
		Key:       dynatx.Key{dynatx.AttrTxUUID: dynatx.S(tx.txUUID.String())},
		Updates: map[string]store.AttributeUpdate{
			dynatx.AttrRecs:   {Action: store.ActionAdd, Value: dynatx.SSet(recUUID.String())},
			dynatx.AttrStatus: {Action: store.ActionPut, Value: dynatx.S(string(dynatx.StatusInFlight))},
		},
		Expected: store.Expected{dynatx.AttrTxUUID: store.EqualTo(dynatx.S(tx.txUUID.String()))},
	})
	if err != nil {
		return fmt.Errorf("coordinator: register item with tx-info: %w", err)
	}
	return nil
}

// GetItem resolves (table, hashValue, rangeValue?) into a key, registers a fresh rec_uuid
// against the transaction, and returns an ItemHandle. Under ReadUncommitted the rec_uuid is
// never registered and tx-info is left untouched, since no lock will ever need releasing for it.
func (tx *Tx) GetItem(ctx context.Context, table string, hashValue any, rangeValue ...any) (*ItemHandle, error) {
	if err := tx.checkLive(); err != nil {
		return nil, err
	}

	key, err := tx.resolver.Resolve(ctx, table, hashValue, rangeValue...)
	if err != nil {
		return nil, err
	}

	recUUID := dynatx.NewUUID()
	if tx.isolation != dynatx.ReadUncommitted {
		if err := tx.markActive(ctx, recUUID); err != nil {
			return nil, err
		}
	}

	h := &ItemHandle{
		tx:      tx,
		table:   table,
		key:     key,
		recUUID: recUUID,
		lockMgr: lock.New(tx.client, table, key, tx.txUUID),
	}

	tx.mu.Lock()
	tx.handles = append(tx.handles, h)
	tx.mu.Unlock()
	return h, nil
}

// appendLog writes a WAL record via the durable log, then buffers it in memory so Rollback can
// pop the buffer LIFO without a read-back.
func (tx *Tx) appendLog(ctx context.Context, h *ItemHandle, op wal.Operation, data dynatx.Item) error {
	rec := wal.Record{
		TxUUID:       tx.txUUID,
		LogUUID:      dynatx.NewUUID(),
		RecUUID:      h.recUUID,
		CreationDate: dynatx.Now().UTC().Format(isoFormat),
		Table:        h.table,
		Key:          h.key,
		Operation:    op,
		Data:         data,
	}
	if err := tx.log.Append(ctx, rec); err != nil {
		return err
	}
	tx.mu.Lock()
	tx.logRecords = append(tx.logRecords, rec)
	tx.mu.Unlock()
	return nil
}

func mergeExpected(expected store.Expected, xLockHolder string) store.Expected {
	out := store.Expected{}
	for k, v := range expected {
		out[k] = v
	}
	out[lock.AttrXLock] = store.EqualTo(dynatx.S(xLockHolder))
	return out
}

func selfLockAttrs(txUUID dynatx.UUID) dynatx.Item {
	return dynatx.Item{
		lock.AttrXLock: dynatx.S(txUUID.String()),
		lock.AttrLocks: lock.EncodeSelfLock(txUUID.String(), lock.LevelExclusive),
	}
}

func mergeItem(base, overlay dynatx.Item) dynatx.Item {
	out := dynatx.Item{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
