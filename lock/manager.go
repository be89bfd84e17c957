// Package lock implements shared (S) and exclusive (X) advisory
// locks on a single item, held entirely in two reserved attributes on the item itself
// (tx_manager_x_lock, tx_manager_locks), mutated only through conditional store operations.
package lock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
)

// Reserved attribute names the Lock Manager owns on every lockable item.
const (
	AttrXLock = "tx_manager_x_lock"
	AttrLocks = "tx_manager_locks"
)

// Level is the two lock strengths a transaction can request.
type Level string

const (
	LevelShared    Level = "S"
	LevelExclusive Level = "X"
)

// DefaultWaitInterval and DefaultMaxWait are wait_lock's defaults.
const (
	DefaultWaitInterval = 100 * time.Millisecond
	DefaultMaxWait      = 1 * time.Second
)

type lockEntry struct {
	TxUUID string `json:"tx_uuid"`
	Lock   string `json:"lock"`
}

// AcquireResult is the tagged outcome of one acquisition attempt. ItemExisted distinguishes
// "the target row is missing" from an ordinary deny, so Handle.Put can branch on it directly
// instead of matching an error type (the original signaled this by catching a thrown
// ItemNotFoundException around the pre-read).
type AcquireResult struct {
	Granted     bool
	ItemExisted bool
}

// Manager acquires and releases item locks against a single target item. One Manager instance
// guards exactly one (table, key) pair for the lifetime of the transaction that owns it; the
// coordinator keeps one per item handle.
type Manager struct {
	client store.Client
	table  string
	key    dynatx.Key
	txUUID dynatx.UUID

	state Level // "" when unlocked
}

// New builds a Manager for one item, owned by txUUID.
func New(client store.Client, table string, key dynatx.Key, txUUID dynatx.UUID) *Manager {
	return &Manager{client: client, table: table, key: key, txUUID: txUUID}
}

// State reports the lock level this Manager currently believes it holds, cached locally so
// a lock requested by the transaction that already holds a stronger lock is granted trivially.
func (m *Manager) State() Level { return m.state }

// decodeEntries unmarshals the JSON-object-per-string-element encoding tx_manager_locks uses on
// the wire: each set element is a JSON object {"tx_uuid":"...","lock":"S"|"X"} serialized as a
// string, so other tooling inspecting the reserved attribute sees a structured record rather
// than an ad hoc delimiter format. Elements that fail to unmarshal are skipped.
func decodeEntries(av dynatx.AttributeValue) []lockEntry {
	if av.Type != dynatx.TypeSS {
		return nil
	}
	out := make([]lockEntry, 0, len(av.SS))
	for _, s := range av.SS {
		var e lockEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (e lockEntry) encode() dynatx.AttributeValue {
	b, err := json.Marshal(e)
	if err != nil {
		panic(err)
	}
	return dynatx.SSet(string(b))
}

// EncodeSelfLock returns the tx_manager_locks set value for a single entry, for callers seeding
// an item's reserved lock attributes directly (a fresh insert that already owns its own lock,
// bypassing the acquire round-trip since there is nothing yet to contend with).
func EncodeSelfLock(txUUID string, level Level) dynatx.AttributeValue {
	return lockEntry{TxUUID: txUUID, Lock: string(level)}.encode()
}

// readLocks performs the consistent read of tx_manager_locks described in step 1 of both the S
// and X acquisition algorithms. ok is false when the item itself does not exist.
func (m *Manager) readLocks(ctx context.Context) (entries []lockEntry, ok bool, err error) {
	item, found, err := m.client.GetItem(ctx, store.GetItemInput{
		TableName:      m.table,
		Key:            m.key,
		ProjectAttrs:   []string{AttrLocks},
		ConsistentRead: true,
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if av, has := item[AttrLocks]; has {
		entries = decodeEntries(av)
	}
	return entries, true, nil
}

func otherEntries(entries []lockEntry, self string) []lockEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.TxUUID != self {
			out = append(out, e)
		}
	}
	return out
}

// AcquireS attempts the shared-lock algorithm once, with no retry.
func (m *Manager) AcquireS(ctx context.Context) (AcquireResult, error) {
	if m.state == LevelShared || m.state == LevelExclusive {
		return AcquireResult{Granted: true, ItemExisted: true}, nil
	}

	entries, found, err := m.readLocks(ctx)
	if err != nil {
		return AcquireResult{}, err
	}
	if !found {
		return AcquireResult{ItemExisted: false}, nil
	}
	for _, e := range otherEntries(entries, m.txUUID.String()) {
		if e.Lock == string(LevelExclusive) {
			return AcquireResult{ItemExisted: true}, nil
		}
	}

	self := lockEntry{TxUUID: m.txUUID.String(), Lock: string(LevelShared)}
	_, err = m.client.UpdateItem(ctx, store.UpdateItemInput{
		TableName: m.table,
		Key:       m.key,
		Updates: map[string]store.AttributeUpdate{
			AttrLocks: {Action: store.ActionAdd, Value: self.encode()},
		},
		Expected: store.Expected{AttrXLock: store.NotExists()},
	})
	if dynatx.IsConditionalCheckFailed(err) {
		return AcquireResult{ItemExisted: true}, nil
	}
	if err != nil {
		return AcquireResult{}, err
	}
	m.state = LevelShared
	return AcquireResult{Granted: true, ItemExisted: true}, nil
}

// AcquireX attempts the exclusive-lock algorithm once, with no retry.
func (m *Manager) AcquireX(ctx context.Context) (AcquireResult, error) {
	if m.state == LevelExclusive {
		return AcquireResult{Granted: true, ItemExisted: true}, nil
	}

	entries, found, err := m.readLocks(ctx)
	if err != nil {
		return AcquireResult{}, err
	}
	if !found {
		return AcquireResult{ItemExisted: false}, nil
	}
	if len(otherEntries(entries, m.txUUID.String())) > 0 {
		return AcquireResult{ItemExisted: true}, nil
	}

	_, err = m.client.UpdateItem(ctx, store.UpdateItemInput{
		TableName: m.table,
		Key:       m.key,
		Updates: map[string]store.AttributeUpdate{
			AttrXLock: {Action: store.ActionPut, Value: dynatx.S(m.txUUID.String())},
		},
		Expected: store.Expected{AttrXLock: store.NotExists()},
	})
	if dynatx.IsConditionalCheckFailed(err) {
		return AcquireResult{ItemExisted: true}, nil
	}
	if err != nil {
		return AcquireResult{}, err
	}

	xEntry := lockEntry{TxUUID: m.txUUID.String(), Lock: string(LevelExclusive)}
	sEntry := lockEntry{TxUUID: m.txUUID.String(), Lock: string(LevelShared)}
	if _, err := m.client.UpdateItem(ctx, store.UpdateItemInput{
		TableName: m.table,
		Key:       m.key,
		Updates: map[string]store.AttributeUpdate{
			AttrLocks: {Action: store.ActionAdd, Value: xEntry.encode()},
		},
	}); err != nil {
		return AcquireResult{}, err
	}
	if _, err := m.client.UpdateItem(ctx, store.UpdateItemInput{
		TableName: m.table,
		Key:       m.key,
		Updates: map[string]store.AttributeUpdate{
			AttrLocks: {Action: store.ActionDelete, Value: sEntry.encode()},
		},
	}); err != nil {
		return AcquireResult{}, err
	}

	m.state = LevelExclusive
	return AcquireResult{Granted: true, ItemExisted: true}, nil
}

// Acquire attempts level once, dispatching to AcquireS or AcquireX.
func (m *Manager) Acquire(ctx context.Context, level Level) (AcquireResult, error) {
	switch level {
	case LevelShared:
		return m.AcquireS(ctx)
	case LevelExclusive:
		return m.AcquireX(ctx)
	default:
		return AcquireResult{}, dynatx.NewBadLockTypeError(string(level))
	}
}

// WaitLock retries Acquire at fixed intervals until it is granted or maxWait elapses. A zero
// interval/maxWait uses the package
// defaults. A missing target item ends the wait at once with a nil error and
// ItemExisted=false rather than waiting out the full timeout; the caller decides what that means.
func (m *Manager) WaitLock(ctx context.Context, level Level, interval, maxWait time.Duration) (AcquireResult, error) {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	b := retry.NewConstant(interval)
	start := dynatx.Now()
	var last AcquireResult
	err := retry.Do(waitCtx, b, func(ctx context.Context) error {
		res, err := m.Acquire(ctx, level)
		if err != nil {
			return err
		}
		last = res
		if !res.ItemExisted {
			return nil
		}
		if !res.Granted {
			return retry.RetryableError(dynatx.ErrLockWaitTimeout)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, dynatx.ErrLockWaitTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return AcquireResult{}, dynatx.NewLockWaitTimeoutError(keyString(m.key), dynatx.Now().Sub(start))
		}
		return AcquireResult{}, err
	}
	return last, nil
}

// Release undoes whatever this Manager currently holds, following an ordered, idempotent
// sequence: conditionally clear tx_manager_x_lock iff owned by self, then
// unconditionally strip both possible tx_manager_locks entries, then clear local state. When
// the item no longer exists (for example after a rollback removed an inserted row), nothing is
// written, so the item stays absent.
func (m *Manager) Release(ctx context.Context) error {
	_, err := m.client.UpdateItem(ctx, store.UpdateItemInput{
		TableName: m.table,
		Key:       m.key,
		Updates: map[string]store.AttributeUpdate{
			AttrXLock: {Action: store.ActionDelete},
		},
		Expected: store.Expected{AttrXLock: store.EqualTo(dynatx.S(m.txUUID.String()))},
	})
	if err != nil && !dynatx.IsConditionalCheckFailed(err) {
		return err
	}

	if _, found, err := m.readLocks(ctx); err != nil {
		return err
	} else if !found {
		m.state = ""
		return nil
	}

	xEntry := lockEntry{TxUUID: m.txUUID.String(), Lock: string(LevelExclusive)}
	sEntry := lockEntry{TxUUID: m.txUUID.String(), Lock: string(LevelShared)}
	if _, err := m.client.UpdateItem(ctx, store.UpdateItemInput{
		TableName: m.table,
		Key:       m.key,
		Updates: map[string]store.AttributeUpdate{
			AttrLocks: {Action: store.ActionDelete, Value: xEntry.encode()},
		},
	}); err != nil {
		return err
	}
	if _, err := m.client.UpdateItem(ctx, store.UpdateItemInput{
		TableName: m.table,
		Key:       m.key,
		Updates: map[string]store.AttributeUpdate{
			AttrLocks: {Action: store.ActionDelete, Value: sEntry.encode()},
		},
	}); err != nil {
		return err
	}

	m.state = ""
	return nil
}

func keyString(k dynatx.Key) string {
	s := ""
	for name, v := range k {
		s += name + "=" + string(v.Type) + ":" + v.Str + ":" + base64.StdEncoding.EncodeToString(v.Bin) + ";"
	}
	return s
}
