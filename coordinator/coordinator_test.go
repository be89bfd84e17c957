package coordinator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/keyresolver"
	"github.com/sop-txmanager/dynatx/lock"
	"github.com/sop-txmanager/dynatx/store"
	"github.com/sop-txmanager/dynatx/store/memory"
)

func newHarness(t *testing.T) (*memory.Client, *keyresolver.Resolver, dynatx.Config) {
	t.Helper()
	c := memory.New()
	if err := c.CreateTable(context.Background(), store.CreateTableInput{
		TableName: "accounts",
		AttributeDefinitions: []store.AttributeDefinition{
			{AttributeName: "id", AttributeType: dynatx.TypeS},
		},
		KeySchema: []store.KeySchemaElement{
			{AttributeName: "id", KeyType: store.KeyTypeHash},
		},
	}); err != nil {
		t.Fatal(err)
	}
	return c, keyresolver.New(c, nil), dynatx.Config{}.WithDefaults()
}

func TestS1SinglePutCommit(t *testing.T) {
	c, resolver, cfg := newHarness(t)
	ctx := context.Background()

	tx, err := New(ctx, c, resolver, cfg, "t1", dynatx.ReadCommitted)
	if err != nil {
		t.Fatal(err)
	}
	h, err := tx.GetItem(ctx, "accounts", "a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Put(ctx, dynatx.Item{"bal": dynatx.N("10")}, nil); err != nil {
		t.Fatal(err)
	}

	preCommit, found, err := c.GetItem(ctx, store.GetItemInput{TableName: "accounts", Key: dynatx.Key{"id": dynatx.S("a")}})
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	locks := preCommit[lock.AttrLocks]
	if len(locks.SS) != 1 {
		t.Fatalf("expected a single self lock entry, got %v", locks)
	}
	var entry struct {
		TxUUID string `json:"tx_uuid"`
		Lock   string `json:"lock"`
	}
	if err := json.Unmarshal([]byte(locks.SS[0]), &entry); err != nil {
		t.Fatalf("tx_manager_locks element is not a JSON object: %v (%q)", err, locks.SS[0])
	}
	if entry.TxUUID != tx.UUID().String() || entry.Lock != string(lock.LevelExclusive) {
		t.Fatalf("decoded entry=%+v", entry)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	item, found, err := c.GetItem(ctx, store.GetItemInput{TableName: "accounts", Key: dynatx.Key{"id": dynatx.S("a")}})
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if item["bal"].Str != "10" {
		t.Fatalf("bal=%v", item["bal"])
	}
	if _, has := item[lock.AttrXLock]; has {
		t.Fatal("x-lock attribute should be gone after commit")
	}
	if locks, has := item[lock.AttrLocks]; has && len(locks.SS) != 0 {
		t.Fatalf("locks should be empty after commit, got %v", locks)
	}

	txInfo, found, err := c.GetItem(ctx, store.GetItemInput{TableName: cfg.TxInfoTable, Key: dynatx.Key{dynatx.AttrTxUUID: dynatx.S(tx.UUID().String())}})
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if txInfo[dynatx.AttrStatus].Str != string(dynatx.StatusCommit) {
		t.Fatalf("status=%v", txInfo[dynatx.AttrStatus])
	}
}

func TestS2UpdateRollback(t *testing.T) {
	c, resolver, cfg := newHarness(t)
	ctx := context.Background()

	if _, err := c.PutItem(ctx, store.PutItemInput{TableName: "accounts", Item: dynatx.Item{"id": dynatx.S("a"), "bal": dynatx.N("10")}}); err != nil {
		t.Fatal(err)
	}

	tx, err := New(ctx, c, resolver, cfg, "t2", dynatx.ReadCommitted)
	if err != nil {
		t.Fatal(err)
	}
	h, err := tx.GetItem(ctx, "accounts", "a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Update(ctx, map[string]store.AttributeUpdate{"bal": {Action: store.ActionPut, Value: dynatx.N("20")}}, nil); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	item, found, err := c.GetItem(ctx, store.GetItemInput{TableName: "accounts", Key: dynatx.Key{"id": dynatx.S("a")}})
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if item["bal"].Str != "10" {
		t.Fatalf("bal=%v, expected rollback to restore 10", item["bal"])
	}
	if _, has := item[lock.AttrXLock]; has {
		t.Fatal("x-lock attribute should be gone after rollback")
	}

	txInfo, _, _ := c.GetItem(ctx, store.GetItemInput{TableName: cfg.TxInfoTable, Key: dynatx.Key{dynatx.AttrTxUUID: dynatx.S(tx.UUID().String())}})
	if txInfo[dynatx.AttrStatus].Str != string(dynatx.StatusRollback) {
		t.Fatalf("status=%v", txInfo[dynatx.AttrStatus])
	}
}

func TestS3LockConflictThenSuccess(t *testing.T) {
	c, resolver, cfg := newHarness(t)
	ctx := context.Background()
	if _, err := c.PutItem(ctx, store.PutItemInput{TableName: "accounts", Item: dynatx.Item{"id": dynatx.S("a")}}); err != nil {
		t.Fatal(err)
	}

	txA, err := New(ctx, c, resolver, cfg, "tA", dynatx.FullLock)
	if err != nil {
		t.Fatal(err)
	}
	hA, err := txA.GetItem(ctx, "accounts", "a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := hA.Get(ctx); err != nil {
		t.Fatal(err)
	}

	txB, err := New(ctx, c, resolver, cfg, "tB", dynatx.FullLock)
	if err != nil {
		t.Fatal(err)
	}
	hB, err := txB.GetItem(ctx, "accounts", "a")
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = hB.lockMgr.WaitLock(ctx, lock.LevelExclusive, 50*time.Millisecond, 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected LockWaitTimeout")
	}
	if time.Since(start) < 250*time.Millisecond {
		t.Fatalf("returned too early: %v", time.Since(start))
	}

	if err := txA.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := hB.lockMgr.WaitLock(ctx, lock.LevelExclusive, 20*time.Millisecond, 1*time.Second)
	if err != nil || !res.Granted {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestS4TwoSharedReadersThenExclusiveBlocks(t *testing.T) {
	c, resolver, cfg := newHarness(t)
	ctx := context.Background()
	if _, err := c.PutItem(ctx, store.PutItemInput{TableName: "accounts", Item: dynatx.Item{"id": dynatx.S("a")}}); err != nil {
		t.Fatal(err)
	}

	txA, _ := New(ctx, c, resolver, cfg, "tA", dynatx.ReadCommitted)
	txB, _ := New(ctx, c, resolver, cfg, "tB", dynatx.ReadCommitted)
	hA, _ := txA.GetItem(ctx, "accounts", "a")
	hB, _ := txB.GetItem(ctx, "accounts", "a")

	if _, err := hA.Get(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := hB.Get(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := hA.lockMgr.WaitLock(ctx, lock.LevelExclusive, 20*time.Millisecond, 100*time.Millisecond)
	if err == nil && res.Granted {
		t.Fatal("expected X to be denied while tB holds S")
	}

	if err := txB.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	res, err = hA.lockMgr.WaitLock(ctx, lock.LevelExclusive, 20*time.Millisecond, 1*time.Second)
	if err != nil || !res.Granted {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestS5OrphanRecoveryViaSweep(t *testing.T) {
	c, resolver, cfg := newHarness(t)
	ctx := context.Background()

	tx, err := New(ctx, c, resolver, cfg, "tC", dynatx.ReadCommitted)
	if err != nil {
		t.Fatal(err)
	}
	h, err := tx.GetItem(ctx, "accounts", "b")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Put(ctx, dynatx.Item{"bal": dynatx.N("1")}, nil); err != nil {
		t.Fatal(err)
	}
	// Process "dies" here: no commit/rollback call. tx-info.status is IN-FLIGHT.

	swept, err := Sweep(ctx, c, cfg, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(swept) != 1 || swept[0] != tx.UUID() {
		t.Fatalf("swept=%v", swept)
	}

	_, found, err := c.GetItem(ctx, store.GetItemInput{TableName: "accounts", Key: dynatx.Key{"id": dynatx.S("b")}})
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected item b to not exist after sweep rollback")
	}

	txInfo, _, _ := c.GetItem(ctx, store.GetItemInput{TableName: cfg.TxInfoTable, Key: dynatx.Key{dynatx.AttrTxUUID: dynatx.S(tx.UUID().String())}})
	if txInfo[dynatx.AttrStatus].Str != string(dynatx.StatusRollback) {
		t.Fatalf("status=%v", txInfo[dynatx.AttrStatus])
	}
}

func TestS6PutOverExistingWithExpected(t *testing.T) {
	c, resolver, cfg := newHarness(t)
	ctx := context.Background()
	if _, err := c.PutItem(ctx, store.PutItemInput{TableName: "accounts", Item: dynatx.Item{"id": dynatx.S("a"), "bal": dynatx.N("10")}}); err != nil {
		t.Fatal(err)
	}

	tx, err := New(ctx, c, resolver, cfg, "t6", dynatx.ReadCommitted)
	if err != nil {
		t.Fatal(err)
	}
	h, err := tx.GetItem(ctx, "accounts", "a")
	if err != nil {
		t.Fatal(err)
	}
	expected := store.Expected{"bal": store.EqualTo(dynatx.N("10"))}
	if _, err := h.Put(ctx, dynatx.Item{"bal": dynatx.N("30")}, expected); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	item, _, _ := c.GetItem(ctx, store.GetItemInput{TableName: "accounts", Key: dynatx.Key{"id": dynatx.S("a")}})
	if item["bal"].Str != "30" {
		t.Fatalf("bal=%v", item["bal"])
	}
}

func TestDoubleCommitFails(t *testing.T) {
	c, resolver, cfg := newHarness(t)
	ctx := context.Background()
	tx, err := New(ctx, c, resolver, cfg, "t7", dynatx.ReadCommitted)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	err = tx.Commit(ctx)
	de, ok := err.(*dynatx.Error)
	if !ok || de.Code != dynatx.TransactionTerminatedCode {
		t.Fatalf("expected TransactionTerminatedCode, got %v", err)
	}
}

func TestGetOnMissingItemFails(t *testing.T) {
	c, resolver, cfg := newHarness(t)
	ctx := context.Background()
	tx, err := New(ctx, c, resolver, cfg, "t8", dynatx.ReadCommitted)
	if err != nil {
		t.Fatal(err)
	}
	h, err := tx.GetItem(ctx, "accounts", "missing")
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.Get(ctx)
	if !dynatx.IsNotExistingItem(err) {
		t.Fatalf("expected NotExistingItem, got %v", err)
	}
}

func TestReadUncommittedDoesNotRegisterRecUUID(t *testing.T) {
	c, resolver, cfg := newHarness(t)
	ctx := context.Background()

	if _, err := c.PutItem(ctx, store.PutItemInput{TableName: "accounts", Item: dynatx.Item{"id": dynatx.S("a"), "bal": dynatx.N("10")}}); err != nil {
		t.Fatal(err)
	}

	tx, err := New(ctx, c, resolver, cfg, "t9", dynatx.ReadUncommitted)
	if err != nil {
		t.Fatal(err)
	}
	h, err := tx.GetItem(ctx, "accounts", "a")
	if err != nil {
		t.Fatal(err)
	}
	item, err := h.Get(ctx)
	if err != nil || item["bal"].Str != "10" {
		t.Fatalf("item=%v err=%v", item, err)
	}

	txInfo, found, err := c.GetItem(ctx, store.GetItemInput{TableName: cfg.TxInfoTable, Key: dynatx.Key{dynatx.AttrTxUUID: dynatx.S(tx.UUID().String())}})
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if recs, has := txInfo[dynatx.AttrRecs]; has && len(recs.SS) != 0 {
		t.Fatalf("expected no rec_uuid registered under ReadUncommitted, got %v", recs)
	}
	if txInfo[dynatx.AttrStatus].Str != string(dynatx.StatusStart) {
		t.Fatalf("expected status to remain START under ReadUncommitted, got %v", txInfo[dynatx.AttrStatus])
	}

	targetItem, found, err := c.GetItem(ctx, store.GetItemInput{TableName: "accounts", Key: dynatx.Key{"id": dynatx.S("a")}})
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if _, has := targetItem[lock.AttrXLock]; has {
		t.Fatal("expected no lock taken under ReadUncommitted")
	}
}
