package wal

import (
	"context"
	"testing"
	"time"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
	"github.com/sop-txmanager/dynatx/store/memory"
)

const (
	txInfoTable = "tx-info"
	txDataTable = "tx-data"
)

func newTestLog(t *testing.T) (*Log, *memory.Client, dynatx.UUID) {
	t.Helper()
	c := memory.New()
	if err := c.CreateTable(context.Background(), store.CreateTableInput{
		TableName: txInfoTable,
		AttributeDefinitions: []store.AttributeDefinition{
			{AttributeName: dynatx.AttrTxUUID, AttributeType: dynatx.TypeS},
		},
		KeySchema: []store.KeySchemaElement{
			{AttributeName: dynatx.AttrTxUUID, KeyType: store.KeyTypeHash},
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateTable(context.Background(), TxDataSchema(txDataTable, 5, 5)); err != nil {
		t.Fatal(err)
	}

	txUUID := dynatx.NewUUID()
	if _, err := c.PutItem(context.Background(), store.PutItemInput{
		TableName: txInfoTable,
		Item: dynatx.Item{
			dynatx.AttrTxUUID: dynatx.S(txUUID.String()),
			dynatx.AttrStatus: dynatx.S(string(dynatx.StatusStart)),
		},
		Expected: store.Expected{dynatx.AttrTxUUID: store.NotExists()},
	}); err != nil {
		t.Fatal(err)
	}

	return New(c, txInfoTable, txDataTable), c, txUUID
}

func TestAppendMarksInFlight(t *testing.T) {
	l, c, txUUID := newTestLog(t)
	rec := Record{
		TxUUID:       txUUID,
		LogUUID:      dynatx.NewUUID(),
		RecUUID:      dynatx.NewUUID(),
		CreationDate: time.Now().UTC().Format(time.RFC3339Nano),
		Table:        "accounts",
		Key:          dynatx.Key{"id": dynatx.S("a")},
		Operation:    OpPut,
		Data:         dynatx.Item{"id": dynatx.S("a"), "balance": dynatx.N("100")},
	}
	if err := l.Append(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	txInfo, found, err := c.GetItem(context.Background(), store.GetItemInput{
		TableName: txInfoTable,
		Key:       dynatx.Key{dynatx.AttrTxUUID: dynatx.S(txUUID.String())},
	})
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if txInfo[dynatx.AttrStatus].Str != string(dynatx.StatusInFlight) {
		t.Fatalf("status=%v", txInfo[dynatx.AttrStatus].Str)
	}
	logs := txInfo[dynatx.AttrLogs]
	if logs.Type != dynatx.TypeSS || len(logs.SS) != 1 || logs.SS[0] != rec.LogUUID.String() {
		t.Fatalf("logs=%v", logs)
	}
}

func TestAppendDuplicateLogUUIDFails(t *testing.T) {
	l, _, txUUID := newTestLog(t)
	logUUID := dynatx.NewUUID()
	rec := Record{
		TxUUID:       txUUID,
		LogUUID:      logUUID,
		RecUUID:      dynatx.NewUUID(),
		CreationDate: time.Now().UTC().Format(time.RFC3339Nano),
		Table:        "accounts",
		Key:          dynatx.Key{"id": dynatx.S("a")},
		Operation:    OpDelete,
	}
	if err := l.Append(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(context.Background(), rec); err == nil {
		t.Fatal("expected conditional failure on duplicate log_uuid")
	}
}

func TestReadByLogUUIDsOrdersDescending(t *testing.T) {
	l, _, txUUID := newTestLog(t)

	var logUUIDs []dynatx.UUID
	for i, date := range []string{"2026-01-01T00:00:00Z", "2026-01-01T00:00:01Z", "2026-01-01T00:00:02Z"} {
		logUUID := dynatx.NewUUID()
		logUUIDs = append(logUUIDs, logUUID)
		rec := Record{
			TxUUID:       txUUID,
			LogUUID:      logUUID,
			RecUUID:      dynatx.NewUUID(),
			CreationDate: date,
			Table:        "accounts",
			Key:          dynatx.Key{"id": dynatx.N(string(rune('0' + i)))},
			Operation:    OpDelete,
		}
		if err := l.Append(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}

	records, err := l.ReadByLogUUIDs(context.Background(), txUUID, logUUIDs)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].CreationDate != "2026-01-01T00:00:02Z" || records[2].CreationDate != "2026-01-01T00:00:00Z" {
		t.Fatalf("not descending: %+v", records)
	}
}

func TestUndoPutReinstatesImage(t *testing.T) {
	l, c, txUUID := newTestLog(t)
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

	oldImage := dynatx.Item{"id": dynatx.S("a"), "balance": dynatx.N("100")}
	rec := Record{
		TxUUID:       txUUID,
		LogUUID:      dynatx.NewUUID(),
		RecUUID:      dynatx.NewUUID(),
		CreationDate: time.Now().UTC().Format(time.RFC3339Nano),
		Table:        "accounts",
		Key:          dynatx.Key{"id": dynatx.S("a")},
		Operation:    OpPut,
		Data:         oldImage,
	}
	if err := l.Undo(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	got, found, err := c.GetItem(context.Background(), store.GetItemInput{TableName: "accounts", Key: dynatx.Key{"id": dynatx.S("a")}})
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if got["balance"].Str != "100" {
		t.Fatalf("balance=%v", got["balance"])
	}
}

func TestUndoDeleteRemovesRow(t *testing.T) {
	l, c, txUUID := newTestLog(t)
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
	if _, err := c.PutItem(context.Background(), store.PutItemInput{TableName: "accounts", Item: dynatx.Item{"id": dynatx.S("a")}}); err != nil {
		t.Fatal(err)
	}

	rec := Record{
		TxUUID:    txUUID,
		LogUUID:   dynatx.NewUUID(),
		RecUUID:   dynatx.NewUUID(),
		Table:     "accounts",
		Key:       dynatx.Key{"id": dynatx.S("a")},
		Operation: OpDelete,
	}
	if err := l.Undo(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	_, found, err := c.GetItem(context.Background(), store.GetItemInput{TableName: "accounts", Key: dynatx.Key{"id": dynatx.S("a")}})
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected item to be gone")
	}
}
