package main

import (
	"context"
	"testing"
	"time"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/coordinator"
	"github.com/sop-txmanager/dynatx/keyresolver"
	"github.com/sop-txmanager/dynatx/store"
	"github.com/sop-txmanager/dynatx/store/memory"
)

type fakeArchiver struct {
	archived int
}

func (f *fakeArchiver) Archive(ctx context.Context, key string, body []byte) error {
	f.archived++
	return nil
}

func TestRunPassSweepsAndCollects(t *testing.T) {
	ctx := context.Background()
	client := memory.New()
	cfg := dynatx.Config{SweepOlderThan: time.Millisecond, GCOlderThan: time.Millisecond}.WithDefaults()

	if err := coordinator.Bootstrap(ctx, client, cfg); err != nil {
		t.Fatal(err)
	}
	if err := client.CreateTable(ctx, store.CreateTableInput{
		TableName:            "accounts",
		AttributeDefinitions: []store.AttributeDefinition{{AttributeName: "id", AttributeType: dynatx.TypeS}},
		KeySchema:            []store.KeySchemaElement{{AttributeName: "id", KeyType: store.KeyTypeHash}},
	}); err != nil {
		t.Fatal(err)
	}

	resolver := keyresolver.New(client, nil)
	tx, err := coordinator.New(ctx, client, resolver, cfg, "abandoned", dynatx.ReadCommitted)
	if err != nil {
		t.Fatal(err)
	}
	h, err := tx.GetItem(ctx, "accounts", "a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Put(ctx, dynatx.Item{"bal": dynatx.N("1")}, nil); err != nil {
		t.Fatal(err)
	}
	// Leave tx un-terminated to simulate a crashed process; advance the clock an hour so its
	// creation_date looks old enough to the sweep.
	dynatx.Now = func() time.Time { return time.Now().Add(time.Hour) }
	defer func() { dynatx.Now = time.Now }()

	archiver := &fakeArchiver{}
	runPass(ctx, client, cfg, archiver)

	txInfo, found, err := client.GetItem(ctx, store.GetItemInput{
		TableName: cfg.TxInfoTable,
		Key:       dynatx.Key{dynatx.AttrTxUUID: dynatx.S(tx.UUID().String())},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected sweep to leave a rolled-back tx-info row in place (gc runs on a later pass)")
	}
	if txInfo[dynatx.AttrStatus].Str != string(dynatx.StatusRollback) {
		t.Fatalf("status=%v", txInfo[dynatx.AttrStatus])
	}
}
