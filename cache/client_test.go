package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	return NewClient(dynatx.RedisOptions{Address: mr.Addr()})
}

func TestDisabledClientAlwaysMisses(t *testing.T) {
	c := NewClient(dynatx.RedisOptions{})
	if _, ok := c.GetTableSchema(context.Background(), "accounts"); ok {
		t.Fatal("expected miss on disabled cache")
	}
	c.SetTableSchema(context.Background(), "accounts", store.TableSchema{})
	if _, ok := c.GetTableSchema(context.Background(), "accounts"); ok {
		t.Fatal("expected miss after set on disabled cache")
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	want := store.TableSchema{
		Status:               store.TableStatusActive,
		KeySchema:            []store.KeySchemaElement{{AttributeName: "id", KeyType: store.KeyTypeHash}},
		AttributeDefinitions: []store.AttributeDefinition{{AttributeName: "id", AttributeType: dynatx.TypeS}},
	}
	c.SetTableSchema(ctx, "accounts", want)

	got, ok := c.GetTableSchema(ctx, "accounts")
	if !ok {
		t.Fatal("expected hit after set")
	}
	if got.KeySchema[0].AttributeName != "id" || got.AttributeDefinitions[0].AttributeType != dynatx.TypeS {
		t.Fatalf("got=%+v", got)
	}
}

func TestGetMissingTableMisses(t *testing.T) {
	c := newTestClient(t)
	if _, ok := c.GetTableSchema(context.Background(), "nope"); ok {
		t.Fatal("expected miss for uncached table")
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	c.SetTableSchema(ctx, "accounts", store.TableSchema{Status: store.TableStatusActive})
	c.InvalidateTableSchema(ctx, "accounts")
	if _, ok := c.GetTableSchema(ctx, "accounts"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := NewClient(dynatx.RedisOptions{}).Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}
