package keyresolver

import (
	"context"
	"testing"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
	"github.com/sop-txmanager/dynatx/store/memory"
)

func newTestClient(t *testing.T) *memory.Client {
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
	if err := c.CreateTable(context.Background(), store.CreateTableInput{
		TableName: "orders",
		AttributeDefinitions: []store.AttributeDefinition{
			{AttributeName: "customer", AttributeType: dynatx.TypeS},
			{AttributeName: "orderNum", AttributeType: dynatx.TypeN},
		},
		KeySchema: []store.KeySchemaElement{
			{AttributeName: "customer", KeyType: store.KeyTypeHash},
			{AttributeName: "orderNum", KeyType: store.KeyTypeRange},
		},
	}); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestResolveHashOnly(t *testing.T) {
	c := newTestClient(t)
	r := New(c, nil)
	key, err := r.Resolve(context.Background(), "accounts", "a1")
	if err != nil {
		t.Fatal(err)
	}
	if key["id"] != dynatx.S("a1") {
		t.Fatalf("got %v", key)
	}
}

func TestResolveHashAndRange(t *testing.T) {
	c := newTestClient(t)
	r := New(c, nil)
	key, err := r.Resolve(context.Background(), "orders", "cust1", 42)
	if err != nil {
		t.Fatal(err)
	}
	if key["customer"] != dynatx.S("cust1") || key["orderNum"] != dynatx.N("42") {
		t.Fatalf("got %v", key)
	}
}

func TestResolveMissingRangeFails(t *testing.T) {
	c := newTestClient(t)
	r := New(c, nil)
	_, err := r.Resolve(context.Background(), "orders", "cust1")
	if !dynatx.IsNotExistingItem(err) && err == nil {
		t.Fatal("expected error")
	}
	var dynErr *dynatx.Error
	if ok := asError(err, &dynErr); !ok || dynErr.Code != dynatx.KeyConfigurationErrorCode {
		t.Fatalf("expected KeyConfigurationErrorCode, got %v", err)
	}
}

func TestResolveUnexpectedRangeFails(t *testing.T) {
	c := newTestClient(t)
	r := New(c, nil)
	_, err := r.Resolve(context.Background(), "accounts", "a1", "unexpected")
	var dynErr *dynatx.Error
	if ok := asError(err, &dynErr); !ok || dynErr.Code != dynatx.KeyConfigurationErrorCode {
		t.Fatalf("expected KeyConfigurationErrorCode, got %v", err)
	}
}

func TestSchemaCachedAfterFirstResolve(t *testing.T) {
	c := newTestClient(t)
	r := New(c, nil)
	if _, err := r.Resolve(context.Background(), "accounts", "a1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.schemas["accounts"]; !ok {
		t.Fatal("expected schema cached after first Resolve")
	}
	r.Invalidate("does-not-exist")
	s, err := r.Schema(context.Background(), "accounts")
	if err != nil {
		t.Fatal(err)
	}
	if s.TableName != "accounts" {
		t.Fatalf("got %v", s)
	}
}

func asError(err error, target **dynatx.Error) bool {
	de, ok := err.(*dynatx.Error)
	if !ok {
		return false
	}
	*target = de
	return true
}
