// Package memory provides an in-memory store.Client used by unit tests across keyresolver,
// lock, wal, and coordinator, the way an in_memory package lets storage-backed code be
// exercised without a live Cassandra/Redis backend.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
)

type table struct {
	schema store.TableSchema
	items  map[string]dynatx.Item
}

// Client is an in-memory store.Client. Tables and items are held entirely in process memory
// guarded by a single mutex; it is intended for tests, not for production traffic.
type Client struct {
	mu     sync.Mutex
	tables map[string]*table
}

// New returns an empty in-memory Client.
func New() *Client {
	return &Client{tables: make(map[string]*table)}
}

func keyString(k dynatx.Key) string {
	names := make([]string, 0, len(k))
	for n := range k {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		b, _ := json.Marshal(k[n])
		parts = append(parts, n+"="+string(b))
	}
	b, _ := json.Marshal(parts)
	return string(b)
}

func itemKey(it dynatx.Item, schema store.TableSchema) dynatx.Key {
	k := dynatx.Key{}
	if hk, ok := schema.HashKey(); ok {
		k[hk.AttributeName] = it[hk.AttributeName]
	}
	if rk, ok := schema.RangeKey(); ok {
		k[rk.AttributeName] = it[rk.AttributeName]
	}
	return k
}

// DescribeTable implements store.Client.
func (c *Client) DescribeTable(ctx context.Context, tableName string) (store.TableSchema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[tableName]
	if !ok {
		return store.TableSchema{Status: store.TableStatusNotFound}, nil
	}
	return t.schema, nil
}

// CreateTable implements store.Client. The in-memory backend creates tables synchronously,
// immediately ACTIVE.
func (c *Client) CreateTable(ctx context.Context, input store.CreateTableInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[input.TableName]; ok {
		return nil
	}
	c.tables[input.TableName] = &table{
		schema: store.TableSchema{
			TableName:             input.TableName,
			Status:                store.TableStatusActive,
			KeySchema:             input.KeySchema,
			AttributeDefinitions:  input.AttributeDefinitions,
			LocalSecondaryIndexes: input.LocalSecondaryIndexes,
		},
		items: make(map[string]dynatx.Item),
	}
	return nil
}

// GetItem implements store.Client.
func (c *Client) GetItem(ctx context.Context, input store.GetItemInput) (dynatx.Item, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[input.TableName]
	if !ok {
		return nil, false, nil
	}
	it, ok := t.items[keyString(input.Key)]
	if !ok {
		return nil, false, nil
	}
	if len(input.ProjectAttrs) == 0 {
		return it.Clone(), true, nil
	}
	out := dynatx.Item{}
	for _, a := range input.ProjectAttrs {
		if v, ok := it[a]; ok {
			out[a] = v
		}
	}
	return out, true, nil
}

func checkExpected(existing dynatx.Item, found bool, expected store.Expected) error {
	for attr, cond := range expected {
		var cur dynatx.AttributeValue
		var has bool
		if found {
			cur, has = existing[attr]
		}
		if !cond.Exists {
			if has {
				return dynatx.NewConditionalCheckFailedError("attribute_exists(" + attr + ")")
			}
			continue
		}
		if !has {
			return dynatx.NewConditionalCheckFailedError("attribute_not_exists(" + attr + ")")
		}
		if !cur.Equal(cond.Value) {
			return dynatx.NewConditionalCheckFailedError("value mismatch on " + attr)
		}
	}
	return nil
}

// PutItem implements store.Client.
func (c *Client) PutItem(ctx context.Context, input store.PutItemInput) (dynatx.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[input.TableName]
	if !ok {
		return nil, dynatx.NewNotExistingItemError(input.TableName, "table not found")
	}
	k := itemKey(input.Item, t.schema)
	ks := keyString(k)
	existing, found := t.items[ks]

	if err := checkExpected(existing, found, input.Expected); err != nil {
		return nil, err
	}

	t.items[ks] = input.Item.Clone()

	if input.ReturnValues == store.ReturnAllOld && found {
		return existing.Clone(), nil
	}
	return nil, nil
}

func applyUpdate(existing dynatx.Item, updates map[string]store.AttributeUpdate) dynatx.Item {
	out := existing.Clone()
	if out == nil {
		out = dynatx.Item{}
	}
	for attr, upd := range updates {
		switch upd.Action {
		case store.ActionPut:
			out[attr] = upd.Value
		case store.ActionDelete:
			if upd.Value.Type == "" {
				delete(out, attr)
				continue
			}
			out[attr] = setDifference(out[attr], upd.Value)
		case store.ActionAdd:
			out[attr] = setUnion(out[attr], upd.Value)
		}
	}
	return out
}

func setUnion(cur, add dynatx.AttributeValue) dynatx.AttributeValue {
	if cur.Type == "" {
		return add
	}
	switch add.Type {
	case dynatx.TypeSS:
		seen := map[string]bool{}
		var out []string
		for _, s := range cur.SS {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
		for _, s := range add.SS {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
		return dynatx.SSet(out...)
	default:
		return add
	}
}

func setDifference(cur, remove dynatx.AttributeValue) dynatx.AttributeValue {
	if cur.Type != dynatx.TypeSS || remove.Type != dynatx.TypeSS {
		return cur
	}
	removeSet := map[string]bool{}
	for _, s := range remove.SS {
		removeSet[s] = true
	}
	var out []string
	for _, s := range cur.SS {
		if !removeSet[s] {
			out = append(out, s)
		}
	}
	return dynatx.SSet(out...)
}

// UpdateItem implements store.Client.
func (c *Client) UpdateItem(ctx context.Context, input store.UpdateItemInput) (dynatx.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[input.TableName]
	if !ok {
		return nil, dynatx.NewNotExistingItemError(input.TableName, "table not found")
	}
	ks := keyString(input.Key)
	existing, found := t.items[ks]

	if err := checkExpected(existing, found, input.Expected); err != nil {
		return nil, err
	}

	base := existing
	if !found {
		base = dynatx.Item{}
		for n, v := range input.Key {
			base[n] = v
		}
	}
	updated := applyUpdate(base, input.Updates)
	t.items[ks] = updated

	if input.ReturnValues == store.ReturnAllOld && found {
		return existing.Clone(), nil
	}
	return nil, nil
}

// DeleteItem implements store.Client.
func (c *Client) DeleteItem(ctx context.Context, input store.DeleteItemInput) (dynatx.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[input.TableName]
	if !ok {
		return nil, nil
	}
	ks := keyString(input.Key)
	existing, found := t.items[ks]

	if err := checkExpected(existing, found, input.Expected); err != nil {
		return nil, err
	}
	delete(t.items, ks)

	if input.ReturnValues == store.ReturnAllOld && found {
		return existing.Clone(), nil
	}
	return nil, nil
}

// Scan implements store.Scanner, returning every item currently stored in tableName in
// unspecified order.
func (c *Client) Scan(ctx context.Context, tableName string) ([]dynatx.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[tableName]
	if !ok {
		return nil, nil
	}
	out := make([]dynatx.Item, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, it.Clone())
	}
	return out, nil
}
