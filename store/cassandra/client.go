package cassandra

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gocql/gocql"
	"gopkg.in/inf.v0"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
)

// Client implements store.Client and store.Scanner over Cassandra. Every table is physically a
// (hash_key, range_key) -> item_data blob row; arbitrary per-attribute conditional checks (the
// Expected map) are evaluated in Go against the decoded item and then enforced atomically with
// a Cassandra LWT compare-and-swap on the full item_data blob, since Cassandra's native IF
// clauses only compare real columns and the store stays schemaless by design.
type Client struct {
	conn *Connection

	mu      sync.Mutex
	schemas map[string]store.TableSchema
}

// New wraps an open Connection.
func New(conn *Connection) *Client {
	return &Client{conn: conn, schemas: make(map[string]store.TableSchema)}
}

var _ store.Client = (*Client)(nil)
var _ store.Scanner = (*Client)(nil)

func (c *Client) qualify(tableName string) string {
	return fmt.Sprintf("%s.%q", c.conn.Config.Keyspace, tableName)
}

func renderKeyPart(av dynatx.AttributeValue) (string, error) {
	if av.Type == "" {
		return "", nil
	}
	b, err := json.Marshal(av)
	if err != nil {
		return "", fmt.Errorf("cassandra: render key part: %w", err)
	}
	return string(b), nil
}

// hashAndRange renders a dynatx.Key (or an item's key-bearing attributes) into the (hash_key,
// range_key) column values using the table's cached schema.
func (c *Client) hashAndRange(tableName string, attrs map[string]dynatx.AttributeValue) (string, string, error) {
	c.mu.Lock()
	schema, ok := c.schemas[tableName]
	c.mu.Unlock()
	if !ok {
		return "", "", fmt.Errorf("cassandra: unknown table %s; call DescribeTable/CreateTable first", tableName)
	}
	hk, ok := schema.HashKey()
	if !ok {
		return "", "", fmt.Errorf("cassandra: table %s has no hash key", tableName)
	}
	hashStr, err := renderKeyPart(attrs[hk.AttributeName])
	if err != nil {
		return "", "", err
	}
	var rangeStr string
	if rk, ok := schema.RangeKey(); ok {
		rangeStr, err = renderKeyPart(attrs[rk.AttributeName])
		if err != nil {
			return "", "", err
		}
	}
	return hashStr, rangeStr, nil
}

func (c *Client) DescribeTable(ctx context.Context, tableName string) (store.TableSchema, error) {
	c.mu.Lock()
	cached, ok := c.schemas[tableName]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	var schemaJSON string
	err := c.conn.Session.Query(
		fmt.Sprintf("SELECT schema_json FROM %s.dynatx_table_schema WHERE table_name = ?;", c.conn.Config.Keyspace),
		tableName,
	).WithContext(ctx).Scan(&schemaJSON)
	if err == gocql.ErrNotFound {
		return store.TableSchema{Status: store.TableStatusNotFound}, nil
	}
	if err != nil {
		return store.TableSchema{}, fmt.Errorf("cassandra: describe_table(%s): %w", tableName, err)
	}

	var schema store.TableSchema
	if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
		return store.TableSchema{}, fmt.Errorf("cassandra: describe_table(%s) decode: %w", tableName, err)
	}
	schema.Status = store.TableStatusActive

	c.mu.Lock()
	c.schemas[tableName] = schema
	c.mu.Unlock()
	return schema, nil
}

func (c *Client) CreateTable(ctx context.Context, input store.CreateTableInput) error {
	if err := c.conn.Session.Query(fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (hash_key text, range_key text, item_data text, PRIMARY KEY (hash_key, range_key));",
		c.qualify(input.TableName),
	)).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("cassandra: create_table(%s): %w", input.TableName, err)
	}

	schema := store.TableSchema{
		TableName:             input.TableName,
		Status:                store.TableStatusActive,
		KeySchema:             input.KeySchema,
		AttributeDefinitions:  input.AttributeDefinitions,
		LocalSecondaryIndexes: input.LocalSecondaryIndexes,
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("cassandra: create_table(%s) encode schema: %w", input.TableName, err)
	}
	if err := c.conn.Session.Query(
		fmt.Sprintf("INSERT INTO %s.dynatx_table_schema (table_name, schema_json) VALUES (?, ?);", c.conn.Config.Keyspace),
		input.TableName, string(b),
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("cassandra: create_table(%s) store schema: %w", input.TableName, err)
	}

	c.mu.Lock()
	c.schemas[input.TableName] = schema
	c.mu.Unlock()
	return nil
}

// readRow fetches the raw item_data JSON for a key, returning (item, rawJSON, found, error).
func (c *Client) readRow(ctx context.Context, tableName, hashKey, rangeKey string) (dynatx.Item, string, bool, error) {
	var raw string
	err := c.conn.Session.Query(
		fmt.Sprintf("SELECT item_data FROM %s WHERE hash_key = ? AND range_key = ?;", c.qualify(tableName)),
		hashKey, rangeKey,
	).WithContext(ctx).Scan(&raw)
	if err == gocql.ErrNotFound {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("cassandra: read %s: %w", tableName, err)
	}
	var item dynatx.Item
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, "", false, fmt.Errorf("cassandra: decode row %s: %w", tableName, err)
	}
	return item, raw, true, nil
}

func (c *Client) GetItem(ctx context.Context, input store.GetItemInput) (dynatx.Item, bool, error) {
	hashKey, rangeKey, err := c.hashAndRange(input.TableName, input.Key)
	if err != nil {
		return nil, false, err
	}
	item, _, found, err := c.readRow(ctx, input.TableName, hashKey, rangeKey)
	if err != nil || !found {
		return nil, found, err
	}
	if len(input.ProjectAttrs) == 0 {
		return item, true, nil
	}
	out := dynatx.Item{}
	for _, a := range input.ProjectAttrs {
		if v, ok := item[a]; ok {
			out[a] = v
		}
	}
	return out, true, nil
}

// attrEqual compares two attribute values the way Cassandra's column-typed LWT IF clauses would
// if the store's N attributes were bound as native decimal columns instead of JSON strings: N
// values compare as arbitrary-precision decimals (so "10" and "10.0" are equal, matching
// DynamoDB's own N semantics) via gopkg.in/inf.v0, the decimal type gocql itself uses for CQL's
// decimal wire encoding. Every other type falls back to the store's exact wire-form comparison.
func attrEqual(a, b dynatx.AttributeValue) bool {
	if a.Type == dynatx.TypeN && b.Type == dynatx.TypeN {
		da, aok := new(inf.Dec).SetString(a.Str)
		db, bok := new(inf.Dec).SetString(b.Str)
		if aok && bok {
			return da.Cmp(db) == 0
		}
	}
	return a.Equal(b)
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
		if !attrEqual(cur, cond.Value) {
			return dynatx.NewConditionalCheckFailedError("value mismatch on " + attr)
		}
	}
	return nil
}

// casWrite executes the lightweight-transaction statement cql (an IF NOT EXISTS insert or a
// full-blob CAS update, chosen by the caller). applied reports whether the LWT's own [applied]
// column was true.
func (c *Client) casWrite(ctx context.Context, cql string, args []interface{}) (bool, error) {
	m := map[string]interface{}{}
	applied, err := c.conn.Session.Query(cql, args...).WithContext(ctx).MapScanCAS(m)
	if err != nil {
		return false, err
	}
	// applied is false when the LWT lost the race: someone else changed the row between our
	// read and our write.
	return applied, nil
}

func (c *Client) PutItem(ctx context.Context, input store.PutItemInput) (dynatx.Item, error) {
	hashKey, rangeKey, err := c.hashAndRange(input.TableName, input.Item)
	if err != nil {
		return nil, err
	}
	existing, prevRaw, found, err := c.readRow(ctx, input.TableName, hashKey, rangeKey)
	if err != nil {
		return nil, err
	}
	if err := checkExpected(existing, found, input.Expected); err != nil {
		return nil, err
	}

	b, err := json.Marshal(input.Item)
	if err != nil {
		return nil, fmt.Errorf("cassandra: put_item(%s) encode: %w", input.TableName, err)
	}

	var applied bool
	table := c.qualify(input.TableName)
	switch {
	case !found:
		applied, err = c.casWrite(ctx,
			fmt.Sprintf("INSERT INTO %s (hash_key, range_key, item_data) VALUES (?, ?, ?) IF NOT EXISTS;", table),
			[]interface{}{hashKey, rangeKey, string(b)})
	case len(input.Expected) > 0:
		applied, err = c.casWrite(ctx,
			fmt.Sprintf("UPDATE %s SET item_data = ? WHERE hash_key = ? AND range_key = ? IF item_data = ?;", table),
			[]interface{}{string(b), hashKey, rangeKey, prevRaw})
	default:
		err = c.conn.Session.Query(
			fmt.Sprintf("UPDATE %s SET item_data = ? WHERE hash_key = ? AND range_key = ?;", table),
			string(b), hashKey, rangeKey,
		).WithContext(ctx).Exec()
		applied = err == nil
	}
	if err != nil {
		return nil, fmt.Errorf("cassandra: put_item(%s): %w", input.TableName, err)
	}
	if !applied {
		return nil, dynatx.NewConditionalCheckFailedError("concurrent write detected by CAS")
	}

	if input.ReturnValues == store.ReturnAllOld && found {
		return existing, nil
	}
	return nil, nil
}

func applyUpdate(existing dynatx.Item, key dynatx.Key, updates map[string]store.AttributeUpdate) dynatx.Item {
	out := existing.Clone()
	if out == nil {
		out = dynatx.Item{}
		for n, v := range key {
			out[n] = v
		}
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
	if add.Type != dynatx.TypeSS {
		return add
	}
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

func (c *Client) UpdateItem(ctx context.Context, input store.UpdateItemInput) (dynatx.Item, error) {
	hashKey, rangeKey, err := c.hashAndRange(input.TableName, input.Key)
	if err != nil {
		return nil, err
	}
	existing, prevRaw, found, err := c.readRow(ctx, input.TableName, hashKey, rangeKey)
	if err != nil {
		return nil, err
	}
	if err := checkExpected(existing, found, input.Expected); err != nil {
		return nil, err
	}

	updated := applyUpdate(existing, input.Key, input.Updates)
	b, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("cassandra: update_item(%s) encode: %w", input.TableName, err)
	}

	var applied bool
	table := c.qualify(input.TableName)
	switch {
	case !found:
		applied, err = c.casWrite(ctx,
			fmt.Sprintf("INSERT INTO %s (hash_key, range_key, item_data) VALUES (?, ?, ?) IF NOT EXISTS;", table),
			[]interface{}{hashKey, rangeKey, string(b)})
	case len(input.Expected) > 0:
		applied, err = c.casWrite(ctx,
			fmt.Sprintf("UPDATE %s SET item_data = ? WHERE hash_key = ? AND range_key = ? IF item_data = ?;", table),
			[]interface{}{string(b), hashKey, rangeKey, prevRaw})
	default:
		err = c.conn.Session.Query(
			fmt.Sprintf("UPDATE %s SET item_data = ? WHERE hash_key = ? AND range_key = ?;", table),
			string(b), hashKey, rangeKey,
		).WithContext(ctx).Exec()
		applied = err == nil
	}
	if err != nil {
		return nil, fmt.Errorf("cassandra: update_item(%s): %w", input.TableName, err)
	}
	if !applied {
		return nil, dynatx.NewConditionalCheckFailedError("concurrent write detected by CAS")
	}

	if input.ReturnValues == store.ReturnAllOld && found {
		return existing, nil
	}
	return nil, nil
}

func (c *Client) DeleteItem(ctx context.Context, input store.DeleteItemInput) (dynatx.Item, error) {
	hashKey, rangeKey, err := c.hashAndRange(input.TableName, input.Key)
	if err != nil {
		return nil, err
	}
	existing, prevRaw, found, err := c.readRow(ctx, input.TableName, hashKey, rangeKey)
	if err != nil {
		return nil, err
	}
	if !found {
		if err := checkExpected(existing, found, input.Expected); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := checkExpected(existing, found, input.Expected); err != nil {
		return nil, err
	}

	table := c.qualify(input.TableName)
	applied, err := c.casWrite(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE hash_key = ? AND range_key = ? IF item_data = ?;", table),
		[]interface{}{hashKey, rangeKey, prevRaw})
	if err != nil {
		return nil, fmt.Errorf("cassandra: delete_item(%s): %w", input.TableName, err)
	}
	if !applied {
		return nil, dynatx.NewConditionalCheckFailedError("concurrent write detected by CAS")
	}

	if input.ReturnValues == store.ReturnAllOld {
		return existing, nil
	}
	return nil, nil
}

// Scan implements store.Scanner via a full-table iterator, used only by the crash-recovery
// sweeper and WAL garbage collector.
func (c *Client) Scan(ctx context.Context, tableName string) ([]dynatx.Item, error) {
	iter := c.conn.Session.Query(
		fmt.Sprintf("SELECT item_data FROM %s;", c.qualify(tableName)),
	).WithContext(ctx).Iter()

	var items []dynatx.Item
	var raw string
	for iter.Scan(&raw) {
		var item dynatx.Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			iter.Close()
			return nil, fmt.Errorf("cassandra: scan(%s) decode: %w", tableName, err)
		}
		items = append(items, item)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandra: scan(%s): %w", tableName, err)
	}
	return items, nil
}
