package cache

import (
	"context"
	"encoding/json"
	"time"

	log "log/slog"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
)

// SchemaTTL bounds how long a table schema is trusted before keyresolver re-describes the
// table; schemas change rarely (new tables, not new columns, since the store is schemaless), so
// a long TTL is safe.
const SchemaTTL = 30 * time.Minute

// Client implements keyresolver.SchemaCache over Redis. It is safe for concurrent use; all
// state lives in Redis, not in the Client value.
type Client struct {
	conn    *connection
	enabled bool
}

// NewClient returns a Client backed by the shared Redis connection built from opts. A zero-value
// Address disables the cache: every call becomes a harmless miss, so callers can wire a Client
// unconditionally and let an empty dynatx.RedisOptions mean "no cache".
func NewClient(opts dynatx.RedisOptions) *Client {
	if opts.Address == "" {
		return &Client{enabled: false}
	}
	return &Client{conn: sharedConnection(opts), enabled: true}
}

func schemaKey(tableName string) string {
	return "dynatx:schema:" + tableName
}

// GetTableSchema implements keyresolver.SchemaCache.
func (c *Client) GetTableSchema(ctx context.Context, tableName string) (store.TableSchema, bool) {
	if !c.enabled {
		return store.TableSchema{}, false
	}
	b, err := c.conn.client.Get(ctx, schemaKey(tableName)).Bytes()
	if err != nil {
		if !keyNotFound(err) {
			log.Warn("cache: schema get failed", "table", tableName, "error", err)
		}
		return store.TableSchema{}, false
	}
	var s store.TableSchema
	if err := json.Unmarshal(b, &s); err != nil {
		log.Warn("cache: schema unmarshal failed", "table", tableName, "error", err)
		return store.TableSchema{}, false
	}
	return s, true
}

// SetTableSchema implements keyresolver.SchemaCache. Failures are logged, not returned: a cache
// write failure must never fail the caller's describe_table path.
func (c *Client) SetTableSchema(ctx context.Context, tableName string, schema store.TableSchema) {
	if !c.enabled {
		return
	}
	b, err := json.Marshal(schema)
	if err != nil {
		log.Warn("cache: schema marshal failed", "table", tableName, "error", err)
		return
	}
	if err := c.conn.client.Set(ctx, schemaKey(tableName), b, SchemaTTL).Err(); err != nil {
		log.Warn("cache: schema set failed", "table", tableName, "error", err)
	}
}

// InvalidateTableSchema removes a cached schema, e.g. after a table is recreated with a
// different key schema during bootstrap.
func (c *Client) InvalidateTableSchema(ctx context.Context, tableName string) {
	if !c.enabled {
		return
	}
	if err := c.conn.client.Del(ctx, schemaKey(tableName)).Err(); err != nil {
		log.Warn("cache: schema invalidate failed", "table", tableName, "error", err)
	}
}

// Ping verifies connectivity, the way cmd/txserver's health check does.
func (c *Client) Ping(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	if err := c.conn.client.Ping(ctx).Err(); err != nil {
		return wrapf("ping", "-", err)
	}
	return nil
}
