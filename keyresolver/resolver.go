// Package keyresolver, given a table name and one or two
// opaque key values, it inspects the table's schema (cached per process, optionally read
// through Redis) and returns a well-typed Key descriptor in the store's canonical form.
package keyresolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
)

// SchemaCache is satisfied by cache.Client; kept as a narrow interface here so keyresolver
// doesn't need to import the cache package's Redis dependency directly. A nil SchemaCache
// disables the read-through layer and the Resolver falls back to its own in-process map plus
// describe_table.
type SchemaCache interface {
	GetTableSchema(ctx context.Context, tableName string) (store.TableSchema, bool)
	SetTableSchema(ctx context.Context, tableName string, schema store.TableSchema)
}

// Resolver caches the result of describe_table per process.
type Resolver struct {
	client store.Client
	cache  SchemaCache

	mu      sync.RWMutex
	schemas map[string]store.TableSchema
}

// New builds a Resolver over client. cache may be nil to disable the Redis read-through layer.
func New(client store.Client, cache SchemaCache) *Resolver {
	return &Resolver{
		client:  client,
		cache:   cache,
		schemas: make(map[string]store.TableSchema),
	}
}

// Schema returns the table's schema, consulting the in-process cache, then the optional Redis
// cache, then describe_table, in that order.
func (r *Resolver) Schema(ctx context.Context, tableName string) (store.TableSchema, error) {
	r.mu.RLock()
	s, ok := r.schemas[tableName]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	if r.cache != nil {
		if s, ok := r.cache.GetTableSchema(ctx, tableName); ok {
			r.mu.Lock()
			r.schemas[tableName] = s
			r.mu.Unlock()
			return s, nil
		}
	}

	s, err := r.client.DescribeTable(ctx, tableName)
	if err != nil {
		return store.TableSchema{}, fmt.Errorf("keyresolver: describe_table(%s): %w", tableName, err)
	}
	if s.Status == store.TableStatusNotFound {
		return store.TableSchema{}, fmt.Errorf("keyresolver: table %s does not exist", tableName)
	}

	r.mu.Lock()
	r.schemas[tableName] = s
	r.mu.Unlock()
	if r.cache != nil {
		r.cache.SetTableSchema(ctx, tableName, s)
	}
	return s, nil
}

// Invalidate drops any cached schema for tableName, forcing the next Schema/Resolve call to
// re-describe the table.
func (r *Resolver) Invalidate(tableName string) {
	r.mu.Lock()
	delete(r.schemas, tableName)
	r.mu.Unlock()
}

// stringify renders a native scalar to the store's S/N string form. attrName is only used
// in error messages.
func stringify(attrType dynatx.AttrType, raw any, attrName string) (dynatx.AttributeValue, error) {
	switch attrType {
	case dynatx.TypeS:
		s, ok := raw.(string)
		if !ok {
			s = fmt.Sprintf("%v", raw)
		}
		return dynatx.S(s), nil
	case dynatx.TypeN:
		return dynatx.N(fmt.Sprintf("%v", raw)), nil
	case dynatx.TypeB:
		b, ok := raw.([]byte)
		if !ok {
			return dynatx.AttributeValue{}, fmt.Errorf("keyresolver: attribute %s expects []byte, got %T", attrName, raw)
		}
		return dynatx.B(b), nil
	default:
		return dynatx.AttributeValue{}, fmt.Errorf("keyresolver: unsupported key attribute type %q for %s", attrType, attrName)
	}
}

// Resolve builds a Key descriptor from a table's schema and the caller-supplied raw hash (and
// optional range) values. It fails with dynatx.NewKeyConfigurationError if
// the schema has a RANGE key but the caller supplied only a hash value, or vice versa.
func (r *Resolver) Resolve(ctx context.Context, tableName string, hashValue any, rangeValue ...any) (dynatx.Key, error) {
	schema, err := r.Schema(ctx, tableName)
	if err != nil {
		return nil, err
	}

	hashDef, ok := schema.HashKey()
	if !ok {
		return nil, dynatx.NewKeyConfigurationError(tableName, "table schema has no HASH key")
	}
	rangeDef, hasRange := schema.RangeKey()

	if hasRange && len(rangeValue) == 0 {
		return nil, dynatx.NewKeyConfigurationError(tableName, "table schema requires a RANGE value but none was supplied")
	}
	if !hasRange && len(rangeValue) > 0 {
		return nil, dynatx.NewKeyConfigurationError(tableName, "table schema has no RANGE key but a RANGE value was supplied")
	}

	key := dynatx.Key{}
	hv, err := stringify(hashDef.AttributeType, hashValue, hashDef.AttributeName)
	if err != nil {
		return nil, err
	}
	key[hashDef.AttributeName] = hv

	if hasRange {
		rv, err := stringify(rangeDef.AttributeType, rangeValue[0], rangeDef.AttributeName)
		if err != nil {
			return nil, err
		}
		key[rangeDef.AttributeName] = rv
	}

	return key, nil
}
