// Package store defines the collaborator interface consumed from the raw remote-store client:
// describe_table, create_table, get_item, put_item, update_item, delete_item, with
// conditional-expression and return-old-value support. This interface,
// the value-encoding helpers, and the expression-builder DSL are deliberately out of scope for
// the transaction-coordination core; concrete adapters implement it: store/dynamo and
// store/cassandra over third-party drivers, store/memory in-process with the standard library.
package store

import (
	"context"

	"github.com/sop-txmanager/dynatx"
)

// KeyType distinguishes a HASH key from a RANGE key in a table's KeySchema.
type KeyType string

const (
	KeyTypeHash  KeyType = "HASH"
	KeyTypeRange KeyType = "RANGE"
)

// KeySchemaElement is one entry of a table's KeySchema.
type KeySchemaElement struct {
	AttributeName string
	KeyType       KeyType
}

// AttributeDefinition declares the wire type (S, N, or B) of one key attribute.
type AttributeDefinition struct {
	AttributeName string
	AttributeType dynatx.AttrType
}

// LocalSecondaryIndex describes one LSI: same hash key as the table, a different range key,
// with ALL projection, matching the tx-data table definition.
type LocalSecondaryIndex struct {
	IndexName string
	KeySchema []KeySchemaElement
}

// TableStatus mirrors DynamoDB's table lifecycle status enough for the coordinator's bootstrap
// poll: creation waits, polling every 10s, until status is ACTIVE.
type TableStatus string

const (
	TableStatusCreating TableStatus = "CREATING"
	TableStatusActive   TableStatus = "ACTIVE"
	TableStatusNotFound TableStatus = ""
)

// TableSchema is what describe_table returns.
type TableSchema struct {
	TableName            string
	Status               TableStatus
	KeySchema            []KeySchemaElement
	AttributeDefinitions []AttributeDefinition
	LocalSecondaryIndexes []LocalSecondaryIndex
}

// HashKey returns the schema's HASH key attribute definition, if any.
func (s TableSchema) HashKey() (AttributeDefinition, bool) {
	return s.findKey(KeyTypeHash)
}

// RangeKey returns the schema's RANGE key attribute definition, if any.
func (s TableSchema) RangeKey() (AttributeDefinition, bool) {
	return s.findKey(KeyTypeRange)
}

func (s TableSchema) findKey(kt KeyType) (AttributeDefinition, bool) {
	for _, ks := range s.KeySchema {
		if ks.KeyType != kt {
			continue
		}
		for _, ad := range s.AttributeDefinitions {
			if ad.AttributeName == ks.AttributeName {
				return ad, true
			}
		}
	}
	return AttributeDefinition{}, false
}

// CreateTableInput is the input to create_table.
type CreateTableInput struct {
	TableName             string
	AttributeDefinitions  []AttributeDefinition
	KeySchema             []KeySchemaElement
	ReadCapacity          int64
	WriteCapacity         int64
	LocalSecondaryIndexes []LocalSecondaryIndex
}

// ExpectedCondition is one entry of an Expected map, following the DynamoDB convention
// described: {'Exists':'false'} or {'Exists':'true','Value':{...}}.
type ExpectedCondition struct {
	Exists bool
	Value  dynatx.AttributeValue
}

// NotExists builds the {'Exists':'false'} condition, i.e. attribute_not_exists(attr).
func NotExists() ExpectedCondition { return ExpectedCondition{Exists: false} }

// EqualTo builds the {'Exists':'true','Value':v} condition, i.e. attr = v.
func EqualTo(v dynatx.AttributeValue) ExpectedCondition {
	return ExpectedCondition{Exists: true, Value: v}
}

// Expected is a map of attribute name to the condition it must satisfy for a conditional
// write to proceed. All entries are ANDed together.
type Expected map[string]ExpectedCondition

// UpdateAction is one of the store's update_item action verbs.
type UpdateAction string

const (
	ActionPut    UpdateAction = "PUT"
	ActionAdd    UpdateAction = "ADD"
	ActionDelete UpdateAction = "DELETE"
)

// AttributeUpdate is one entry of an update_item updates map.
type AttributeUpdate struct {
	Action UpdateAction
	Value  dynatx.AttributeValue
}

// ReturnValues selects whether a write returns the item's prior image.
type ReturnValues string

const (
	ReturnNone    ReturnValues = "NONE"
	ReturnAllOld  ReturnValues = "ALL_OLD"
)

// GetItemInput is the input to get_item.
type GetItemInput struct {
	TableName      string
	Key            dynatx.Key
	ProjectAttrs   []string
	ConsistentRead bool
}

// PutItemInput is the input to put_item.
type PutItemInput struct {
	TableName    string
	Item         dynatx.Item
	Expected     Expected
	ReturnValues ReturnValues
}

// UpdateItemInput is the input to update_item.
type UpdateItemInput struct {
	TableName    string
	Key          dynatx.Key
	Updates      map[string]AttributeUpdate
	Expected     Expected
	ReturnValues ReturnValues
}

// DeleteItemInput is the input to delete_item.
type DeleteItemInput struct {
	TableName    string
	Key          dynatx.Key
	Expected     Expected
	ReturnValues ReturnValues
}

// Client is the collaborator interface every dynatx component is built against. Real backends
// (store/dynamo, store/cassandra) and the in-memory test double (store/memory) implement it.
type Client interface {
	// DescribeTable returns the table's schema, or a zero TableSchema with Status
	// TableStatusNotFound (and a nil error) if the table doesn't exist.
	DescribeTable(ctx context.Context, tableName string) (TableSchema, error)

	// CreateTable issues a create-table request; it does not wait for ACTIVE.
	CreateTable(ctx context.Context, input CreateTableInput) error

	// GetItem returns the item and true if found, or a zero item and false if not found and no
	// error occurred.
	GetItem(ctx context.Context, input GetItemInput) (dynatx.Item, bool, error)

	// PutItem returns the item's prior image when input.ReturnValues is ReturnAllOld and an
	// image existed; a nil map and no error otherwise. A failed Expected condition is reported
	// as an error satisfying dynatx.IsConditionalCheckFailed.
	PutItem(ctx context.Context, input PutItemInput) (dynatx.Item, error)

	// UpdateItem behaves like PutItem but applies Updates to the item, creating it from Key
	// when it does not exist and Expected allows the write.
	UpdateItem(ctx context.Context, input UpdateItemInput) (dynatx.Item, error)

	// DeleteItem behaves like PutItem but removes the item.
	DeleteItem(ctx context.Context, input DeleteItemInput) (dynatx.Item, error)
}

// Scanner is implemented by store.Client backends that can enumerate every row of a table
// without a key, the capability the crash-recovery sweeper and WAL garbage collector need to
// discover tx-info rows. It is deliberately not part of Client: ordinary transactional code
// never needs a full scan, and not every backend makes one cheap.
type Scanner interface {
	Scan(ctx context.Context, tableName string) ([]dynatx.Item, error)
}
