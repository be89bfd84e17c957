package coordinator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
	"github.com/sop-txmanager/dynatx/wal"
)

// pollInterval is how often bootstrap polls a freshly-created table, waiting for it to reach
// ACTIVE before use.
var pollInterval = 10 * time.Second

func txInfoSchema(tableName string, readCap, writeCap int64) store.CreateTableInput {
	return store.CreateTableInput{
		TableName:     tableName,
		ReadCapacity:  readCap,
		WriteCapacity: writeCap,
		AttributeDefinitions: []store.AttributeDefinition{
			{AttributeName: dynatx.AttrTxUUID, AttributeType: dynatx.TypeS},
		},
		KeySchema: []store.KeySchemaElement{
			{AttributeName: dynatx.AttrTxUUID, KeyType: store.KeyTypeHash},
		},
	}
}

func sameKeyDefs(a, b []store.AttributeDefinition) bool {
	if len(a) != len(b) {
		return false
	}
	sortedA := append([]store.AttributeDefinition(nil), a...)
	sortedB := append([]store.AttributeDefinition(nil), b...)
	byName := func(s []store.AttributeDefinition) func(i, j int) bool {
		return func(i, j int) bool { return s[i].AttributeName < s[j].AttributeName }
	}
	sort.Slice(sortedA, byName(sortedA))
	sort.Slice(sortedB, byName(sortedB))
	for i := range sortedA {
		if sortedA[i] != sortedB[i] {
			return false
		}
	}
	return true
}

func sameKeySchema(a, b []store.KeySchemaElement) bool {
	if len(a) != len(b) {
		return false
	}
	sortedA := append([]store.KeySchemaElement(nil), a...)
	sortedB := append([]store.KeySchemaElement(nil), b...)
	byType := func(s []store.KeySchemaElement) func(i, j int) bool {
		return func(i, j int) bool { return s[i].KeyType < s[j].KeyType }
	}
	sort.Slice(sortedA, byType(sortedA))
	sort.Slice(sortedB, byType(sortedB))
	for i := range sortedA {
		if sortedA[i] != sortedB[i] {
			return false
		}
	}
	return true
}

// verifyOrCreateTable implements the bootstrap sequence: describe_table; if absent,
// create_table and poll until ACTIVE; if present, verify AttributeDefinitions/KeySchema match
// want, failing with BadTxTableAttributes/BadTxTableKeySchema on mismatch.
func verifyOrCreateTable(ctx context.Context, client store.Client, want store.CreateTableInput) error {
	schema, err := client.DescribeTable(ctx, want.TableName)
	if err != nil {
		return fmt.Errorf("coordinator: describe_table(%s): %w", want.TableName, err)
	}

	if schema.Status == store.TableStatusNotFound {
		if err := client.CreateTable(ctx, want); err != nil {
			return fmt.Errorf("coordinator: create_table(%s): %w", want.TableName, err)
		}
		for {
			schema, err = client.DescribeTable(ctx, want.TableName)
			if err != nil {
				return fmt.Errorf("coordinator: describe_table(%s): %w", want.TableName, err)
			}
			if schema.Status == store.TableStatusActive {
				return nil
			}
			dynatx.Sleep(ctx, pollInterval)
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}

	if !sameKeyDefs(schema.AttributeDefinitions, want.AttributeDefinitions) {
		return dynatx.NewBadTxTableAttributesError(want.TableName)
	}
	if !sameKeySchema(schema.KeySchema, want.KeySchema) {
		return dynatx.NewBadTxTableKeySchemaError(want.TableName)
	}
	return nil
}

// Bootstrap verifies or creates the tx-info and tx-data auxiliary tables.
func Bootstrap(ctx context.Context, client store.Client, cfg dynatx.Config) error {
	cfg = cfg.WithDefaults()
	if err := verifyOrCreateTable(ctx, client, txInfoSchema(cfg.TxInfoTable, cfg.ReadCapacity, cfg.WriteCapacity)); err != nil {
		return err
	}
	dataSchema := wal.TxDataSchema(cfg.TxDataTable, cfg.ReadCapacity, cfg.WriteCapacity)
	if err := verifyOrCreateTable(ctx, client, dataSchema); err != nil {
		return err
	}
	return nil
}
