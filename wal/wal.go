// Package wal implements per-operation undo information recorded
// in the tx-data auxiliary table, with the companion bookkeeping on the tx-info row that every
// append also performs. A rollback is driven entirely from what this package persists.
package wal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"context"

	"github.com/golang/snappy"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
)

// Operation is the WAL record's undo verb.
type Operation string

const (
	// OpPut means rollback must re-put the stored Data image.
	OpPut Operation = "PUT"
	// OpDelete means rollback must delete the row by Key; no image was kept.
	OpDelete Operation = "DELETE"
)

// Record is one row of the tx-data table.
type Record struct {
	TxUUID       dynatx.UUID
	LogUUID      dynatx.UUID
	RecUUID      dynatx.UUID
	CreationDate string
	Table        string
	Key          dynatx.Key
	Operation    Operation
	Data         dynatx.Item // nil for OpDelete
}

const (
	attrTxUUID  = dynatx.AttrTxUUID
	attrLogUUID = "log_uuid"
	attrRecUUID = "rec_uuid"
	attrCreated = dynatx.AttrCreationDate
	attrTable   = "table"
	attrKey     = "key"
	attrOp      = "operation"
	attrData    = "data"

	// IdxByCreationDate and IdxByRecUUID are the two LSIs needed so a real
	// store.Client backend (DynamoDB, Cassandra) can serve a reverse-order scan natively. The
	// in-process rollback path here instead replays the exact log_uuid set recorded on the
	// tx-info row, so it never needs to issue a Query against either index itself.
	IdxByCreationDate = "creation_date-index"
	IdxByRecUUID      = "rec_uuid-index"
)

// TxDataSchema returns the create_table input for the tx-data table: hash
// tx_uuid, range log_uuid, plus the two LSIs used for reverse-order and per-item scans.
func TxDataSchema(tableName string, readCap, writeCap int64) store.CreateTableInput {
	return store.CreateTableInput{
		TableName: tableName,
		AttributeDefinitions: []store.AttributeDefinition{
			{AttributeName: attrTxUUID, AttributeType: dynatx.TypeS},
			{AttributeName: attrLogUUID, AttributeType: dynatx.TypeS},
			{AttributeName: attrCreated, AttributeType: dynatx.TypeS},
			{AttributeName: attrRecUUID, AttributeType: dynatx.TypeS},
		},
		KeySchema: []store.KeySchemaElement{
			{AttributeName: attrTxUUID, KeyType: store.KeyTypeHash},
			{AttributeName: attrLogUUID, KeyType: store.KeyTypeRange},
		},
		ReadCapacity:  readCap,
		WriteCapacity: writeCap,
		LocalSecondaryIndexes: []store.LocalSecondaryIndex{
			{
				IndexName: IdxByCreationDate,
				KeySchema: []store.KeySchemaElement{
					{AttributeName: attrTxUUID, KeyType: store.KeyTypeHash},
					{AttributeName: attrCreated, KeyType: store.KeyTypeRange},
				},
			},
			{
				IndexName: IdxByRecUUID,
				KeySchema: []store.KeySchemaElement{
					{AttributeName: attrTxUUID, KeyType: store.KeyTypeHash},
					{AttributeName: attrRecUUID, KeyType: store.KeyTypeRange},
				},
			},
		},
	}
}

// Log appends and replays WAL records for one tx-data table, touching the sibling tx-info row
// exactly.
type Log struct {
	client      store.Client
	txInfoTable string
	txDataTable string
}

// New builds a Log bound to the given auxiliary table names.
func New(client store.Client, txInfoTable, txDataTable string) *Log {
	return &Log{client: client, txInfoTable: txInfoTable, txDataTable: txDataTable}
}

func encodeKey(k dynatx.Key) (dynatx.AttributeValue, error) {
	b, err := json.Marshal(k)
	if err != nil {
		return dynatx.AttributeValue{}, err
	}
	return dynatx.S(string(b)), nil
}

func decodeKey(av dynatx.AttributeValue) (dynatx.Key, error) {
	var k dynatx.Key
	if err := json.Unmarshal([]byte(av.Str), &k); err != nil {
		return nil, err
	}
	return k, nil
}

func encodeData(item dynatx.Item) (dynatx.AttributeValue, error) {
	if item == nil {
		return dynatx.AttributeValue{}, nil
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return dynatx.AttributeValue{}, err
	}
	return dynatx.B(snappy.Encode(nil, raw)), nil
}

func decodeData(av dynatx.AttributeValue) (dynatx.Item, error) {
	if av.Type == "" {
		return nil, nil
	}
	raw, err := snappy.Decode(nil, av.Bin)
	if err != nil {
		return nil, err
	}
	var item dynatx.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	return item, nil
}

func toRow(r Record) (dynatx.Item, error) {
	keyAttr, err := encodeKey(r.Key)
	if err != nil {
		return nil, err
	}
	row := dynatx.Item{
		attrTxUUID:  dynatx.S(r.TxUUID.String()),
		attrLogUUID: dynatx.S(r.LogUUID.String()),
		attrRecUUID: dynatx.S(r.RecUUID.String()),
		attrCreated: dynatx.S(r.CreationDate),
		attrTable:   dynatx.S(r.Table),
		attrKey:     keyAttr,
		attrOp:      dynatx.S(string(r.Operation)),
	}
	if r.Data != nil {
		dataAttr, err := encodeData(r.Data)
		if err != nil {
			return nil, err
		}
		row[attrData] = dataAttr
	}
	return row, nil
}

func fromRow(row dynatx.Item) (Record, error) {
	txUUID, err := dynatx.ParseUUID(row[attrTxUUID].Str)
	if err != nil {
		return Record{}, err
	}
	logUUID, err := dynatx.ParseUUID(row[attrLogUUID].Str)
	if err != nil {
		return Record{}, err
	}
	recUUID, err := dynatx.ParseUUID(row[attrRecUUID].Str)
	if err != nil {
		return Record{}, err
	}
	key, err := decodeKey(row[attrKey])
	if err != nil {
		return Record{}, err
	}
	var data dynatx.Item
	if av, ok := row[attrData]; ok {
		data, err = decodeData(av)
		if err != nil {
			return Record{}, err
		}
	}
	return Record{
		TxUUID:       txUUID,
		LogUUID:      logUUID,
		RecUUID:      recUUID,
		CreationDate: row[attrCreated].Str,
		Table:        row[attrTable].Str,
		Key:          key,
		Operation:    Operation(row[attrOp].Str),
		Data:         data,
	}, nil
}

// Append persists one WAL record with a conditional put_item (primary-key uniqueness on
// (tx_uuid, log_uuid)), then ADDs the new log_uuid to the parent tx-info row's logs set together
// with a PUT of status=IN-FLIGHT, conditioned on tx_uuid = self.
func (l *Log) Append(ctx context.Context, r Record) error {
	row, err := toRow(r)
	if err != nil {
		return fmt.Errorf("wal: encode record: %w", err)
	}

	if _, err := l.client.PutItem(ctx, store.PutItemInput{
		TableName: l.txDataTable,
		Item:      row,
		Expected: store.Expected{
			attrTxUUID:  store.NotExists(),
			attrLogUUID: store.NotExists(),
		},
	}); err != nil {
		return fmt.Errorf("wal: append record: %w", err)
	}

	_, err = l.client.UpdateItem(ctx, store.UpdateItemInput{
		TableName: l.txInfoTable,
		Key:       dynatx.Key{attrTxUUID: dynatx.S(r.TxUUID.String())},
		Updates: map[string]store.AttributeUpdate{
			dynatx.AttrLogs:   {Action: store.ActionAdd, Value: dynatx.SSet(r.LogUUID.String())},
			dynatx.AttrStatus: {Action: store.ActionPut, Value: dynatx.S(string(dynatx.StatusInFlight))},
		},
		Expected: store.Expected{attrTxUUID: store.EqualTo(dynatx.S(r.TxUUID.String()))},
	})
	if err != nil {
		return fmt.Errorf("wal: mark tx in-flight: %w", err)
	}
	return nil
}

// ReadByLogUUIDs fetches exactly the tx-data rows named by logUUIDs (the set already tracked on
// the tx-info row's logs attribute) and returns them ordered by CreationDate descending — the
// LIFO order the rollback algorithm requires.
func (l *Log) ReadByLogUUIDs(ctx context.Context, txUUID dynatx.UUID, logUUIDs []dynatx.UUID) ([]Record, error) {
	records := make([]Record, 0, len(logUUIDs))
	for _, logUUID := range logUUIDs {
		item, found, err := l.client.GetItem(ctx, store.GetItemInput{
			TableName:      l.txDataTable,
			Key:            dynatx.Key{attrTxUUID: dynatx.S(txUUID.String()), attrLogUUID: dynatx.S(logUUID.String())},
			ConsistentRead: true,
		})
		if err != nil {
			return nil, fmt.Errorf("wal: read log %s: %w", logUUID, err)
		}
		if !found {
			continue
		}
		rec, err := fromRow(item)
		if err != nil {
			return nil, fmt.Errorf("wal: decode log %s: %w", logUUID, err)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreationDate == records[j].CreationDate {
			return bytes.Compare([]byte(records[i].LogUUID.String()), []byte(records[j].LogUUID.String())) > 0
		}
		return records[i].CreationDate > records[j].CreationDate
	})
	return records, nil
}

// Undo applies the inverse of one WAL record: an unconditional re-put of the stored image for
// OpPut, or an unconditional delete by key for OpDelete. Both are idempotent, so rollback is
// idempotent too.
func (l *Log) Undo(ctx context.Context, r Record) error {
	switch r.Operation {
	case OpPut:
		_, err := l.client.PutItem(ctx, store.PutItemInput{TableName: r.Table, Item: r.Data})
		if err != nil {
			return fmt.Errorf("wal: undo put on %s: %w", r.Table, err)
		}
		return nil
	case OpDelete:
		_, err := l.client.DeleteItem(ctx, store.DeleteItemInput{TableName: r.Table, Key: r.Key})
		if err != nil {
			return fmt.Errorf("wal: undo delete on %s: %w", r.Table, err)
		}
		return nil
	default:
		return fmt.Errorf("wal: unknown operation %q", r.Operation)
	}
}
