package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
)

// Archiver is satisfied by archive.S3Archiver, which wraps an S3 multipart upload manager; it
// is the one collaborator CollectGarbage needs beyond store.Client, kept narrow so tests can
// supply a fake.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

type archivedTx struct {
	TxInfo dynatx.Item   `json:"txInfo"`
	TxData []dynatx.Item `json:"txData"`
}

// CollectGarbage implements WAL retention/GC: it
// deletes tx-info/tx-data rows for terminal (COMMIT/ROLLBACK) transactions past olderThan,
// optionally archiving each transaction's rows to archiver first. It is bookkeeping only; it
// never touches a transaction's commit/rollback semantics.
func CollectGarbage(ctx context.Context, client store.Client, cfg dynatx.Config, olderThan time.Duration, archiver Archiver) (int, error) {
	cfg = cfg.WithDefaults()
	scanner, ok := client.(store.Scanner)
	if !ok {
		return 0, fmt.Errorf("coordinator: garbage collection requires a store.Scanner-capable client")
	}

	rows, err := scanner.Scan(ctx, cfg.TxInfoTable)
	if err != nil {
		return 0, fmt.Errorf("coordinator: scan %s: %w", cfg.TxInfoTable, err)
	}

	collected := 0
	for _, row := range rows {
		status := dynatx.Status(row[dynatx.AttrStatus].Str)
		if !status.Terminal() {
			continue
		}
		created, err := time.Parse(isoFormat, row[dynatx.AttrCreationDate].Str)
		if err != nil {
			continue
		}
		if dynatx.Now().Sub(created) < olderThan {
			continue
		}

		txUUID, err := dynatx.ParseUUID(row[dynatx.AttrTxUUID].Str)
		if err != nil {
			continue
		}

		var logUUIDs []string
		if logs, has := row[dynatx.AttrLogs]; has {
			logUUIDs = logs.SS
		}

		dataRows := make([]dynatx.Item, 0, len(logUUIDs))
		for _, logUUID := range logUUIDs {
			item, found, err := client.GetItem(ctx, store.GetItemInput{
				TableName: cfg.TxDataTable,
				Key:       dynatx.Key{dynatx.AttrTxUUID: dynatx.S(txUUID.String()), "log_uuid": dynatx.S(logUUID)},
			})
			if err != nil {
				return collected, fmt.Errorf("coordinator: gc read tx-data(%s): %w", txUUID, err)
			}
			if found {
				dataRows = append(dataRows, item)
			}
		}

		if archiver != nil {
			body, err := json.Marshal(archivedTx{TxInfo: row, TxData: dataRows})
			if err != nil {
				return collected, fmt.Errorf("coordinator: gc marshal archive for %s: %w", txUUID, err)
			}
			if err := archiver.Archive(ctx, txUUID.String()+".json", body); err != nil {
				return collected, fmt.Errorf("coordinator: gc archive %s: %w", txUUID, err)
			}
		}

		for _, logUUID := range logUUIDs {
			if _, err := client.DeleteItem(ctx, store.DeleteItemInput{
				TableName: cfg.TxDataTable,
				Key:       dynatx.Key{dynatx.AttrTxUUID: dynatx.S(txUUID.String()), "log_uuid": dynatx.S(logUUID)},
			}); err != nil {
				return collected, fmt.Errorf("coordinator: gc delete tx-data(%s): %w", txUUID, err)
			}
		}
		if _, err := client.DeleteItem(ctx, store.DeleteItemInput{
			TableName: cfg.TxInfoTable,
			Key:       dynatx.Key{dynatx.AttrTxUUID: dynatx.S(txUUID.String())},
		}); err != nil {
			return collected, fmt.Errorf("coordinator: gc delete tx-info(%s): %w", txUUID, err)
		}

		collected++
	}

	return collected, nil
}
