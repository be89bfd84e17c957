package coordinator

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/lock"
	"github.com/sop-txmanager/dynatx/store"
	"github.com/sop-txmanager/dynatx/wal"
)

// Sweep implements crash recovery as library behavior: it finds tx-info rows with status
// START or IN-FLIGHT older than olderThan,
// replays their tx-data log in reverse creation order, releases the locks on the items named in
// that log, and sets status=ROLLBACK. Locks on items with no tx-data record are not released. It requires the store.Client to also implement store.Scanner.
func Sweep(ctx context.Context, client store.Client, cfg dynatx.Config, olderThan time.Duration) ([]dynatx.UUID, error) {
	cfg = cfg.WithDefaults()
	scanner, ok := client.(store.Scanner)
	if !ok {
		return nil, fmt.Errorf("coordinator: sweep requires a store.Scanner-capable client")
	}

	rows, err := scanner.Scan(ctx, cfg.TxInfoTable)
	if err != nil {
		return nil, fmt.Errorf("coordinator: scan %s: %w", cfg.TxInfoTable, err)
	}

	l := wal.New(client, cfg.TxInfoTable, cfg.TxDataTable)
	var swept []dynatx.UUID

	for _, row := range rows {
		status := dynatx.Status(row[dynatx.AttrStatus].Str)
		if status != dynatx.StatusStart && status != dynatx.StatusInFlight {
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

		var logUUIDs []dynatx.UUID
		if logs, has := row[dynatx.AttrLogs]; has {
			for _, s := range logs.SS {
				u, err := dynatx.ParseUUID(s)
				if err == nil {
					logUUIDs = append(logUUIDs, u)
				}
			}
		}

		records, err := l.ReadByLogUUIDs(ctx, txUUID, logUUIDs)
		if err != nil {
			return swept, fmt.Errorf("coordinator: sweep read log for %s: %w", txUUID, err)
		}
		for _, rec := range records {
			if err := l.Undo(ctx, rec); err != nil {
				return swept, fmt.Errorf("coordinator: sweep undo for %s: %w", txUUID, err)
			}
		}

		released := map[string]bool{}
		for _, rec := range records {
			rk := rec.Table + "|" + keyFingerprint(rec.Key)
			if released[rk] {
				continue
			}
			released[rk] = true
			if err := lock.New(client, rec.Table, rec.Key, txUUID).Release(ctx); err != nil {
				return swept, fmt.Errorf("coordinator: sweep release lock for %s: %w", txUUID, err)
			}
		}

		if _, err := client.UpdateItem(ctx, store.UpdateItemInput{
			TableName: cfg.TxInfoTable,
			Key:       dynatx.Key{dynatx.AttrTxUUID: dynatx.S(txUUID.String())},
			Updates: map[string]store.AttributeUpdate{
				dynatx.AttrStatus: {Action: store.ActionPut, Value: dynatx.S(string(dynatx.StatusRollback))},
			},
			Expected: store.Expected{dynatx.AttrTxUUID: store.EqualTo(dynatx.S(txUUID.String()))},
		}); err != nil {
			return swept, fmt.Errorf("coordinator: sweep set ROLLBACK for %s: %w", txUUID, err)
		}

		swept = append(swept, txUUID)
	}

	return swept, nil
}

func keyFingerprint(k dynatx.Key) string {
	s := ""
	for name, v := range k {
		s += name + "=" + string(v.Type) + ":" + v.Str + ":" + base64.StdEncoding.EncodeToString(v.Bin) + ";"
	}
	return s
}
