package txapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/keyresolver"
	"github.com/sop-txmanager/dynatx/store"
)

func secondsToDuration(s int64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

// itemRef names an item the way an HTTP caller can: a table and its hash/range values rendered
// as strings (base64 for a B-typed key attribute). keyresolver.Resolver.Resolve does the actual
// typed conversion once the attribute's declared type is known.
type itemRef struct {
	Table      string `json:"table" binding:"required"`
	HashValue  string `json:"hashValue" binding:"required"`
	RangeValue string `json:"rangeValue,omitempty"`
	HasRange   bool   `json:"hasRange,omitempty"`
}

func rawKeyValue(ctx context.Context, resolver *keyresolver.Resolver, table string, isHash bool, encoded string) (any, error) {
	schema, err := resolver.Schema(ctx, table)
	if err != nil {
		return nil, err
	}
	def, ok := schema.HashKey()
	if !isHash {
		def, ok = schema.RangeKey()
	}
	if !ok || def.AttributeType != dynatx.TypeB {
		return encoded, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("txapi: %s value is not valid base64 for a B-typed key: %w", refLabel(isHash), err)
	}
	return raw, nil
}

func refLabel(isHash bool) string {
	if isHash {
		return "hashValue"
	}
	return "rangeValue"
}

type beginRequest struct {
	Name      string `json:"name"`
	Isolation string `json:"isolation"`
}

type beginResponse struct {
	TxID string `json:"txId"`
}

type getRequest struct {
	itemRef
	ProjectAttrs []string `json:"projectAttrs,omitempty"`
}

type mutateRequest struct {
	itemRef
	Item     dynatx.Item              `json:"item,omitempty"`
	Updates  map[string]store.AttributeUpdate `json:"updates,omitempty"`
	Expected store.Expected           `json:"expected,omitempty"`
}

type itemResponse struct {
	Item dynatx.Item `json:"item,omitempty"`
}

type sweepRequest struct {
	OlderThanSeconds int64 `json:"olderThanSeconds"`
}

type sweepResponse struct {
	Swept []string `json:"swept"`
}

type gcRequest struct {
	OlderThanSeconds int64 `json:"olderThanSeconds"`
}

type gcResponse struct {
	Collected int `json:"collected"`
}

type errorResponse struct {
	Message string `json:"message"`
}
