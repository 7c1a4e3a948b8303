// Package datasource defines the storage capability the execution engine
// runs against, plus memory, SQL, Redis, and object-store implementations.
//
// The engine treats the data source as an opaque collaborator: all
// persistence and transport concerns live behind this interface. Records
// are schemaless JSON objects keyed by a string id under a named resource.
package datasource

import (
	"context"
	"errors"
	"strconv"
)

// Operation is a CRUD operation kind, shared by batch and transaction
// bookkeeping.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ErrBulkUnsupported signals that a data source has no native bulk path and
// the caller should fall back to per-item calls.
var ErrBulkUnsupported = errors.New("bulk operation not supported")

// FindResult is a page of records plus the total matching count.
type FindResult struct {
	Data  []map[string]any
	Total int
}

// DataSource is the capability consumed by the transaction manager for
// rollback compensation and batch execution.
//
// FindOne returns (nil, nil) when the record does not exist; Delete returns
// false without error for the same case.
type DataSource interface {
	Find(ctx context.Context, resource string, params map[string]any) (*FindResult, error)
	FindOne(ctx context.Context, resource, id string) (map[string]any, error)
	Create(ctx context.Context, resource string, data map[string]any) (map[string]any, error)
	Update(ctx context.Context, resource, id string, data map[string]any) (map[string]any, error)
	Delete(ctx context.Context, resource, id string) (bool, error)
	ObjectSchema(ctx context.Context, resource string) (map[string]any, error)
}

// BulkDataSource is the optional capability for native multi-record
// operations. Its absence (or a failing Bulk call) triggers the per-item
// fallback in batch execution.
type BulkDataSource interface {
	Bulk(ctx context.Context, resource string, op Operation, items []map[string]any) ([]map[string]any, error)
}

// RecordID extracts the string form of a record's id field, tolerating the
// common scalar types ids arrive as after JSON decoding.
func RecordID(record map[string]any) (string, bool) {
	v, ok := record["id"]
	if !ok || v == nil {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}
