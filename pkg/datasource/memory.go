package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Memory is a thread-safe in-memory data source. It preserves insertion
// order per resource and optionally validates records against a JSON schema
// registered per resource. It implements BulkDataSource.
type Memory struct {
	mu        sync.RWMutex
	records   map[string]map[string]map[string]any
	order     map[string][]string
	schemas   map[string]map[string]any
	compiled  map[string]*jsonschema.Schema
}

// NewMemory creates an empty in-memory data source.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]map[string]map[string]any),
		order:    make(map[string][]string),
		schemas:  make(map[string]map[string]any),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// SetSchema registers a JSON schema for a resource. Subsequent Create and
// Update calls validate the full record against it.
func (m *Memory) SetSchema(resource string, rawSchema []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(rawSchema, &doc); err != nil {
		return fmt.Errorf("schema for %q: %w", resource, err)
	}
	compiled, err := jsonschema.CompileString(resource+".schema.json", string(rawSchema))
	if err != nil {
		return fmt.Errorf("compile schema for %q: %w", resource, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[resource] = doc
	m.compiled[resource] = compiled
	return nil
}

func (m *Memory) validateLocked(resource string, record map[string]any) error {
	schema, ok := m.compiled[resource]
	if !ok {
		return nil
	}
	// Round-trip through JSON so the validator sees plain decoded values.
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("record for %q failed schema validation: %w", resource, err)
	}
	return nil
}

func cloneRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}

// Find returns records for a resource in insertion order. Supported params:
// "filter" (map of field equality), "offset" and "limit" (ints). Total is
// the filtered count before pagination.
func (m *Memory) Find(ctx context.Context, resource string, params map[string]any) (*FindResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filter map[string]any
	if params != nil {
		filter, _ = params["filter"].(map[string]any)
	}

	var matched []map[string]any
	for _, id := range m.order[resource] {
		rec := m.records[resource][id]
		if rec == nil || !matchesFilter(rec, filter) {
			continue
		}
		matched = append(matched, cloneRecord(rec))
	}
	total := len(matched)

	offset, limit := pagination(params)
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	return &FindResult{Data: matched, Total: total}, nil
}

func matchesFilter(record, filter map[string]any) bool {
	for k, want := range filter {
		if fmt.Sprint(record[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func pagination(params map[string]any) (offset, limit int) {
	if params == nil {
		return 0, 0
	}
	if v, ok := params["offset"]; ok {
		offset = toInt(v)
	}
	if v, ok := params["limit"]; ok {
		limit = toInt(v)
	}
	return offset, limit
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// FindOne returns the record or (nil, nil) when absent.
func (m *Memory) FindOne(ctx context.Context, resource, id string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[resource][id]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

// Create stores a new record, assigning a UUID id when the data carries
// none. Creating an id that already exists is an error.
func (m *Memory) Create(ctx context.Context, resource string, data map[string]any) (map[string]any, error) {
	rec := cloneRecord(data)
	id, ok := RecordID(rec)
	if !ok {
		id = uuid.New().String()
		rec["id"] = id
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validateLocked(resource, rec); err != nil {
		return nil, err
	}
	if _, exists := m.records[resource][id]; exists {
		return nil, fmt.Errorf("record %s/%s already exists", resource, id)
	}
	if m.records[resource] == nil {
		m.records[resource] = make(map[string]map[string]any)
	}
	m.records[resource][id] = rec
	m.order[resource] = append(m.order[resource], id)
	return cloneRecord(rec), nil
}

// Update merges data into the existing record and returns the result.
func (m *Memory) Update(ctx context.Context, resource, id string, data map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[resource][id]
	if !ok {
		return nil, fmt.Errorf("record %s/%s not found", resource, id)
	}
	merged := cloneRecord(existing)
	for k, v := range data {
		merged[k] = v
	}
	merged["id"] = id
	if err := m.validateLocked(resource, merged); err != nil {
		return nil, err
	}
	m.records[resource][id] = merged
	return cloneRecord(merged), nil
}

// Delete removes the record, reporting whether it existed.
func (m *Memory) Delete(ctx context.Context, resource, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[resource][id]; !ok {
		return false, nil
	}
	delete(m.records[resource], id)
	ids := m.order[resource]
	for i, existing := range ids {
		if existing == id {
			m.order[resource] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return true, nil
}

// ObjectSchema returns the registered schema document for a resource, or
// (nil, nil) when none was set.
func (m *Memory) ObjectSchema(ctx context.Context, resource string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	schema, ok := m.schemas[resource]
	if !ok {
		return nil, nil
	}
	return cloneRecord(schema), nil
}

// Bulk applies one operation to every item in a single call. It is
// all-or-nothing: the first failing item aborts and restores nothing, so
// callers that need partial progress should use the per-item fallback.
func (m *Memory) Bulk(ctx context.Context, resource string, op Operation, items []map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		var (
			rec map[string]any
			err error
		)
		switch op {
		case OpCreate:
			rec, err = m.Create(ctx, resource, item)
		case OpUpdate:
			id, ok := RecordID(item)
			if !ok {
				return nil, fmt.Errorf("bulk update item %d: missing id", i)
			}
			rec, err = m.Update(ctx, resource, id, item)
		case OpDelete:
			id, ok := RecordID(item)
			if !ok {
				return nil, fmt.Errorf("bulk delete item %d: missing id", i)
			}
			_, err = m.Delete(ctx, resource, id)
			rec = item
		default:
			return nil, fmt.Errorf("bulk: unknown operation %q", op)
		}
		if err != nil {
			return nil, fmt.Errorf("bulk %s item %d: %w", op, i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
