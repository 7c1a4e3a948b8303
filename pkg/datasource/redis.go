package datasource

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis is a data source over a Redis keyspace. Each record is a JSON blob
// at `<prefix><resource>:<id>`, with the resource's ids tracked in the set
// `<prefix><resource>:ids`.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps an existing client. prefix namespaces all keys and may be
// empty.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) recordKey(resource, id string) string {
	return fmt.Sprintf("%s%s:%s", r.prefix, resource, id)
}

func (r *Redis) idsKey(resource string) string {
	return fmt.Sprintf("%s%s:ids", r.prefix, resource)
}

func (r *Redis) schemaKey(resource string) string {
	return fmt.Sprintf("%s%s:schema", r.prefix, resource)
}

// SetSchema stores the schema document returned by ObjectSchema.
func (r *Redis) SetSchema(ctx context.Context, resource string, rawSchema []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(rawSchema, &doc); err != nil {
		return fmt.Errorf("schema for %q: %w", resource, err)
	}
	if err := r.client.Set(ctx, r.schemaKey(resource), rawSchema, 0).Err(); err != nil {
		return fmt.Errorf("store schema for %q: %w", resource, err)
	}
	return nil
}

// Find returns all records of a resource. Ordering follows the id set and
// is not stable across calls; callers needing order should sort on a field.
func (r *Redis) Find(ctx context.Context, resource string, params map[string]any) (*FindResult, error) {
	ids, err := r.client.SMembers(ctx, r.idsKey(resource)).Result()
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", resource, err)
	}

	var filter map[string]any
	if params != nil {
		filter, _ = params["filter"].(map[string]any)
	}

	var matched []map[string]any
	for _, id := range ids {
		rec, err := r.FindOne(ctx, resource, id)
		if err != nil {
			return nil, err
		}
		if rec == nil || !matchesFilter(rec, filter) {
			continue
		}
		matched = append(matched, rec)
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

// FindOne returns the record or (nil, nil) when absent.
func (r *Redis) FindOne(ctx context.Context, resource, id string) (map[string]any, error) {
	raw, err := r.client.Get(ctx, r.recordKey(resource, id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("findOne %s/%s: %w", resource, id, err)
	}
	return decodeDoc(raw)
}

// Create stores a new record, assigning a UUID id when the data carries
// none.
func (r *Redis) Create(ctx context.Context, resource string, data map[string]any) (map[string]any, error) {
	rec := cloneRecord(data)
	id, ok := RecordID(rec)
	if !ok {
		id = uuid.New().String()
		rec["id"] = id
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	key := r.recordKey(resource, id)
	set, err := r.client.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("create %s/%s: %w", resource, id, err)
	}
	if !set {
		return nil, fmt.Errorf("record %s/%s already exists", resource, id)
	}
	if err := r.client.SAdd(ctx, r.idsKey(resource), id).Err(); err != nil {
		return nil, fmt.Errorf("create %s/%s: %w", resource, id, err)
	}
	return rec, nil
}

// Update merges data into the stored record and writes it back.
func (r *Redis) Update(ctx context.Context, resource, id string, data map[string]any) (map[string]any, error) {
	existing, err := r.FindOne(ctx, resource, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("record %s/%s not found", resource, id)
	}
	for k, v := range data {
		existing[k] = v
	}
	existing["id"] = id
	raw, err := json.Marshal(existing)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if err := r.client.Set(ctx, r.recordKey(resource, id), raw, 0).Err(); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", resource, id, err)
	}
	return existing, nil
}

// Delete removes the record and its id-set membership.
func (r *Redis) Delete(ctx context.Context, resource, id string) (bool, error) {
	deleted, err := r.client.Del(ctx, r.recordKey(resource, id)).Result()
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", resource, id, err)
	}
	if err := r.client.SRem(ctx, r.idsKey(resource), id).Err(); err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", resource, id, err)
	}
	return deleted > 0, nil
}

// ObjectSchema returns the schema stored via SetSchema, or (nil, nil).
func (r *Redis) ObjectSchema(ctx context.Context, resource string) (map[string]any, error) {
	raw, err := r.client.Get(ctx, r.schemaKey(resource)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("schema for %q: %w", resource, err)
	}
	return decodeDoc(raw)
}
