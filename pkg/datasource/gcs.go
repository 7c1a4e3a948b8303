//go:build gcp

package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

// GCS is a data source over a Google Cloud Storage bucket, mirroring the S3
// layout: each record is a JSON object at `<prefix><resource>/<id>.json`.
// It is compiled only with the gcp build tag.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig holds configuration for the GCS data source.
type GCSConfig struct {
	Bucket string
	Prefix string // Optional key prefix
}

// NewGCS creates a GCS-backed data source using Application Default
// Credentials.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCS{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func openGCS(ctx context.Context, bucket string) (DataSource, error) {
	return NewGCS(ctx, GCSConfig{Bucket: bucket})
}

func (g *GCS) recordKey(resource, id string) string {
	return g.prefix + resource + "/" + id + ".json"
}

func (g *GCS) schemaKey(resource string) string {
	return g.prefix + resource + "/_schema.json"
}

func (g *GCS) getObject(ctx context.Context, key string) (map[string]any, error) {
	rd, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gcs get %q: %w", key, err)
	}
	defer rd.Close()
	raw, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("gcs read %q: %w", key, err)
	}
	return decodeDoc(raw)
}

func (g *GCS) putObject(ctx context.Context, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs put %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs put %q: %w", key, err)
	}
	return nil
}

// SetSchema stores the schema document returned by ObjectSchema.
func (g *GCS) SetSchema(ctx context.Context, resource string, rawSchema []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(rawSchema, &doc); err != nil {
		return fmt.Errorf("schema for %q: %w", resource, err)
	}
	return g.putObject(ctx, g.schemaKey(resource), doc)
}

// Find lists the resource prefix and fetches each record.
func (g *GCS) Find(ctx context.Context, resource string, params map[string]any) (*FindResult, error) {
	var filter map[string]any
	if params != nil {
		filter, _ = params["filter"].(map[string]any)
	}

	listPrefix := g.prefix + resource + "/"
	var matched []map[string]any

	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: listPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list %q: %w", listPrefix, err)
		}
		if strings.HasSuffix(attrs.Name, "/_schema.json") {
			continue
		}
		rec, err := g.getObject(ctx, attrs.Name)
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
func (g *GCS) FindOne(ctx context.Context, resource, id string) (map[string]any, error) {
	return g.getObject(ctx, g.recordKey(resource, id))
}

// Create stores a new record, assigning a UUID id when the data carries
// none.
func (g *GCS) Create(ctx context.Context, resource string, data map[string]any) (map[string]any, error) {
	rec := cloneRecord(data)
	id, ok := RecordID(rec)
	if !ok {
		id = uuid.New().String()
		rec["id"] = id
	}
	existing, err := g.FindOne(ctx, resource, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("record %s/%s already exists", resource, id)
	}
	if err := g.putObject(ctx, g.recordKey(resource, id), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update merges data into the stored record and writes it back.
func (g *GCS) Update(ctx context.Context, resource, id string, data map[string]any) (map[string]any, error) {
	existing, err := g.FindOne(ctx, resource, id)
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
	if err := g.putObject(ctx, g.recordKey(resource, id), existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// Delete removes the record object, reporting whether it existed.
func (g *GCS) Delete(ctx context.Context, resource, id string) (bool, error) {
	obj := g.client.Bucket(g.bucket).Object(g.recordKey(resource, id))
	err := obj.Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gcs delete %s/%s: %w", resource, id, err)
	}
	return true, nil
}

// ObjectSchema returns the schema stored via SetSchema, or (nil, nil).
func (g *GCS) ObjectSchema(ctx context.Context, resource string) (map[string]any, error) {
	return g.getObject(ctx, g.schemaKey(resource))
}
