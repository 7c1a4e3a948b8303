package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3 is a data source over an S3 bucket. Each record is a JSON object at
// `<prefix><resource>/<id>.json`; the resource schema, when set, lives at
// `<prefix><resource>/_schema.json`.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config holds configuration for the S3 data source.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string // Optional key prefix
}

// NewS3 creates an S3-backed data source using the default AWS credential
// chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &S3{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3) recordKey(resource, id string) string {
	return s.prefix + resource + "/" + id + ".json"
}

func (s *S3) schemaKey(resource string) string {
	return s.prefix + resource + "/_schema.json"
}

func (s *S3) getObject(ctx context.Context, key string) (map[string]any, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3 get %q: %w", key, err)
	}
	defer out.Body.Close()
	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %q: %w", key, err)
	}
	return decodeDoc(raw)
}

func (s *S3) putObject(ctx context.Context, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %q: %w", key, err)
	}
	return nil
}

// SetSchema stores the schema document returned by ObjectSchema.
func (s *S3) SetSchema(ctx context.Context, resource string, rawSchema []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(rawSchema, &doc); err != nil {
		return fmt.Errorf("schema for %q: %w", resource, err)
	}
	return s.putObject(ctx, s.schemaKey(resource), doc)
}

// Find lists the resource prefix and fetches each record. Ordering follows
// S3 key order (lexicographic by id).
func (s *S3) Find(ctx context.Context, resource string, params map[string]any) (*FindResult, error) {
	var filter map[string]any
	if params != nil {
		filter, _ = params["filter"].(map[string]any)
	}

	listPrefix := s.prefix + resource + "/"
	var matched []map[string]any

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(listPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %q: %w", listPrefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/_schema.json") {
				continue
			}
			rec, err := s.getObject(ctx, key)
			if err != nil {
				return nil, err
			}
			if rec == nil || !matchesFilter(rec, filter) {
				continue
			}
			matched = append(matched, rec)
		}
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
func (s *S3) FindOne(ctx context.Context, resource, id string) (map[string]any, error) {
	return s.getObject(ctx, s.recordKey(resource, id))
}

// Create stores a new record, assigning a UUID id when the data carries
// none.
func (s *S3) Create(ctx context.Context, resource string, data map[string]any) (map[string]any, error) {
	rec := cloneRecord(data)
	id, ok := RecordID(rec)
	if !ok {
		id = uuid.New().String()
		rec["id"] = id
	}
	existing, err := s.FindOne(ctx, resource, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("record %s/%s already exists", resource, id)
	}
	if err := s.putObject(ctx, s.recordKey(resource, id), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update merges data into the stored record and writes it back.
func (s *S3) Update(ctx context.Context, resource, id string, data map[string]any) (map[string]any, error) {
	existing, err := s.FindOne(ctx, resource, id)
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
	if err := s.putObject(ctx, s.recordKey(resource, id), existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// Delete removes the record object, reporting whether it existed.
func (s *S3) Delete(ctx context.Context, resource, id string) (bool, error) {
	existing, err := s.FindOne(ctx, resource, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.recordKey(resource, id)),
	})
	if err != nil {
		return false, fmt.Errorf("s3 delete %s/%s: %w", resource, id, err)
	}
	return true, nil
}

// ObjectSchema returns the schema stored via SetSchema, or (nil, nil).
func (s *S3) ObjectSchema(ctx context.Context, resource string) (map[string]any, error) {
	return s.getObject(ctx, s.schemaKey(resource))
}
