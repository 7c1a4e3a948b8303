package datasource

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQL is a data source over database/sql. Each resource maps to a table
// `(id TEXT PRIMARY KEY, doc TEXT NOT NULL)` holding the record as a JSON
// document; tables are created on first use. The same implementation serves
// SQLite and Postgres, differing only in placeholder style.
type SQL struct {
	db       *sql.DB
	postgres bool

	mu       sync.Mutex
	migrated map[string]bool
	schemas  map[string]map[string]any
}

var resourceNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// OpenSQLite opens a SQLite-backed data source (driver modernc.org/sqlite).
func OpenSQLite(dsn string) (*SQL, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return NewSQL(db, false), nil
}

// OpenPostgres opens a Postgres-backed data source (driver lib/pq).
func OpenPostgres(dsn string) (*SQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewSQL(db, true), nil
}

// NewSQL wraps an existing database handle. postgres selects $n
// placeholders instead of ?.
func NewSQL(db *sql.DB, postgres bool) *SQL {
	return &SQL{
		db:       db,
		postgres: postgres,
		migrated: make(map[string]bool),
		schemas:  make(map[string]map[string]any),
	}
}

// Close closes the underlying database handle.
func (s *SQL) Close() error {
	return s.db.Close()
}

// SetSchema registers the schema document returned by ObjectSchema. The SQL
// source stores records as opaque JSON and does not validate against it.
func (s *SQL) SetSchema(resource string, rawSchema []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(rawSchema, &doc); err != nil {
		return fmt.Errorf("schema for %q: %w", resource, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[resource] = doc
	return nil
}

func (s *SQL) placeholder(n int) string {
	if s.postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQL) table(ctx context.Context, resource string) (string, error) {
	if !resourceNameRe.MatchString(resource) {
		return "", fmt.Errorf("invalid resource name %q", resource)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.migrated[resource] {
		return resource, nil
	}
	query := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc TEXT NOT NULL)`, resource)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return "", fmt.Errorf("migrate %q: %w", resource, err)
	}
	s.migrated[resource] = true
	return resource, nil
}

func decodeDoc(raw []byte) (map[string]any, error) {
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// Find returns all records for a resource ordered by id. Filtering is
// applied in memory after the scan; Total is the filtered count before
// pagination.
func (s *SQL) Find(ctx context.Context, resource string, params map[string]any) (*FindResult, error) {
	table, err := s.table(ctx, resource)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT doc FROM %s ORDER BY id`, table))
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", resource, err)
	}
	defer rows.Close()

	var filter map[string]any
	if params != nil {
		filter, _ = params["filter"].(map[string]any)
	}

	var matched []map[string]any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("find %q: %w", resource, err)
		}
		rec, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		if matchesFilter(rec, filter) {
			matched = append(matched, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find %q: %w", resource, err)
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
func (s *SQL) FindOne(ctx context.Context, resource, id string) (map[string]any, error) {
	table, err := s.table(ctx, resource)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT doc FROM %s WHERE id = %s`, table, s.placeholder(1))
	var raw []byte
	err = s.db.QueryRowContext(ctx, query, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("findOne %s/%s: %w", resource, id, err)
	}
	return decodeDoc(raw)
}

// Create inserts a record, assigning a UUID id when the data carries none.
func (s *SQL) Create(ctx context.Context, resource string, data map[string]any) (map[string]any, error) {
	table, err := s.table(ctx, resource)
	if err != nil {
		return nil, err
	}
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
	query := fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES (%s, %s)`,
		table, s.placeholder(1), s.placeholder(2))
	if _, err := s.db.ExecContext(ctx, query, id, string(raw)); err != nil {
		return nil, fmt.Errorf("create %s/%s: %w", resource, id, err)
	}
	return rec, nil
}

// Update merges data into the stored record and writes it back.
func (s *SQL) Update(ctx context.Context, resource, id string, data map[string]any) (map[string]any, error) {
	table, err := s.table(ctx, resource)
	if err != nil {
		return nil, err
	}
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
	raw, err := json.Marshal(existing)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET doc = %s WHERE id = %s`,
		table, s.placeholder(1), s.placeholder(2))
	if _, err := s.db.ExecContext(ctx, query, string(raw), id); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", resource, id, err)
	}
	return existing, nil
}

// Delete removes the record, reporting whether a row was deleted.
func (s *SQL) Delete(ctx context.Context, resource, id string) (bool, error) {
	table, err := s.table(ctx, resource)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, table, s.placeholder(1))
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", resource, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", resource, id, err)
	}
	return n > 0, nil
}

// ObjectSchema returns the schema registered via SetSchema, or (nil, nil).
func (s *SQL) ObjectSchema(ctx context.Context, resource string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schema, ok := s.schemas[resource]
	if !ok {
		return nil, nil
	}
	return cloneRecord(schema), nil
}
