package contentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PgStore is a PostgreSQL-backed document store keeping each document as JSONB.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// ConnectPg opens a connection pool for dsn and verifies it with a ping.
func ConnectPg(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// EnsureTable creates the documents table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			data       JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(collection, created_at DESC)`)
	return err
}

// Find returns documents matching q.
func (s *PgStore) Find(ctx context.Context, collection string, q Query) (FindResult, error) {
	ctx, span := tracer.Start(ctx, "PgStore.Find",
		trace.WithAttributes(attribute.String("store.collection", collection)),
	)
	defer span.End()

	if err := checkQuery("find", collection, q); err != nil {
		return FindResult{}, err
	}

	where, args := pgWhere(collection, q.Where)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents"+where, args...).Scan(&total); err != nil {
		return FindResult{}, &Error{Op: "find", Collection: collection, Kind: ErrUnavailable, Err: err}
	}

	var b strings.Builder
	b.WriteString("SELECT id, data, created_at, updated_at FROM documents")
	b.WriteString(where)
	switch q.Sort.Field {
	case "":
		b.WriteString(" ORDER BY created_at ASC, id ASC")
	case KeyCreatedAt:
		b.WriteString(" ORDER BY created_at" + direction(q.Sort.Desc) + ", id" + direction(q.Sort.Desc))
	case KeyUpdatedAt:
		b.WriteString(" ORDER BY updated_at" + direction(q.Sort.Desc) + ", id" + direction(q.Sort.Desc))
	default:
		args = append(args, q.Sort.Field)
		b.WriteString(fmt.Sprintf(" ORDER BY data->>($%d::text)%s, id%s", len(args), direction(q.Sort.Desc), direction(q.Sort.Desc)))
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		b.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return FindResult{}, &Error{Op: "find", Collection: collection, Kind: ErrUnavailable, Err: err}
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanPgDocument(rows)
		if err != nil {
			return FindResult{}, &Error{Op: "find", Collection: collection, Kind: ErrUnavailable, Err: err}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return FindResult{}, &Error{Op: "find", Collection: collection, Kind: ErrUnavailable, Err: err}
	}

	span.SetAttributes(attribute.Int("store.total_docs", total))
	return FindResult{Docs: docs, TotalDocs: total}, nil
}

// Create inserts a new document.
func (s *PgStore) Create(ctx context.Context, collection string, data Document) (Document, error) {
	ctx, span := tracer.Start(ctx, "PgStore.Create",
		trace.WithAttributes(attribute.String("store.collection", collection)),
	)
	defer span.End()

	raw, err := json.Marshal(payload(data))
	if err != nil {
		return nil, &Error{Op: "create", Collection: collection, Kind: ErrInvalid, Err: err}
	}

	id := uuid.Must(uuid.NewV7()).String()
	ts := now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $4)
		RETURNING id, data, created_at, updated_at`,
		collection, id, string(raw), ts)
	doc, err := scanPgDocument(row)
	if err != nil {
		return nil, &Error{Op: "create", Collection: collection, Kind: ErrUnavailable, Err: err}
	}
	span.SetAttributes(attribute.String("store.id", id))
	return doc, nil
}

// Update merges data into the stored document using the JSONB || operator
// and removes the keys whose value is nil with the - operator.
func (s *PgStore) Update(ctx context.Context, collection, id string, data Document) (Document, error) {
	ctx, span := tracer.Start(ctx, "PgStore.Update",
		trace.WithAttributes(attribute.String("store.collection", collection), attribute.String("store.id", id)),
	)
	defer span.End()

	set := Document{}
	drop := []string{} // a nil slice would encode as NULL and null the document
	for k, v := range payload(data) {
		if v == nil {
			drop = append(drop, k)
			continue
		}
		set[k] = v
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return nil, &Error{Op: "update", Collection: collection, ID: id, Kind: ErrInvalid, Err: err}
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE documents SET data = (data || $1::jsonb) - $5::text[], updated_at = $2
		WHERE collection = $3 AND id = $4
		RETURNING id, data, created_at, updated_at`,
		string(raw), now(), collection, id, drop)
	doc, err := scanPgDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		span.SetAttributes(attribute.Bool("store.found", false))
		return nil, &Error{Op: "update", Collection: collection, ID: id, Kind: ErrNotFound}
	}
	if err != nil {
		return nil, &Error{Op: "update", Collection: collection, ID: id, Kind: ErrUnavailable, Err: err}
	}
	span.SetAttributes(attribute.Bool("store.found", true))
	return doc, nil
}

// Delete removes a document by ID.
func (s *PgStore) Delete(ctx context.Context, collection, id string) error {
	ctx, span := tracer.Start(ctx, "PgStore.Delete",
		trace.WithAttributes(attribute.String("store.collection", collection), attribute.String("store.id", id)),
	)
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return &Error{Op: "delete", Collection: collection, ID: id, Kind: ErrUnavailable, Err: err}
	}
	if tag.RowsAffected() == 0 {
		span.SetAttributes(attribute.Bool("store.found", false))
		return &Error{Op: "delete", Collection: collection, ID: id, Kind: ErrNotFound}
	}
	return nil
}

// Count returns the number of documents matching where.
func (s *PgStore) Count(ctx context.Context, collection string, where map[string]string) (int, error) {
	ctx, span := tracer.Start(ctx, "PgStore.Count",
		trace.WithAttributes(attribute.String("store.collection", collection)),
	)
	defer span.End()

	if err := checkQuery("count", collection, Query{Where: where}); err != nil {
		return 0, err
	}
	clause, args := pgWhere(collection, where)

	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents"+clause, args...).Scan(&n); err != nil {
		return 0, &Error{Op: "count", Collection: collection, Kind: ErrUnavailable, Err: err}
	}
	return n, nil
}

// CountBy groups the collection by a top-level JSONB field in one query.
func (s *PgStore) CountBy(ctx context.Context, collection, field string) (map[string]int, error) {
	ctx, span := tracer.Start(ctx, "PgStore.CountBy",
		trace.WithAttributes(attribute.String("store.collection", collection), attribute.String("store.field", field)),
	)
	defer span.End()

	if err := checkField("count", collection, field); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT COALESCE(data->>($1::text), ''), COUNT(*) FROM documents WHERE collection = $2 GROUP BY 1`,
		field, collection)
	if err != nil {
		return nil, &Error{Op: "count", Collection: collection, Kind: ErrUnavailable, Err: err}
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, &Error{Op: "count", Collection: collection, Kind: ErrUnavailable, Err: err}
		}
		out[key] += n
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "count", Collection: collection, Kind: ErrUnavailable, Err: err}
	}
	return out, nil
}

func pgWhere(collection string, where map[string]string) (string, []any) {
	var b strings.Builder
	b.WriteString(" WHERE collection = $1")
	args := []any{collection}
	for _, field := range sortedKeys(where) {
		if field == KeyID {
			args = append(args, where[field])
			b.WriteString(fmt.Sprintf(" AND id = $%d", len(args)))
			continue
		}
		args = append(args, field, where[field])
		b.WriteString(fmt.Sprintf(" AND data->>($%d::text) = $%d", len(args)-1, len(args)))
	}
	return b.String(), args
}

func scanPgDocument(row pgx.Row) (Document, error) {
	var id string
	var raw []byte
	var created, updated time.Time
	if err := row.Scan(&id, &raw, &created, &updated); err != nil {
		return nil, err
	}
	doc, err := decodeData(raw)
	if err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return stamp(doc, id, created.UTC(), updated.UTC()), nil
}
