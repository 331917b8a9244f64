package contentstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(collection, created_at);
`

// SQLiteStore persists documents as JSON in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the documents table exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Find returns documents matching q.
func (s *SQLiteStore) Find(ctx context.Context, collection string, q Query) (FindResult, error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.Find",
		trace.WithAttributes(attribute.String("store.collection", collection)),
	)
	defer span.End()

	if err := checkQuery("find", collection, q); err != nil {
		return FindResult{}, err
	}

	where, args := sqliteWhere(collection, q.Where)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents"+where, args...).Scan(&total); err != nil {
		return FindResult{}, &Error{Op: "find", Collection: collection, Kind: ErrUnavailable, Err: err}
	}

	var b strings.Builder
	b.WriteString("SELECT id, data, created_at, updated_at FROM documents")
	b.WriteString(where)
	switch q.Sort.Field {
	case "":
		b.WriteString(" ORDER BY rowid")
	case KeyCreatedAt:
		b.WriteString(" ORDER BY created_at" + direction(q.Sort.Desc) + ", rowid" + direction(q.Sort.Desc))
	case KeyUpdatedAt:
		b.WriteString(" ORDER BY updated_at" + direction(q.Sort.Desc) + ", rowid" + direction(q.Sort.Desc))
	default:
		b.WriteString(" ORDER BY json_extract(data, ?)" + direction(q.Sort.Desc) + ", rowid" + direction(q.Sort.Desc))
		args = append(args, "$."+q.Sort.Field)
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return FindResult{}, &Error{Op: "find", Collection: collection, Kind: ErrUnavailable, Err: err}
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
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

// Create inserts a new document and returns it with its assigned ID and timestamps.
func (s *SQLiteStore) Create(ctx context.Context, collection string, data Document) (Document, error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.Create",
		trace.WithAttributes(attribute.String("store.collection", collection)),
	)
	defer span.End()

	body := payload(data)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Op: "create", Collection: collection, Kind: ErrInvalid, Err: err}
	}

	id := uuid.Must(uuid.NewV7()).String()
	ts := now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?,?,?,?,?)`,
		collection, id, string(raw), ts, ts,
	)
	if err != nil {
		return nil, &Error{Op: "create", Collection: collection, Kind: ErrUnavailable, Err: err}
	}

	doc, err := decodeData(raw)
	if err != nil {
		return nil, &Error{Op: "create", Collection: collection, Kind: ErrInvalid, Err: err}
	}
	span.SetAttributes(attribute.String("store.id", id))
	return stamp(doc, id, ts, ts), nil
}

// Update merges data into an existing document inside a transaction.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, data Document) (Document, error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.Update",
		trace.WithAttributes(attribute.String("store.collection", collection), attribute.String("store.id", id)),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &Error{Op: "update", Collection: collection, ID: id, Kind: ErrUnavailable, Err: err}
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`, collection, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("store.found", false))
		return nil, &Error{Op: "update", Collection: collection, ID: id, Kind: ErrNotFound}
	}
	if err != nil {
		return nil, &Error{Op: "update", Collection: collection, ID: id, Kind: ErrUnavailable, Err: err}
	}

	merged := payload(doc)
	for k, v := range payload(data) {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, &Error{Op: "update", Collection: collection, ID: id, Kind: ErrInvalid, Err: err}
	}

	ts := now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(raw), ts, collection, id,
	); err != nil {
		return nil, &Error{Op: "update", Collection: collection, ID: id, Kind: ErrUnavailable, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &Error{Op: "update", Collection: collection, ID: id, Kind: ErrUnavailable, Err: err}
	}

	out, err := decodeData(raw)
	if err != nil {
		return nil, &Error{Op: "update", Collection: collection, ID: id, Kind: ErrInvalid, Err: err}
	}
	span.SetAttributes(attribute.Bool("store.found", true))
	return stamp(out, id, doc[KeyCreatedAt].(time.Time), ts), nil
}

// Delete removes a document by ID.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	ctx, span := tracer.Start(ctx, "SQLiteStore.Delete",
		trace.WithAttributes(attribute.String("store.collection", collection), attribute.String("store.id", id)),
	)
	defer span.End()

	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", collection, id)
	if err != nil {
		return &Error{Op: "delete", Collection: collection, ID: id, Kind: ErrUnavailable, Err: err}
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return &Error{Op: "delete", Collection: collection, ID: id, Kind: ErrUnavailable, Err: err}
	}
	if rows == 0 {
		span.SetAttributes(attribute.Bool("store.found", false))
		return &Error{Op: "delete", Collection: collection, ID: id, Kind: ErrNotFound}
	}
	return nil
}

// Count returns the number of documents matching where.
func (s *SQLiteStore) Count(ctx context.Context, collection string, where map[string]string) (int, error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.Count",
		trace.WithAttributes(attribute.String("store.collection", collection)),
	)
	defer span.End()

	if err := checkQuery("count", collection, Query{Where: where}); err != nil {
		return 0, err
	}
	clause, args := sqliteWhere(collection, where)

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents"+clause, args...).Scan(&n); err != nil {
		return 0, &Error{Op: "count", Collection: collection, Kind: ErrUnavailable, Err: err}
	}
	return n, nil
}

// CountBy groups the collection by a JSON field in one query.
func (s *SQLiteStore) CountBy(ctx context.Context, collection, field string) (map[string]int, error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.CountBy",
		trace.WithAttributes(attribute.String("store.collection", collection), attribute.String("store.field", field)),
	)
	defer span.End()

	if err := checkField("count", collection, field); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT json_extract(data, ?), COUNT(*) FROM documents WHERE collection = ? GROUP BY 1`,
		"$."+field, collection)
	if err != nil {
		return nil, &Error{Op: "count", Collection: collection, Kind: ErrUnavailable, Err: err}
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key sql.NullString
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, &Error{Op: "count", Collection: collection, Kind: ErrUnavailable, Err: err}
		}
		out[key.String] += n
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "count", Collection: collection, Kind: ErrUnavailable, Err: err}
	}
	return out, nil
}

// sqliteWhere builds the WHERE clause. Field paths are bound as parameters;
// field names were already checked against fieldPattern.
func sqliteWhere(collection string, where map[string]string) (string, []any) {
	var b strings.Builder
	b.WriteString(" WHERE collection = ?")
	args := []any{collection}
	for _, field := range sortedKeys(where) {
		if field == KeyID {
			b.WriteString(" AND id = ?")
			args = append(args, where[field])
			continue
		}
		b.WriteString(" AND json_extract(data, ?) = ?")
		args = append(args, "$."+field, where[field])
	}
	return b.String(), args
}

// scanner abstracts sql.Row and sql.Rows for scanDocument.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (Document, error) {
	var id, raw string
	var created, updated time.Time
	if err := s.Scan(&id, &raw, &created, &updated); err != nil {
		return nil, err
	}
	doc, err := decodeData([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return stamp(doc, id, created.UTC(), updated.UTC()), nil
}

func decodeData(raw []byte) (Document, error) {
	doc := Document{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func direction(desc bool) string {
	if desc {
		return " DESC"
	}
	return " ASC"
}
