// Package contentstore defines the document-collection contract the task
// planner persists through, plus in-memory, SQLite and PostgreSQL backends.
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"
)

// Reserved document keys. They are assigned by the store and any value a
// caller supplies for them is ignored.
const (
	KeyID        = "id"
	KeyCreatedAt = "createdAt"
	KeyUpdatedAt = "updatedAt"
)

// Document is a single record in a collection.
type Document map[string]any

// ID returns the document identifier, or "" if it has not been persisted.
func (d Document) ID() string {
	id, _ := d[KeyID].(string)
	return id
}

// Sort orders Find results by one field.
type Sort struct {
	Field string
	Desc  bool
}

// Query selects documents by exact string equality on top-level fields.
type Query struct {
	Where map[string]string
	Sort  Sort
	Limit int
}

// FindResult holds one page of documents and the number of matches before
// the limit was applied.
type FindResult struct {
	Docs      []Document
	TotalDocs int
}

// Store is the contract for document persistence.
type Store interface {
	Find(ctx context.Context, collection string, q Query) (FindResult, error)
	Create(ctx context.Context, collection string, data Document) (Document, error)
	// Update merges data into the stored document (shallow, top-level keys).
	// A nil value removes the key.
	Update(ctx context.Context, collection, id string, data Document) (Document, error)
	Delete(ctx context.Context, collection, id string) error
	Count(ctx context.Context, collection string, where map[string]string) (int, error)
}

// Aggregator is implemented by stores that can count a whole collection
// grouped by one field in a single query.
type Aggregator interface {
	CountBy(ctx context.Context, collection, field string) (map[string]int, error)
}

// Error kinds. Use errors.Is against these to classify a store failure.
var (
	ErrNotFound    = errors.New("document not found")
	ErrInvalid     = errors.New("invalid request")
	ErrUnavailable = errors.New("content store unavailable")
)

// Error describes a failed store operation.
type Error struct {
	Op         string
	Collection string
	ID         string
	Kind       error
	Err        error
}

func (e *Error) Error() string {
	msg := e.Op + " " + e.Collection
	if e.ID != "" {
		msg += "/" + e.ID
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkQuery(op, collection string, q Query) error {
	for field := range q.Where {
		if !fieldPattern.MatchString(field) {
			return &Error{Op: op, Collection: collection, Kind: ErrInvalid, Err: fmt.Errorf("bad field name %q", field)}
		}
	}
	if q.Sort.Field != "" && !fieldPattern.MatchString(q.Sort.Field) {
		return &Error{Op: op, Collection: collection, Kind: ErrInvalid, Err: fmt.Errorf("bad sort field %q", q.Sort.Field)}
	}
	if q.Limit < 0 {
		return &Error{Op: op, Collection: collection, Kind: ErrInvalid, Err: fmt.Errorf("negative limit %d", q.Limit)}
	}
	return nil
}

func checkField(op, collection, field string) error {
	if !fieldPattern.MatchString(field) {
		return &Error{Op: op, Collection: collection, Kind: ErrInvalid, Err: fmt.Errorf("bad field name %q", field)}
	}
	return nil
}

// payload strips the reserved keys from caller data.
func payload(data Document) Document {
	out := make(Document, len(data))
	for k, v := range data {
		switch k {
		case KeyID, KeyCreatedAt, KeyUpdatedAt:
			continue
		}
		out[k] = v
	}
	return out
}

func stamp(doc Document, id string, created, updated time.Time) Document {
	doc[KeyID] = id
	doc[KeyCreatedAt] = created
	doc[KeyUpdatedAt] = updated
	return doc
}

// now truncates to microseconds so timestamps survive a PostgreSQL round trip.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
