package contentstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/kaiju-planner/internal/contentstore")

type memoryEntry struct {
	doc Document
	seq uint64
}

// MemoryStore provides in-memory storage for documents.
type MemoryStore struct {
	mu          sync.RWMutex
	seq         uint64
	collections map[string]map[string]*memoryEntry
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]*memoryEntry),
	}
}

// Find returns documents matching q.
func (s *MemoryStore) Find(ctx context.Context, collection string, q Query) (FindResult, error) {
	_, span := tracer.Start(ctx, "MemoryStore.Find",
		trace.WithAttributes(attribute.String("store.collection", collection)),
	)
	defer span.End()

	if err := checkQuery("find", collection, q); err != nil {
		return FindResult{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*memoryEntry
	for _, e := range s.collections[collection] {
		if matches(e.doc, q.Where) {
			matched = append(matched, e)
		}
	}
	sortEntries(matched, q.Sort)

	total := len(matched)
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	docs := make([]Document, 0, len(matched))
	for _, e := range matched {
		docs = append(docs, clone(e.doc))
	}

	span.SetAttributes(attribute.Int("store.total_docs", total))
	return FindResult{Docs: docs, TotalDocs: total}, nil
}

// Create adds a new document to the collection.
func (s *MemoryStore) Create(ctx context.Context, collection string, data Document) (Document, error) {
	_, span := tracer.Start(ctx, "MemoryStore.Create",
		trace.WithAttributes(attribute.String("store.collection", collection)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	doc := stamp(payload(data), uuid.Must(uuid.NewV7()).String(), ts, ts)

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]*memoryEntry)
		s.collections[collection] = coll
	}
	s.seq++
	coll[doc.ID()] = &memoryEntry{doc: doc, seq: s.seq}

	span.SetAttributes(attribute.String("store.id", doc.ID()))
	return clone(doc), nil
}

// Update merges data into an existing document.
func (s *MemoryStore) Update(ctx context.Context, collection, id string, data Document) (Document, error) {
	_, span := tracer.Start(ctx, "MemoryStore.Update",
		trace.WithAttributes(attribute.String("store.collection", collection), attribute.String("store.id", id)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.collections[collection][id]
	if !ok {
		span.SetAttributes(attribute.Bool("store.found", false))
		return nil, &Error{Op: "update", Collection: collection, ID: id, Kind: ErrNotFound}
	}

	for k, v := range payload(data) {
		if v == nil {
			delete(e.doc, k)
			continue
		}
		e.doc[k] = v
	}
	e.doc[KeyUpdatedAt] = now()

	span.SetAttributes(attribute.Bool("store.found", true))
	return clone(e.doc), nil
}

// Delete removes a document from the collection.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	_, span := tracer.Start(ctx, "MemoryStore.Delete",
		trace.WithAttributes(attribute.String("store.collection", collection), attribute.String("store.id", id)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection][id]; !ok {
		span.SetAttributes(attribute.Bool("store.found", false))
		return &Error{Op: "delete", Collection: collection, ID: id, Kind: ErrNotFound}
	}

	delete(s.collections[collection], id)
	span.SetAttributes(attribute.Bool("store.found", true))
	return nil
}

// Count returns the number of documents matching where.
func (s *MemoryStore) Count(ctx context.Context, collection string, where map[string]string) (int, error) {
	_, span := tracer.Start(ctx, "MemoryStore.Count",
		trace.WithAttributes(attribute.String("store.collection", collection)),
	)
	defer span.End()

	if err := checkQuery("count", collection, Query{Where: where}); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.collections[collection] {
		if matches(e.doc, where) {
			n++
		}
	}
	return n, nil
}

// CountBy groups the collection by field in a single pass under one lock.
func (s *MemoryStore) CountBy(ctx context.Context, collection, field string) (map[string]int, error) {
	_, span := tracer.Start(ctx, "MemoryStore.CountBy",
		trace.WithAttributes(attribute.String("store.collection", collection), attribute.String("store.field", field)),
	)
	defer span.End()

	if err := checkField("count", collection, field); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int)
	for _, e := range s.collections[collection] {
		out[asString(e.doc[field])]++
	}
	return out, nil
}

func matches(doc Document, where map[string]string) bool {
	for k, want := range where {
		if asString(doc[k]) != want {
			return false
		}
	}
	return true
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func sortEntries(entries []*memoryEntry, by Sort) {
	if by.Field == "" {
		slices.SortFunc(entries, func(a, b *memoryEntry) int { return cmp.Compare(a.seq, b.seq) })
		return
	}
	slices.SortFunc(entries, func(a, b *memoryEntry) int {
		c := compareValues(a.doc[by.Field], b.doc[by.Field])
		if c == 0 {
			c = cmp.Compare(a.seq, b.seq)
		}
		if by.Desc {
			return -c
		}
		return c
	})
}

func compareValues(a, b any) int {
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	}
	return cmp.Compare(asString(a), asString(b))
}

func clone(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
