package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned by Get when no document has the id.
var ErrNotFound = errors.New("document not found")

// ErrDuplicate is returned by Create and Upsert when a write would break a
// unique index.
var ErrDuplicate = errors.New("duplicate document")

// Filter matches documents whose top-level fields equal every given value.
type Filter map[string]string

// Document is one stored record. Decode fills a struct tagged for the backend
// (json tags for memory and sqlite, bson tags for mongo).
type Document interface {
	ID() string
	Decode(into any) error
}

// DocumentStore is the persistence contract every backend implements.
// Upsert merges the top-level fields of doc into the stored document and
// creates it when absent. Query gives no ordering guarantee.
type DocumentStore interface {
	Create(ctx context.Context, collection string, doc any) (string, error)
	Upsert(ctx context.Context, collection, id string, doc any) error
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, filter Filter) ([]Document, error)
	Close() error
}

// UniqueIndexer is implemented by stores that can reject a second document
// with the same value of field within collection.
type UniqueIndexer interface {
	EnsureUniqueIndex(ctx context.Context, collection, field string) error
}

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func checkIndexName(collection, field string) error {
	if !identRe.MatchString(collection) || !identRe.MatchString(field) {
		return fmt.Errorf("invalid unique index %s.%s", collection, field)
	}
	return nil
}

type jsonDocument struct {
	id   string
	body []byte
}

func (d jsonDocument) ID() string { return d.id }

func (d jsonDocument) Decode(into any) error {
	return json.Unmarshal(d.body, into)
}

// toFields flattens doc into its top-level JSON fields.
func toFields(doc any) (map[string]json.RawMessage, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("document is not an object: %w", err)
	}
	return fields, nil
}

// merge overlays update onto base and pins the id field.
func merge(base, update map[string]json.RawMessage, id string) ([]byte, error) {
	if base == nil {
		base = map[string]json.RawMessage{}
	}
	for k, v := range update {
		base[k] = v
	}
	idJSON, _ := json.Marshal(id)
	base["id"] = idJSON
	return json.Marshal(base)
}

// matches reports whether every filter field equals the document's string
// value for it.
func matches(fields map[string]json.RawMessage, filter Filter) bool {
	for k, want := range filter {
		raw, ok := fields[k]
		if !ok {
			return false
		}
		var got string
		if err := json.Unmarshal(raw, &got); err != nil || got != want {
			return false
		}
	}
	return true
}
