package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps documents in process. When a snapshot path is set every
// write rewrites the snapshot file so a restart can pick the data up again; a
// write whose snapshot fails is rolled back and reported.
type MemoryStore struct {
	mu           sync.RWMutex
	collections  map[string]map[string]map[string]json.RawMessage
	unique       map[string][]string
	snapshotPath string
	idGen        func() string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: map[string]map[string]map[string]json.RawMessage{},
		unique:      map[string][]string{},
		idGen:       uuid.NewString,
	}
}

// NewMemoryStoreFromPath loads the snapshot at path when it exists and keeps
// writing to it. An empty path gives a purely in-memory store.
func NewMemoryStoreFromPath(path string) (*MemoryStore, error) {
	s := NewMemoryStore()
	if path == "" {
		return s, nil
	}
	s.snapshotPath = path
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s.collections); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return s, nil
}

func (s *MemoryStore) collection(name string) map[string]map[string]json.RawMessage {
	c := s.collections[name]
	if c == nil {
		c = map[string]map[string]json.RawMessage{}
		s.collections[name] = c
	}
	return c
}

func (s *MemoryStore) Create(_ context.Context, collection string, doc any) (string, error) {
	fields, err := toFields(doc)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.idGen()
	body, err := merge(nil, fields, id)
	if err != nil {
		return "", err
	}
	stored := map[string]json.RawMessage{}
	_ = json.Unmarshal(body, &stored)
	if err := s.checkUniqueLocked(collection, id, stored); err != nil {
		return "", err
	}
	c := s.collection(collection)
	c[id] = stored
	if err := s.persistLocked(); err != nil {
		delete(c, id)
		return "", err
	}
	return id, nil
}

func (s *MemoryStore) Upsert(_ context.Context, collection, id string, doc any) error {
	if id == "" {
		return errors.New("upsert: empty id")
	}
	fields, err := toFields(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(collection)
	prev, existed := c[id]
	base := map[string]json.RawMessage{}
	for k, v := range prev {
		base[k] = v
	}
	body, err := merge(base, fields, id)
	if err != nil {
		return err
	}
	stored := map[string]json.RawMessage{}
	_ = json.Unmarshal(body, &stored)
	if err := s.checkUniqueLocked(collection, id, stored); err != nil {
		return err
	}
	c[id] = stored
	if err := s.persistLocked(); err != nil {
		if existed {
			c[id] = prev
		} else {
			delete(c, id)
		}
		return err
	}
	return nil
}

// EnsureUniqueIndex makes later writes fail with ErrDuplicate when another
// document of collection already holds the same value of field.
func (s *MemoryStore) EnsureUniqueIndex(_ context.Context, collection, field string) error {
	if err := checkIndexName(collection, field); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.unique[collection] {
		if f == field {
			return nil
		}
	}
	s.unique[collection] = append(s.unique[collection], field)
	return nil
}

func (s *MemoryStore) checkUniqueLocked(collection, id string, fields map[string]json.RawMessage) error {
	for _, field := range s.unique[collection] {
		want, ok := fields[field]
		if !ok || string(want) == "null" {
			continue
		}
		for otherID, other := range s.collections[collection] {
			if otherID != id && string(other[field]) == string(want) {
				return fmt.Errorf("%w: %s.%s = %s", ErrDuplicate, collection, field, want)
			}
		}
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return jsonDocument{id: id, body: body}, nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, filter Filter) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for id, fields := range s.collections[collection] {
		if !matches(fields, filter) {
			continue
		}
		body, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, jsonDocument{id: id, body: body})
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// Collections lists the names of every collection holding documents.
func (s *MemoryStore) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name, docs := range s.collections {
		if len(docs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// persistLocked writes the snapshot through a temp file and rename.
func (s *MemoryStore) persistLocked() error {
	if s.snapshotPath == "" {
		return nil
	}
	b, err := json.Marshal(s.collections)
	if err != nil {
		return s.snapshotErr("encode snapshot", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		return s.snapshotErr("create snapshot dir", err)
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return s.snapshotErr("write snapshot", err)
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return s.snapshotErr("replace snapshot", err)
	}
	return nil
}

func (s *MemoryStore) snapshotErr(step string, err error) error {
	log.Printf("memory store: %s: %v", step, err)
	return fmt.Errorf("%s %s: %w", step, s.snapshotPath, err)
}
