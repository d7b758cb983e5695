package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*Document // collection -> id -> document
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]*Document),
		now:  time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.data[collection][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []Document
	for _, doc := range s.data[q.Collection] {
		if matches(doc.Data, q.Filters) {
			docs = append(docs, *doc)
		}
	}
	if q.OrderBy == "" {
		q.OrderBy = "id"
	}
	return orderAndLimit(docs, q), nil
}

func (s *MemoryStore) Put(ctx context.Context, collection, id string, data any) (*Document, error) {
	raw, err := encode(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(collection, id, raw), nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data[collection], id)
	return nil
}

func (s *MemoryStore) Commit(ctx context.Context, writes ...Write) error {
	if err := checkCommitSize(writes); err != nil {
		return err
	}
	encoded := make([][]byte, len(writes))
	for i, w := range writes {
		if w.Op != OpPut {
			continue
		}
		raw, err := encode(w.Data)
		if err != nil {
			return err
		}
		encoded[i] = raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range writes {
		var current int64
		doc, exists := s.data[w.Collection][w.ID]
		if exists {
			current = doc.Version
		}
		if err := checkExpectation(w, exists, current); err != nil {
			return err
		}
	}

	for i, w := range writes {
		switch w.Op {
		case OpPut:
			s.put(w.Collection, w.ID, encoded[i])
		case OpDelete:
			delete(s.data[w.Collection], w.ID)
		}
	}
	return nil
}

func (s *MemoryStore) put(collection, id string, raw []byte) *Document {
	if s.data[collection] == nil {
		s.data[collection] = make(map[string]*Document)
	}
	var version int64 = 1
	if prev, ok := s.data[collection][id]; ok {
		version = prev.Version + 1
	}
	doc := &Document{
		Collection: collection,
		ID:         id,
		Data:       append([]byte(nil), raw...),
		Version:    version,
		UpdatedAt:  s.now(),
	}
	s.data[collection][id] = doc
	cp := *doc
	return &cp
}
