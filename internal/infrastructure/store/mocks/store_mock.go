package mocks

import (
	"context"
	"sync"

	"github.com/example/supply-marketplace/internal/infrastructure/store"
)

// MockStore is an in-memory store.Store that records calls and can be told
// to fail, for testing.
type MockStore struct {
	*store.MemoryStore

	mu sync.Mutex

	// For tracking calls in tests
	CommitCalls [][]store.Write
	PutCalls    []PutCall

	GetErr   error
	QueryErr error
	PutErr   error
	// CommitErr is returned by every Commit while set.
	CommitErr error
	// CommitCallback runs before the commit is applied; a non-nil error aborts it.
	CommitCallback func(ctx context.Context, writes []store.Write) error
}

// PutCall records parameters passed to Put
type PutCall struct {
	Collection string
	ID         string
	Data       any
}

// NewMockStore creates a new MockStore
func NewMockStore() *MockStore {
	return &MockStore{MemoryStore: store.NewMemoryStore()}
}

func (m *MockStore) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	if err := m.err(&m.GetErr); err != nil {
		return nil, err
	}
	return m.MemoryStore.Get(ctx, collection, id)
}

func (m *MockStore) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	if err := m.err(&m.QueryErr); err != nil {
		return nil, err
	}
	return m.MemoryStore.Query(ctx, q)
}

func (m *MockStore) Put(ctx context.Context, collection, id string, data any) (*store.Document, error) {
	m.mu.Lock()
	m.PutCalls = append(m.PutCalls, PutCall{Collection: collection, ID: id, Data: data})
	putErr := m.PutErr
	m.mu.Unlock()

	if putErr != nil {
		return nil, putErr
	}
	return m.MemoryStore.Put(ctx, collection, id, data)
}

func (m *MockStore) Commit(ctx context.Context, writes ...store.Write) error {
	m.mu.Lock()
	m.CommitCalls = append(m.CommitCalls, writes)
	commitErr := m.CommitErr
	callback := m.CommitCallback
	m.mu.Unlock()

	if callback != nil {
		if err := callback(ctx, writes); err != nil {
			return err
		}
	}
	if commitErr != nil {
		return commitErr
	}
	return m.MemoryStore.Commit(ctx, writes...)
}

// Seed stores data directly, bypassing call recording.
func (m *MockStore) Seed(collection, id string, data any) {
	if _, err := m.MemoryStore.Put(context.Background(), collection, id, data); err != nil {
		panic(err)
	}
}

// CommitCount returns how many times Commit was called.
func (m *MockStore) CommitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CommitCalls)
}

// Reset clears recorded calls and failure hooks
func (m *MockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommitCalls = nil
	m.PutCalls = nil
	m.GetErr = nil
	m.QueryErr = nil
	m.PutErr = nil
	m.CommitErr = nil
	m.CommitCallback = nil
}

func (m *MockStore) err(field *error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *field
}
