package store

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	Owner    string    `json:"owner" validate:"required"`
	Quantity int       `json:"quantity" validate:"gte=0"`
	AddedAt  time.Time `json:"addedAt"`
}

// ============================================
// Get / Put / Delete
// ============================================

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc, err := s.Put(ctx, "items", "a", testItem{Owner: "u1", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)

	doc, err = s.Put(ctx, "items", "a", testItem{Owner: "u1", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)

	got, err := s.Get(ctx, "items", "a")
	require.NoError(t, err)
	item, err := Decode[testItem](got)
	require.NoError(t, err)
	assert.Equal(t, 3, item.Quantity)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "items", "missing")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Put(ctx, "items", "a", testItem{Owner: "u1"})

	require.NoError(t, s.Delete(ctx, "items", "a"))
	require.NoError(t, s.Delete(ctx, "items", "a"))

	_, err := s.Get(ctx, "items", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

// ============================================
// Query
// ============================================

func TestMemoryStore_QueryFilterOrderLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _ = s.Put(ctx, "items", "a", testItem{Owner: "u1", Quantity: 1, AddedAt: base.Add(2 * time.Second)})
	_, _ = s.Put(ctx, "items", "b", testItem{Owner: "u1", Quantity: 2, AddedAt: base.Add(500 * time.Millisecond)})
	_, _ = s.Put(ctx, "items", "c", testItem{Owner: "u2", Quantity: 3, AddedAt: base})
	_, _ = s.Put(ctx, "items", "d", testItem{Owner: "u1", Quantity: 4, AddedAt: base.Add(time.Second)})

	docs, err := s.Query(ctx, Query{
		Collection: "items",
		Filters:    []Filter{Eq("owner", "u1")},
		OrderBy:    "addedAt",
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"b", "d", "a"}, ids(docs))

	docs, err = s.Query(ctx, Query{
		Collection: "items",
		Filters:    []Filter{Eq("owner", "u1")},
		OrderBy:    "addedAt",
		Desc:       true,
		Limit:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d"}, ids(docs))
}

func TestMemoryStore_QueryNumericOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Put(ctx, "items", "x", testItem{Owner: "u", Quantity: 10})
	_, _ = s.Put(ctx, "items", "y", testItem{Owner: "u", Quantity: 9})

	docs, err := s.Query(ctx, Query{Collection: "items", OrderBy: "quantity"})

	require.NoError(t, err)
	assert.Equal(t, []string{"y", "x"}, ids(docs))
}

// ============================================
// Commit
// ============================================

func TestMemoryStore_CommitAtomic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	doc, _ := s.Put(ctx, "items", "a", testItem{Owner: "u1"})

	err := s.Commit(ctx,
		PutWrite("items", "b", testItem{Owner: "u2"}, MustNotExist),
		PutWrite("items", "a", testItem{Owner: "u1", Quantity: 5}, doc.Version+1),
	)
	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, apperr.Retryable(err))

	_, err = s.Get(ctx, "items", "b")
	assert.ErrorIs(t, err, ErrNotFound, "no write may be applied when one expectation fails")

	err = s.Commit(ctx,
		PutWrite("items", "b", testItem{Owner: "u2"}, MustNotExist),
		DeleteWrite("items", "a", doc.Version),
	)
	require.NoError(t, err)

	_, err = s.Get(ctx, "items", "a")
	assert.ErrorIs(t, err, ErrNotFound)
	b, err := s.Get(ctx, "items", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Version)
}

func TestMemoryStore_CommitSizeLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	writes := make([]Write, MaxCommitWrites+1)
	for i := range writes {
		writes[i] = PutWrite("items", "item-"+strconv.Itoa(i), testItem{Owner: "u1"}, MustNotExist)
	}

	err := s.Commit(ctx, writes...)
	assert.ErrorIs(t, err, ErrTooManyWrites)
	_, err = s.Get(ctx, "items", "item-0")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Commit(ctx, writes[:MaxCommitWrites]...))
}

func TestMemoryStore_CommitCompareAndSwapConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	doc, _ := s.Put(ctx, "counters", "c", testItem{Owner: "u"})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Commit(ctx, PutWrite("counters", "c", testItem{Owner: "u", Quantity: 1}, doc.Version)); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

// ============================================
// Decode
// ============================================

func TestDecode_FailsClosed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown field", `{"owner":"u1","quantity":1,"extra":true}`},
		{"wrong type", `{"owner":"u1","quantity":"one"}`},
		{"validation", `{"owner":"","quantity":1}`},
		{"negative", `{"owner":"u1","quantity":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode[testItem](&Document{Collection: "items", ID: "a", Data: json.RawMessage(tt.data)})
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
