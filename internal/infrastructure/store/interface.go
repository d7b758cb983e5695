package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/supply-marketplace/internal/apperr"
)

var (
	ErrNotFound      = fmt.Errorf("document %w", apperr.ErrNotFound)
	ErrConflict      = fmt.Errorf("document version %w", apperr.ErrConflict)
	ErrMalformed     = fmt.Errorf("malformed document")
	ErrTooManyWrites = fmt.Errorf("%w: too many writes in one commit", apperr.ErrValidation)
)

// MaxCommitWrites is the most writes one Commit accepts. It is the DynamoDB
// TransactWriteItems limit, applied to every store so they behave alike.
const MaxCommitWrites = 100

// Expected version sentinels for Write.ExpectedVersion. Any positive value
// requires the stored document to be at exactly that version.
const (
	AnyVersion   int64 = 0
	MustNotExist int64 = -1
)

// Document is a stored JSON document. Version starts at 1 and is incremented
// by the store on every write; UpdatedAt is assigned by the store.
type Document struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	Version    int64           `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Filter is an equality match on a top-level document field.
type Filter struct {
	Field string
	Value any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

type WriteOp int

const (
	OpPut WriteOp = iota
	OpDelete
)

// Write is one conditional mutation inside a Commit.
type Write struct {
	Op              WriteOp
	Collection      string
	ID              string
	Data            any
	ExpectedVersion int64
}

func PutWrite(collection, id string, data any, expectedVersion int64) Write {
	return Write{Op: OpPut, Collection: collection, ID: id, Data: data, ExpectedVersion: expectedVersion}
}

func DeleteWrite(collection, id string, expectedVersion int64) Write {
	return Write{Op: OpDelete, Collection: collection, ID: id, ExpectedVersion: expectedVersion}
}

// Store is the document database used by every domain service.
//
// Commit applies all writes or none. If any write's ExpectedVersion does not
// match the stored document, Commit returns ErrConflict and nothing is applied.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	Put(ctx context.Context, collection, id string, data any) (*Document, error)
	Delete(ctx context.Context, collection, id string) error
	Commit(ctx context.Context, writes ...Write) error
}

func checkCommitSize(writes []Write) error {
	if len(writes) > MaxCommitWrites {
		return fmt.Errorf("%w: %d > %d", ErrTooManyWrites, len(writes), MaxCommitWrites)
	}
	return nil
}

func checkExpectation(w Write, exists bool, current int64) error {
	switch {
	case w.ExpectedVersion == AnyVersion:
		return nil
	case w.ExpectedVersion == MustNotExist:
		if exists {
			return fmt.Errorf("%w: %s/%s already exists", ErrConflict, w.Collection, w.ID)
		}
	default:
		if !exists || current != w.ExpectedVersion {
			return fmt.Errorf("%w: %s/%s expected version %d, found %d", ErrConflict, w.Collection, w.ID, w.ExpectedVersion, current)
		}
	}
	return nil
}

func encode(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return b, nil
}
