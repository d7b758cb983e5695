package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestMapPostgresError(t *testing.T) {
	dup := &pq.Error{Code: uniqueViolation, Message: `duplicate key value violates unique constraint "documents_pkey"`}
	other := &pq.Error{Code: "40P01", Message: "deadlock detected"}
	plain := errors.New("connection refused")

	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"unique violation", dup, true},
		{"wrapped unique violation", fmt.Errorf("exec: %w", dup), true},
		{"other postgres error", other, false},
		{"driver error", plain, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapPostgresError(tt.err)
			if tt.conflict {
				assert.ErrorIs(t, got, ErrConflict)
				assert.True(t, apperr.Retryable(got))
				return
			}
			assert.Same(t, tt.err, got)
		})
	}
}

func TestPostgresStore_Commit_TooManyWrites(t *testing.T) {
	s := NewPostgresStore(nil)
	writes := make([]Write, MaxCommitWrites+1)
	for i := range writes {
		writes[i] = PutWrite("items", fmt.Sprintf("i-%d", i), testItem{Owner: "u1"}, AnyVersion)
	}

	err := s.Commit(context.Background(), writes...)

	assert.ErrorIs(t, err, ErrTooManyWrites)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
