package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	data       JSONB       NOT NULL,
	version    BIGINT      NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (collection, id)
)`

// uniqueViolation is the PostgreSQL error code raised when two transactions
// insert the same (collection, id).
const uniqueViolation = "23505"

// PostgresStore keeps documents as JSONB rows with a version column.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ConnectPostgres opens a connection pool and verifies connectivity.
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, documentsSchema)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	doc := Document{Collection: collection, ID: id}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data, version, updated_at FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&data, &doc.Version, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, err
	}
	doc.Data = data
	return &doc, nil
}

func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Document, error) {
	containment := make(map[string]any, len(q.Filters))
	for _, f := range q.Filters {
		containment[f.Field] = f.Value
	}
	filterJSON, err := json.Marshal(containment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal filters: %w", err)
	}

	query := `SELECT id, data, version, updated_at FROM documents
		WHERE collection = $1 AND data @> $2::jsonb ORDER BY id`
	args := []any{q.Collection, string(filterJSON)}
	if q.OrderBy == "" && q.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc := Document{Collection: q.Collection}
		var data []byte
		if err := rows.Scan(&doc.ID, &data, &doc.Version, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Data = data
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orderAndLimit(docs, q), nil
}

func (s *PostgresStore) Put(ctx context.Context, collection, id string, data any) (*Document, error) {
	raw, err := encode(data)
	if err != nil {
		return nil, err
	}
	doc := &Document{Collection: collection, ID: id, Data: raw}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO documents (collection, id, data, version, updated_at)
		 VALUES ($1, $2, $3, 1, now())
		 ON CONFLICT (collection, id) DO UPDATE
		 SET data = EXCLUDED.data, version = documents.version + 1, updated_at = EXCLUDED.updated_at
		 RETURNING version, updated_at`,
		collection, id, []byte(raw),
	).Scan(&doc.Version, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	return err
}

// Commit locks every existing target row, checks expected versions and then
// applies the writes inside one transaction.
func (s *PostgresStore) Commit(ctx context.Context, writes ...Write) (err error) {
	if err := checkCommitSize(writes); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, w := range writes {
		var current int64
		exists := true
		scanErr := tx.QueryRowContext(ctx,
			`SELECT version FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
			w.Collection, w.ID,
		).Scan(&current)
		if errors.Is(scanErr, sql.ErrNoRows) {
			exists = false
		} else if scanErr != nil {
			return scanErr
		}
		if err = checkExpectation(w, exists, current); err != nil {
			return err
		}

		switch w.Op {
		case OpPut:
			raw, encErr := encode(w.Data)
			if encErr != nil {
				return encErr
			}
			stmt := `INSERT INTO documents (collection, id, data, version, updated_at)
				 VALUES ($1, $2, $3, 1, now())
				 ON CONFLICT (collection, id) DO UPDATE
				 SET data = EXCLUDED.data, version = documents.version + 1, updated_at = EXCLUDED.updated_at`
			if w.ExpectedVersion == MustNotExist {
				// No row exists to lock, so a racing insert must surface as a unique violation.
				stmt = `INSERT INTO documents (collection, id, data, version, updated_at)
				 VALUES ($1, $2, $3, 1, now())`
			}
			_, err = tx.ExecContext(ctx, stmt, w.Collection, w.ID, []byte(raw))
		case OpDelete:
			_, err = tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = $1 AND id = $2`, w.Collection, w.ID)
		}
		if err != nil {
			return mapPostgresError(err)
		}
	}

	if err = tx.Commit(); err != nil {
		return mapPostgresError(err)
	}
	return nil
}

// mapPostgresError turns a unique violation from a concurrent insert into ErrConflict.
func mapPostgresError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
	}
	return err
}
