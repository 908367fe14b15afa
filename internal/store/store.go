// Package store persists JSON documents in named collections.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get when no document exists at the key.
var ErrNotFound = errors.New("document not found")

// Record is a stored document with its metadata.
type Record struct {
	Collection string          `json:"collection"`
	Key        string          `json:"key"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Decode unmarshals the record's data into out.
func (r Record) Decode(out any) error {
	return json.Unmarshal(r.Data, out)
}

// Store is the document persistence interface.
type Store interface {
	// Put writes doc at key, replacing any existing document (last write wins).
	Put(ctx context.Context, collection, key string, doc any) error

	// Append adds doc under a generated key and returns that key.
	Append(ctx context.Context, collection string, doc any) (string, error)

	// Get decodes the document at key into out.
	Get(ctx context.Context, collection, key string, out any) error

	// List returns up to limit records in insertion order; limit <= 0 means all.
	List(ctx context.Context, collection string, limit int) ([]Record, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Open returns an in-memory store for "" or ":memory:", otherwise a file store.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" || path == ":memory:" {
		return NewMemoryStore(ctx)
	}
	return NewSQLiteStore(ctx, path)
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newStore(ctx, db)
}

// NewMemoryStore creates an in-memory SQLite store.
// Each store gets its own named shared-cache database so connections within a
// store see the same data while separate stores stay isolated.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	return newStore(ctx, db)
}

func newStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	// Keep the in-memory database alive and serialize writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put upserts doc at (collection, key).
func (s *SQLiteStore) Put(ctx context.Context, collection, key string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, key, err)
	}
	now := time.Now().UnixMilli()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, key, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, collection, key, string(data), now, now)
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", collection, key, err)
	}
	return nil
}

// Append inserts doc under a fresh UUID key.
func (s *SQLiteStore) Append(ctx context.Context, collection string, doc any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s entry: %w", collection, err)
	}
	key := uuid.NewString()
	now := time.Now().UnixMilli()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, key, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, collection, key, string(data), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to append to %s: %w", collection, err)
	}
	return key, nil
}

// Get decodes the document at (collection, key) into out.
func (s *SQLiteStore) Get(ctx context.Context, collection, key string, out any) error {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s/%s: %w", collection, key, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", collection, key, err)
	}
	return nil
}

// List returns records of a collection ordered by first insertion.
func (s *SQLiteStore) List(ctx context.Context, collection string, limit int) ([]Record, error) {
	query := `SELECT key, data, created_at, updated_at FROM documents WHERE collection = ? ORDER BY id`
	args := []any{collection}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r                Record
			data             string
			created, updated int64
		)
		if err := rows.Scan(&r.Key, &data, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", collection, err)
		}
		r.Collection = collection
		r.Data = json.RawMessage(data)
		r.CreatedAt = time.UnixMilli(created)
		r.UpdatedAt = time.UnixMilli(updated)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", collection, err)
	}
	return records, nil
}
