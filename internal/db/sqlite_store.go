package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore stores documents as JSON bodies in a single table.
type SQLiteStore struct {
	db    *sql.DB
	idGen func() string
	now   func() time.Time
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{
		db:    db,
		idGen: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// OpenSQLite opens the database file, applies migrations and returns the store.
func OpenSQLite(path, migrationsDir string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", path)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := RunMigrations(sqlDB, migrationsDir); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	store, err := NewSQLiteStore(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) logErr(prefix string, err error) {
	if err != nil {
		log.Printf("sqlite store: %s: %v", prefix, err)
	}
}

func (s *SQLiteStore) Create(ctx context.Context, collection string, doc any) (string, error) {
	fields, err := toFields(doc)
	if err != nil {
		return "", err
	}
	id := s.idGen()
	body, err := merge(nil, fields, id)
	if err != nil {
		return "", err
	}
	ts := s.now().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, string(body), ts, ts)
	if err != nil {
		s.logErr("create "+collection, err)
		return "", fmt.Errorf("insert document: %w", mapConstraint(err))
	}
	return id, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, collection, id string, doc any) error {
	if id == "" {
		return errors.New("upsert: empty id")
	}
	fields, err := toFields(doc)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			s.logErr("rollback upsert", tx.Rollback())
		}
	}()

	var current string
	base := map[string]json.RawMessage{}
	err = tx.QueryRowContext(ctx, `SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	case err != nil:
		return fmt.Errorf("read document: %w", err)
	default:
		if err = json.Unmarshal([]byte(current), &base); err != nil {
			return fmt.Errorf("decode stored document: %w", err)
		}
	}

	body, err := merge(base, fields, id)
	if err != nil {
		return err
	}
	ts := s.now().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
INSERT INTO documents (collection, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		collection, id, string(body), ts, ts)
	if err != nil {
		s.logErr("upsert "+collection, err)
		return fmt.Errorf("write document: %w", mapConstraint(err))
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return jsonDocument{id: id, body: []byte(body)}, nil
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`SELECT id, body FROM documents WHERE collection = ?`)
	args := []any{collection}
	for _, k := range keys {
		b.WriteString(` AND json_extract(body, ?) = ?`)
		args = append(args, "$."+k, filter[k])
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, jsonDocument{id: id, body: []byte(body)})
	}
	return out, rows.Err()
}

// EnsureUniqueIndex creates a partial unique index over one body field of a
// collection. Migration 002 already creates the report session index under
// the same name, so calling it for that pair is a no-op.
func (s *SQLiteStore) EnsureUniqueIndex(ctx context.Context, collection, field string) error {
	if err := checkIndexName(collection, field); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_unique_%[1]s_%[2]s
ON documents (collection, json_extract(body, '$.%[2]s')) WHERE collection = '%[1]s'`, collection, field)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create unique index on %s.%s: %w", collection, field, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// mapConstraint turns unique index violations into ErrDuplicate. Primary key
// clashes stay as they are.
func mapConstraint(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
