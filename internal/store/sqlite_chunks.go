package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/AnshuML/Aipl/internal/errors"
	"github.com/AnshuML/Aipl/internal/keys"
)

// DefaultDriver is the database/sql driver name registered by modernc.org/sqlite.
const DefaultDriver = "sqlite"

// SQLiteChunkStore implements ChunkStore on SQLite in WAL mode so that the
// CLI and a watcher process can share one database file.
type SQLiteChunkStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
	now    func() time.Time
}

var _ ChunkStore = (*SQLiteChunkStore)(nil)

// Option configures a SQLiteChunkStore.
type Option func(*openOptions)

type openOptions struct {
	driver string
	now    func() time.Time
}

// WithDriver selects another registered SQLite driver, e.g. "sqlite3".
func WithDriver(name string) Option {
	return func(o *openOptions) { o.driver = name }
}

// WithClock overrides the timestamp source for created_at.
func WithClock(now func() time.Time) Option {
	return func(o *openOptions) { o.now = now }
}

// validateIntegrity checks an existing database before it is opened for
// writing. Unlike a derived index, the chunk database holds source data,
// so a failure here is reported and the file is left alone.
func validateIntegrity(driver, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// OpenSQLite opens (creating if needed) the chunk database at path.
// An empty path opens a private in-memory database.
func OpenSQLite(path string, opts ...Option) (*SQLiteChunkStore, error) {
	o := openOptions{driver: DefaultDriver, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.New(errors.ErrCodeFilePermission,
				fmt.Sprintf("failed to create directory %s", dir), err)
		}

		if err := validateIntegrity(o.driver, path); err != nil {
			slog.Error("chunk_store_corrupted",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil, errors.New(errors.ErrCodeCorruptStore, "chunk database failed integrity check", err).
				WithDetail("path", path).
				WithSuggestion("Restore the database from backup; chunk data cannot be regenerated")
		}
		dsn = path
	}

	db, err := sql.Open(o.driver, dsn)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to open chunk database", err)
	}

	// Single writer connection. This also keeps an in-memory database alive
	// for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.New(errors.ErrCodeStoreFailed, "failed to set pragma", err)
		}
	}

	s := &SQLiteChunkStore{db: db, path: path, now: o.now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to initialize schema", err)
	}

	return s, nil
}

func (s *SQLiteChunkStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS chunks (
		department TEXT    NOT NULL,
		doc_id     TEXT    NOT NULL,
		seq        INTEGER NOT NULL,
		text       TEXT    NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (department, doc_id, seq)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path, "" for in-memory stores.
func (s *SQLiteChunkStore) Path() string { return s.path }

// Add stores text as chunk 0 of docID.
func (s *SQLiteChunkStore) Add(ctx context.Context, department, docID, text string) error {
	return s.AddChunks(ctx, department, docID, []string{text})
}

// AddChunks replaces all chunks of docID with texts in one transaction.
// Two raw ids that normalize to the same key address the same document,
// so the later write wins.
func (s *SQLiteChunkStore) AddChunks(ctx context.Context, department, docID string, texts []string) error {
	dept, doc, err := normalizePair(department, docID)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return errors.ValidationError("document has no chunks", nil).WithDetail("doc_id", doc)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return errors.ValidationError(fmt.Sprintf("chunk %d of document is empty", i), nil).
				WithDetail("doc_id", doc)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.ErrCodeStoreFailed, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE department = ? AND doc_id = ?`, dept, doc)
	if err != nil {
		return errors.New(errors.ErrCodeStoreFailed, "failed to replace document", err)
	}
	replaced, _ := res.RowsAffected()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (department, doc_id, seq, text, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.New(errors.ErrCodeStoreFailed, "failed to prepare insert", err)
	}
	defer stmt.Close()

	created := s.now().UnixNano()
	for seq, text := range texts {
		if _, err := stmt.ExecContext(ctx, dept, doc, seq, text, created); err != nil {
			return errors.New(errors.ErrCodeStoreFailed, "failed to insert chunk", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.New(errors.ErrCodeStoreFailed, "failed to commit document", err)
	}

	if replaced > 0 {
		slog.Debug("document_replaced",
			slog.String("department", dept),
			slog.String("doc_id", doc),
			slog.Int64("old_chunks", replaced),
			slog.Int("new_chunks", len(texts)))
	}
	return nil
}

// List returns chunk refs ordered by document id, then sequence.
func (s *SQLiteChunkStore) List(ctx context.Context, department string) ([]ChunkRef, error) {
	chunks, err := s.Snapshot(ctx, department)
	if err != nil {
		return nil, err
	}
	refs := make([]ChunkRef, len(chunks))
	for i, c := range chunks {
		refs[i] = c.ChunkRef
	}
	return refs, nil
}

// ReadAll returns chunk texts in List order.
func (s *SQLiteChunkStore) ReadAll(ctx context.Context, department string) ([]string, error) {
	chunks, err := s.Snapshot(ctx, department)
	if err != nil {
		return nil, err
	}
	return Texts(chunks), nil
}

// Snapshot returns every chunk of a department from one query.
func (s *SQLiteChunkStore) Snapshot(ctx context.Context, department string) ([]Chunk, error) {
	dept, err := keys.Department(department)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, seq, text, created_at FROM chunks
		 WHERE department = ? ORDER BY doc_id, seq`, dept)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to read chunks", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c       Chunk
			created int64
		)
		if err := rows.Scan(&c.DocID, &c.Seq, &c.Text, &created); err != nil {
			return nil, errors.New(errors.ErrCodeStoreFailed, "failed to scan chunk", err)
		}
		c.Department = dept
		c.CreatedAt = time.Unix(0, created)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "failed to read chunks", err)
	}
	return chunks, nil
}

// Delete removes a document's chunks.
func (s *SQLiteChunkStore) Delete(ctx context.Context, department, docID string) (bool, error) {
	dept, doc, err := normalizePair(department, docID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errClosed()
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE department = ? AND doc_id = ?`, dept, doc)
	if err != nil {
		return false, errors.New(errors.ErrCodeStoreFailed, "failed to delete document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.New(errors.ErrCodeStoreFailed, "failed to delete document", err)
	}
	return n > 0, nil
}

// Documents lists distinct document ids in a department, sorted.
func (s *SQLiteChunkStore) Documents(ctx context.Context, department string) ([]string, error) {
	dept, err := keys.Department(department)
	if err != nil {
		return nil, err
	}
	return s.queryStrings(ctx,
		`SELECT DISTINCT doc_id FROM chunks WHERE department = ? ORDER BY doc_id`, dept)
}

// Departments lists departments with at least one chunk, sorted.
func (s *SQLiteChunkStore) Departments(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT department FROM chunks ORDER BY department`)
}

// PurgeDepartment deletes all chunks of a department.
func (s *SQLiteChunkStore) PurgeDepartment(ctx context.Context, department string) (int, error) {
	dept, err := keys.Department(department)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed()
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE department = ?`, dept)
	if err != nil {
		return 0, errors.New(errors.ErrCodeStoreFailed, "failed to purge department", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the database. Further calls fail.
func (s *SQLiteChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteChunkStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "query failed", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.New(errors.ErrCodeStoreFailed, "scan failed", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "query failed", err)
	}
	return out, nil
}

func normalizePair(department, docID string) (string, string, error) {
	dept, err := keys.Department(department)
	if err != nil {
		return "", "", err
	}
	doc, err := keys.DocID(docID)
	if err != nil {
		return "", "", err
	}
	return dept, doc, nil
}

func errClosed() error {
	return errors.New(errors.ErrCodeStoreFailed, "chunk store is closed", nil)
}
