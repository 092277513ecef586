// Package sqlstore is a persist.Store backed by SQLite. Documents are kept
// as storage-format text in a single owners table.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crystal-mush/nakedsun/pkg/persist"
	"github.com/crystal-mush/nakedsun/pkg/storage"
)

const schema = `CREATE TABLE IF NOT EXISTS owners (
	tag     TEXT NOT NULL,
	key     TEXT NOT NULL,
	data    TEXT NOT NULL,
	updated INTEGER NOT NULL,
	PRIMARY KEY (tag, key)
)`

// Store manages a SQLite database connection.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	path    string
	timeout time.Duration
	now     func() time.Time
}

var _ persist.Store = (*Store)(nil)

// Open opens a SQLite database, sets WAL mode and busy timeout, and creates
// the owners table.
func Open(path string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening %s: %w", path, err)
	}
	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)

	// Set WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: setting WAL mode: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", timeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: creating schema: %w", err)
	}
	return &Store{db: db, path: path, timeout: timeout, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Path returns the filesystem path of the SQLite database.
func (s *Store) Path() string { return s.path }

func (s *Store) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

var errClosed = errors.New("sqlstore: database closed")

// Put stores doc under tag and key, replacing any previous document.
func (s *Store) Put(tag, key string, doc *storage.Set) error {
	data, err := persist.Encode(doc)
	if err != nil {
		return fmt.Errorf("sqlstore: encode %s %q: %w", tag, key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errClosed
	}
	ctx, cancel := s.context()
	defer cancel()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO owners (tag, key, data, updated) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tag, key) DO UPDATE SET data = excluded.data, updated = excluded.updated`,
		tag, key, string(data), s.now().Unix())
	if err != nil {
		return fmt.Errorf("sqlstore: put %s %q: %w", tag, key, err)
	}
	return nil
}

// Get returns the document stored under tag and key.
func (s *Store) Get(tag, key string) (*storage.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errClosed
	}
	ctx, cancel := s.context()
	defer cancel()
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM owners WHERE tag = ? AND key = ?`, tag, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %q", persist.ErrNotFound, tag, key)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get %s %q: %w", tag, key, err)
	}
	doc, err := persist.Decode([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: decode %s %q: %w", tag, key, err)
	}
	return doc, nil
}

// Updated returns when the document was last written.
func (s *Store) Updated(tag, key string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return time.Time{}, errClosed
	}
	ctx, cancel := s.context()
	defer cancel()
	var unix int64
	err := s.db.QueryRowContext(ctx, `SELECT updated FROM owners WHERE tag = ? AND key = ?`, tag, key).Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%w: %s %q", persist.ErrNotFound, tag, key)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlstore: updated %s %q: %w", tag, key, err)
	}
	return time.Unix(unix, 0), nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *Store) Delete(tag, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errClosed
	}
	ctx, cancel := s.context()
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM owners WHERE tag = ? AND key = ?`, tag, key); err != nil {
		return fmt.Errorf("sqlstore: delete %s %q: %w", tag, key, err)
	}
	return nil
}

// Keys returns the keys stored under tag, sorted.
func (s *Store) Keys(tag string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errClosed
	}
	ctx, cancel := s.context()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM owners WHERE tag = ? ORDER BY key`, tag)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: keys %s: %w", tag, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Checkpoint forces a WAL checkpoint to flush all writes to the main database file.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errClosed
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}
