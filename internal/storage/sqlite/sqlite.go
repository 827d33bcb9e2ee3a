// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/lostfound/internal/storage"
)

// Ensure SQLiteStore implements storage.Store and storage.Quarantiner
var (
	_ storage.Store       = (*SQLiteStore)(nil)
	_ storage.Quarantiner = (*SQLiteStore)(nil)
)

// Options configures a SQLiteStore.
type Options struct {
	// Strict makes Load return storage.ErrCorrupt for unreadable collections
	// instead of moving the row to the quarantine table.
	Strict bool

	Logger *slog.Logger
}

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	strict bool
	logger *slog.Logger

	// mu serializes writers; SQLite allows one writer at a time anyway and
	// taking the lock up front avoids SQLITE_BUSY on concurrent upgrades.
	mu sync.Mutex
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string, opts Options) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SQLiteStore{
		db:     db,
		strict: opts.Strict,
		logger: logger.With("component", "sqlite"),
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads the whole collection.
func (s *SQLiteStore) Load(ctx context.Context, collection string) (storage.Records, error) {
	if !storage.ValidCollection(collection) {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	records, err := s.load(ctx, tx, collection)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return records, nil
}

// Save overwrites the collection.
func (s *SQLiteStore) Save(ctx context.Context, collection string, records storage.Records) error {
	return s.Update(ctx, collection, func(current storage.Records) error {
		clear(current)
		for k, v := range records {
			current[k] = v
		}
		return nil
	})
}

// Update performs a read-modify-write cycle inside a single transaction.
func (s *SQLiteStore) Update(ctx context.Context, collection string, fn func(storage.Records) error) error {
	if !storage.ValidCollection(collection) {
		return fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	records, err := s.load(ctx, tx, collection)
	if err != nil {
		return err
	}
	if err := fn(records); err != nil {
		return err
	}

	data, err := storage.Encode(records)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO collections (name, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		collection, string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save collection %s: %w", collection, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// load reads a collection inside tx, quarantining unreadable rows unless strict.
func (s *SQLiteStore) load(ctx context.Context, tx *sql.Tx, collection string) (storage.Records, error) {
	var data string
	err := tx.QueryRowContext(ctx,
		"SELECT data FROM collections WHERE name = ?",
		collection,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return make(storage.Records), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %s: %w", collection, err)
	}

	records, decodeErr := storage.Decode([]byte(data))
	if decodeErr == nil {
		return records, nil
	}
	if s.strict {
		return nil, fmt.Errorf("collection %s: %w", collection, decodeErr)
	}

	// Move the unreadable row aside inside the same transaction.
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO quarantine (name, data, quarantined_at) VALUES (?, ?, ?)",
		collection, data, time.Now().Unix(),
	); err != nil {
		return nil, fmt.Errorf("failed to quarantine collection %s: %w", collection, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", collection); err != nil {
		return nil, fmt.Errorf("failed to clear corrupt collection %s: %w", collection, err)
	}

	s.logger.Warn("Corrupt collection quarantined, starting empty",
		"collection", collection,
		"error", decodeErr,
	)
	return make(storage.Records), nil
}

// Strict reports whether corrupt data is surfaced instead of quarantined.
func (s *SQLiteStore) Strict() bool {
	return s.strict
}

// QuarantineRecords stores bad records as one quarantine row holding a JSON object.
func (s *SQLiteStore) QuarantineRecords(ctx context.Context, collection string, bad storage.Records) error {
	if !storage.ValidCollection(collection) {
		return fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}
	data, err := storage.Encode(bad)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO quarantine (name, data, quarantined_at) VALUES (?, ?, ?)",
		collection, string(data), time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("failed to quarantine records of %s: %w", collection, err)
	}

	for key := range bad {
		s.logger.Warn("Unreadable record quarantined, skipping",
			"collection", collection,
			"record", key,
		)
	}
	return nil
}

// QuarantineCount returns how many quarantine rows exist for a collection.
func (s *SQLiteStore) QuarantineCount(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM quarantine WHERE name = ?",
		collection,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count quarantined rows: %w", err)
	}
	return n, nil
}
