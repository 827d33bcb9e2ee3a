// Package filestore provides a JSON-file implementation of the storage.Store interface.
//
// Each collection lives in <dir>/<collection>.json. Writes go to a temporary
// file in the same directory which is synced and renamed over the original,
// so readers see either the previous or the next full snapshot.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mmynk/lostfound/internal/storage"
)

// Ensure FileStore implements storage.Store and storage.Quarantiner
var (
	_ storage.Store       = (*FileStore)(nil)
	_ storage.Quarantiner = (*FileStore)(nil)
)

// Options configures a FileStore.
type Options struct {
	// Strict makes Load return storage.ErrCorrupt for unreadable collections
	// instead of quarantining the file and starting from an empty collection.
	Strict bool

	Logger *slog.Logger
}

// FileStore implements storage.Store on top of plain JSON files.
type FileStore struct {
	dir    string
	strict bool
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a FileStore rooted at dir, creating the directory if needed.
func New(dir string, opts Options) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &FileStore{
		dir:    dir,
		strict: opts.Strict,
		logger: logger.With("component", "filestore"),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Close is a no-op; files are not held open between calls.
func (s *FileStore) Close() error {
	return nil
}

// Path returns the file backing a collection.
func (s *FileStore) Path(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

// Load reads the whole collection.
func (s *FileStore) Load(ctx context.Context, collection string) (storage.Records, error) {
	lock, err := s.lockFor(collection)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	return s.load(ctx, collection)
}

// Save overwrites the collection.
func (s *FileStore) Save(ctx context.Context, collection string, records storage.Records) error {
	lock, err := s.lockFor(collection)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()

	return s.save(ctx, collection, records)
}

// Update performs a read-modify-write cycle under the collection lock.
func (s *FileStore) Update(ctx context.Context, collection string, fn func(storage.Records) error) error {
	lock, err := s.lockFor(collection)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()

	records, err := s.load(ctx, collection)
	if err != nil {
		return err
	}
	if err := fn(records); err != nil {
		return err
	}
	return s.save(ctx, collection, records)
}

// Strict reports whether corrupt data is surfaced instead of quarantined.
func (s *FileStore) Strict() bool {
	return s.strict
}

// QuarantineRecords writes bad records to <collection>.json.bad-records-<nanos>
// next to the collection file.
func (s *FileStore) QuarantineRecords(ctx context.Context, collection string, bad storage.Records) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !storage.ValidCollection(collection) {
		return fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}

	data, err := storage.Encode(bad)
	if err != nil {
		return err
	}
	quarantine := fmt.Sprintf("%s.bad-records-%d", s.Path(collection), time.Now().UnixNano())
	if err := os.WriteFile(quarantine, data, 0o644); err != nil {
		return fmt.Errorf("failed to quarantine records of %s: %w", collection, err)
	}

	for key := range bad {
		s.logger.Warn("Unreadable record quarantined, skipping",
			"collection", collection,
			"record", key,
			"quarantine", quarantine,
		)
	}
	return nil
}

func (s *FileStore) lockFor(collection string) (*sync.Mutex, error) {
	if !storage.ValidCollection(collection) {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[collection]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[collection] = lock
	}
	return lock, nil
}

func (s *FileStore) load(ctx context.Context, collection string) (storage.Records, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(collection)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(storage.Records), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", collection, err)
	}

	records, err := storage.Decode(data)
	if err == nil {
		return records, nil
	}
	if s.strict {
		return nil, fmt.Errorf("collection %s: %w", collection, err)
	}

	quarantine := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UnixNano())
	if renameErr := os.Rename(path, quarantine); renameErr != nil {
		return nil, fmt.Errorf("failed to quarantine corrupt collection %s: %w", collection, renameErr)
	}
	s.logger.Warn("Corrupt collection quarantined, starting empty",
		"collection", collection,
		"quarantine", quarantine,
		"error", err,
	)
	return make(storage.Records), nil
}

func (s *FileStore) save(ctx context.Context, collection string, records storage.Records) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := storage.Encode(records)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, collection+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write collection %s: %w", collection, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync collection %s: %w", collection, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close collection %s: %w", collection, err)
	}
	if err := os.Rename(tmpName, s.Path(collection)); err != nil {
		return fmt.Errorf("failed to replace collection %s: %w", collection, err)
	}

	s.logger.Debug("Collection saved", "collection", collection, "records", len(records), "bytes", len(data))
	return nil
}
