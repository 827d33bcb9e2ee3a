// Package storage provides abstractions for persistent data storage.
//
// Data is organized as named collections, each a keyed mapping persisted as a
// whole. Writers never save a collection they loaded earlier; they go through
// Update, which holds the collection's writer lock across load, mutate and
// save so that concurrent read-modify-write cycles cannot drop each other's
// changes.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Collection names.
const (
	Users = "users"
	Items = "items"
)

var (
	// ErrCorrupt is returned when a persisted collection exists but cannot be parsed.
	ErrCorrupt = errors.New("collection is corrupt")

	// ErrUnknownCollection is returned for collection names that are not valid identifiers.
	ErrUnknownCollection = errors.New("unknown collection")

	errBadRecords = errors.New("collection has records that do not decode")
)

// maxRepairs bounds how often UpdateAs sets bad records aside before giving up.
const maxRepairs = 3

// Records is the raw content of one collection: record key -> JSON value.
type Records map[string]json.RawMessage

// Store defines the interface for collection storage operations.
// This abstraction allows swapping storage backends (JSON files, SQLite)
// without changing the service layer.
type Store interface {
	// Load returns the full content of the collection.
	// A collection that was never written is returned empty, not as an error.
	Load(ctx context.Context, collection string) (Records, error)

	// Save overwrites the collection with records. The last full write wins.
	Save(ctx context.Context, collection string, records Records) error

	// Update loads the collection, passes it to fn and saves the result,
	// holding the collection's writer lock for the whole cycle.
	// If fn returns an error nothing is written and the error is returned.
	Update(ctx context.Context, collection string, fn func(Records) error) error

	// Close releases any resources held by the store.
	Close() error
}

// Quarantiner is implemented by stores that can set individual records aside.
// LoadAs and UpdateAs use it to recover from a record that does not decode
// into the expected type.
type Quarantiner interface {
	// Strict reports whether corrupt data must surface as ErrCorrupt.
	Strict() bool

	// QuarantineRecords copies bad records of a collection to the store's
	// quarantine. It must not be called from inside Update.
	QuarantineRecords(ctx context.Context, collection string, bad Records) error
}

// ValidCollection reports whether name can be used as a collection name.
// Names are restricted to lowercase letters, digits, '-' and '_' because
// they become file names and table keys.
func ValidCollection(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Decode parses the content of a collection file or row.
// Empty content is an empty collection.
func Decode(data []byte) (Records, error) {
	records := make(Records)
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	// A literal "null" decodes into a nil map.
	if records == nil {
		records = make(Records)
	}
	return records, nil
}

// Encode serializes records for persistence.
func Encode(records Records) ([]byte, error) {
	if records == nil {
		records = Records{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode collection: %w", err)
	}
	return data, nil
}

// LoadAs loads a collection and decodes every record into T.
//
// Records that do not decode are skipped and moved to the quarantine when the
// store implements Quarantiner and is not strict; otherwise LoadAs returns
// ErrCorrupt.
func LoadAs[T any](ctx context.Context, s Store, collection string) (map[string]T, error) {
	records, err := s.Load(ctx, collection)
	if err != nil {
		return nil, err
	}
	typed, bad, err := decodeAll[T](collection, records)
	if len(bad) == 0 {
		return typed, nil
	}
	if err := repair(ctx, s, collection, bad, err); err != nil {
		return nil, err
	}
	return typed, nil
}

// UpdateAs runs fn against the typed content of a collection under the
// collection's writer lock and persists the result.
//
// Bad records are handled as in LoadAs: they are set aside first and the
// update is retried on the cleaned collection.
func UpdateAs[T any](ctx context.Context, s Store, collection string, fn func(map[string]T) error) error {
	for attempt := 0; ; attempt++ {
		var (
			bad      Records
			firstErr error
		)
		err := s.Update(ctx, collection, func(records Records) error {
			typed, b, err := decodeAll[T](collection, records)
			if len(b) > 0 {
				bad, firstErr = b, err
				return errBadRecords
			}
			if err := fn(typed); err != nil {
				return err
			}

			clear(records)
			for key, value := range typed {
				raw, err := json.Marshal(value)
				if err != nil {
					return fmt.Errorf("failed to encode record %q: %w", key, err)
				}
				records[key] = raw
			}
			return nil
		})
		if !errors.Is(err, errBadRecords) {
			return err
		}
		if attempt == maxRepairs {
			return firstErr
		}
		if err := repair(ctx, s, collection, bad, firstErr); err != nil {
			return err
		}
	}
}

// repair copies bad records to the quarantine and then removes them from the
// collection, unless they changed in between. cause is returned when the
// store cannot recover.
func repair(ctx context.Context, s Store, collection string, bad Records, cause error) error {
	q, ok := s.(Quarantiner)
	if !ok || q.Strict() {
		return cause
	}
	if err := q.QuarantineRecords(ctx, collection, bad); err != nil {
		return err
	}
	return s.Update(ctx, collection, func(records Records) error {
		for key, raw := range bad {
			if current, ok := records[key]; ok && bytes.Equal(current, raw) {
				delete(records, key)
			}
		}
		return nil
	})
}

// decodeAll decodes every record into T. Records that fail are returned in
// bad, and err describes the first of them in key order.
func decodeAll[T any](collection string, records Records) (typed map[string]T, bad Records, err error) {
	typed = make(map[string]T, len(records))
	var failed []string
	errs := make(map[string]error)
	for key, raw := range records {
		var value T
		if decodeErr := json.Unmarshal(raw, &value); decodeErr != nil {
			if bad == nil {
				bad = make(Records)
			}
			bad[key] = raw
			failed = append(failed, key)
			errs[key] = decodeErr
			continue
		}
		typed[key] = value
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		err = fmt.Errorf("%w: %s record %q: %v", ErrCorrupt, collection, failed[0], errs[failed[0]])
	}
	return typed, bad, err
}
