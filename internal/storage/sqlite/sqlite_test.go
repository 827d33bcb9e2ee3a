package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mmynk/lostfound/internal/storage"
)

func newTestStore(t *testing.T, opts Options) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := New(dbPath, opts)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	t.Run("missing collection loads empty", func(t *testing.T) {
		records, err := store.Load(ctx, storage.Items)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(records) != 0 {
			t.Errorf("expected 0 records, got %d", len(records))
		}
	})

	t.Run("Save replaces the whole collection", func(t *testing.T) {
		err := store.Save(ctx, storage.Users, storage.Records{
			"alice": []byte(`"pw1"`),
			"bob":   []byte(`"pw2"`),
		})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		err = store.Save(ctx, storage.Users, storage.Records{"carol": []byte(`"pw3"`)})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		records, err := store.Load(ctx, storage.Users)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(records) != 1 {
			t.Errorf("expected 1 record, got %d", len(records))
		}
		if _, ok := records["carol"]; !ok {
			t.Error("expected carol to be present")
		}
	})

	t.Run("Update rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.Update(ctx, storage.Users, func(records storage.Records) error {
			records["mallory"] = []byte(`"x"`)
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}

		records, err := store.Load(ctx, storage.Users)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if _, ok := records["mallory"]; ok {
			t.Error("failed update must not be persisted")
		}
	})

	t.Run("invalid collection name", func(t *testing.T) {
		_, err := store.Load(ctx, "users; DROP TABLE collections")
		if !errors.Is(err, storage.ErrUnknownCollection) {
			t.Errorf("expected ErrUnknownCollection, got %v", err)
		}
	})
}

func TestSQLiteStore_CorruptCollection(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers and quarantines", func(t *testing.T) {
		store := newTestStore(t, Options{})
		if _, err := store.db.Exec(
			"INSERT INTO collections (name, data, updated_at) VALUES (?, ?, 0)",
			storage.Items, "{truncated",
		); err != nil {
			t.Fatalf("seed failed: %v", err)
		}

		records, err := store.Load(ctx, storage.Items)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(records) != 0 {
			t.Errorf("expected empty collection, got %d", len(records))
		}

		n, err := store.QuarantineCount(ctx, storage.Items)
		if err != nil {
			t.Fatalf("QuarantineCount failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 quarantined row, got %d", n)
		}
	})

	t.Run("strict mode surfaces ErrCorrupt", func(t *testing.T) {
		store := newTestStore(t, Options{Strict: true})
		if _, err := store.db.Exec(
			"INSERT INTO collections (name, data, updated_at) VALUES (?, ?, 0)",
			storage.Items, "[1,2",
		); err != nil {
			t.Fatalf("seed failed: %v", err)
		}

		_, err := store.Load(ctx, storage.Items)
		if !errors.Is(err, storage.ErrCorrupt) {
			t.Fatalf("expected ErrCorrupt, got %v", err)
		}
	})
}

func TestSQLiteStore_UnreadableRecord(t *testing.T) {
	ctx := context.Background()

	type entry struct {
		Name string `json:"name"`
	}

	t.Run("recovers and quarantines the record", func(t *testing.T) {
		store := newTestStore(t, Options{})
		err := store.Save(ctx, storage.Items, storage.Records{
			"good": []byte(`{"name":"Wallet"}`),
			"bad":  []byte(`{"name":5}`),
		})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		got, err := storage.LoadAs[entry](ctx, store, storage.Items)
		if err != nil {
			t.Fatalf("LoadAs failed: %v", err)
		}
		if len(got) != 1 || got["good"].Name != "Wallet" {
			t.Errorf("expected only the good record, got %+v", got)
		}

		n, err := store.QuarantineCount(ctx, storage.Items)
		if err != nil {
			t.Fatalf("QuarantineCount failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 quarantined row, got %d", n)
		}

		var data string
		if err := store.db.QueryRow("SELECT data FROM quarantine WHERE name = ?", storage.Items).Scan(&data); err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if data != `{"bad":{"name":5}}` {
			t.Errorf("quarantined data: got %s", data)
		}

		// The collection no longer holds the record, so a second read does not quarantine again.
		if _, err := storage.LoadAs[entry](ctx, store, storage.Items); err != nil {
			t.Fatalf("LoadAs failed: %v", err)
		}
		if n, _ := store.QuarantineCount(ctx, storage.Items); n != 1 {
			t.Errorf("expected still 1 quarantined row, got %d", n)
		}
	})

	t.Run("strict mode surfaces ErrCorrupt", func(t *testing.T) {
		store := newTestStore(t, Options{Strict: true})
		if err := store.Save(ctx, storage.Items, storage.Records{"bad": []byte(`[]`)}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		err := storage.UpdateAs(ctx, store, storage.Items, func(m map[string]entry) error {
			return nil
		})
		if !errors.Is(err, storage.ErrCorrupt) {
			t.Fatalf("expected ErrCorrupt, got %v", err)
		}
		if n, _ := store.QuarantineCount(ctx, storage.Items); n != 0 {
			t.Errorf("strict mode must not quarantine, got %d rows", n)
		}
	})
}

func TestSQLiteStore_ConcurrentUpdates(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	const writers = 25
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.Update(ctx, storage.Items, func(records storage.Records) error {
				records[fmt.Sprintf("item-%02d", i)] = []byte(`{}`)
				return nil
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	records, err := store.Load(ctx, storage.Items)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != writers {
		t.Errorf("lost updates: got %d records, want %d", len(records), writers)
	}
}
