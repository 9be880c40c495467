package db

import (
	"path/filepath"
	"testing"
)

// OpenTestStore opens a migrated store in t.TempDir() and closes it when the
// test finishes.
func OpenTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenStore(filepath.Join(t.TempDir(), "governance.sqlite"), 4)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
