package testutil

import (
	"io"
	"log/slog"
	"testing"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
)

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:", DiscardLogger())
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// PutJSON stores v under id in col and fails the test on error.
func PutJSON(t *testing.T, col store.DocumentStore, id string, v any) store.Document {
	t.Helper()

	doc, err := store.NewDocument(id, v)
	if err != nil {
		t.Fatalf("building document %s: %v", id, err)
	}
	stored, err := col.Put(t.Context(), doc)
	if err != nil {
		t.Fatalf("putting document %s: %v", id, err)
	}
	return stored
}
