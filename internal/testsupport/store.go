package testsupport

import (
	"context"
	"testing"
	"time"

	"voicebox/internal/config"
	"voicebox/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedItem inserts a received item for tests using the provided store.
func SeedItem(t testing.TB, store *queue.Store, id string) *queue.Item {
	t.Helper()

	item := &queue.Item{
		ID:         id,
		Sender:     "caller@example.test",
		Subject:    "Voicemail",
		ReceivedAt: time.Now().UTC(),
		Status:     queue.StatusReceived,
	}
	inserted, err := store.InsertIfAbsent(context.Background(), item)
	if err != nil {
		t.Fatalf("store.InsertIfAbsent: %v", err)
	}
	if !inserted {
		t.Fatalf("item %q already present", id)
	}
	return item
}
