package badger

import (
	"context"
	"reflect"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/models"
)

func TestCheckpointCanonicalRoundTrip(t *testing.T) {
	db := newTestDB(t)
	storage := NewCheckpointStorage(db, arbor.NewLogger())
	ctx := context.Background()

	cp := &models.CrawlCheckpoint{
		ScanID:      "scan-cp-1",
		VisitedURLs: []string{"https://example.com/b", "https://example.com/a"},
		PendingURLs: []string{"https://example.com/c", "https://example.com/d"},
		CurrentURL:  "https://example.com/c",
	}
	if err := storage.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	got, err := storage.GetCheckpoint(ctx, "scan-cp-1")
	if err != nil {
		t.Fatalf("Failed to get checkpoint: %v", err)
	}

	// Visited set is stored sorted; counters are derived from the sets
	wantVisited := []string{"https://example.com/a", "https://example.com/b"}
	if !reflect.DeepEqual(got.VisitedURLs, wantVisited) {
		t.Errorf("Expected sorted visited set, got %v", got.VisitedURLs)
	}
	if got.PagesVisited != 2 || got.PagesDiscovered != 4 {
		t.Errorf("Expected counters 2/4, got %d/%d", got.PagesVisited, got.PagesDiscovered)
	}
	// Frontier order is preserved as submitted
	wantPending := []string{"https://example.com/c", "https://example.com/d"}
	if !reflect.DeepEqual(got.PendingURLs, wantPending) {
		t.Errorf("Expected frontier order preserved, got %v", got.PendingURLs)
	}
	if !got.Valid() {
		t.Error("Expected persisted checkpoint to satisfy invariants")
	}

	// Later save overwrites, keeping the original CreatedAt
	created := got.CreatedAt
	got.VisitedURLs = append(got.VisitedURLs, "https://example.com/c")
	got.PendingURLs = got.PendingURLs[1:]
	got.CreatedAt = models.CrawlCheckpoint{}.CreatedAt
	if err := storage.SaveCheckpoint(ctx, got); err != nil {
		t.Fatalf("Failed to overwrite checkpoint: %v", err)
	}

	got2, err := storage.GetCheckpoint(ctx, "scan-cp-1")
	if err != nil {
		t.Fatal(err)
	}
	if got2.PagesVisited != 3 || got2.PagesDiscovered != 4 {
		t.Errorf("Expected counters 3/4 after progress, got %d/%d", got2.PagesVisited, got2.PagesDiscovered)
	}
	if !got2.CreatedAt.Equal(created) {
		t.Errorf("Expected CreatedAt to survive overwrite, got %v want %v", got2.CreatedAt, created)
	}
}

func TestCheckpointDeleteIdempotent(t *testing.T) {
	db := newTestDB(t)
	storage := NewCheckpointStorage(db, arbor.NewLogger())
	ctx := context.Background()

	if err := storage.DeleteCheckpoint(ctx, "scan-none"); err != nil {
		t.Errorf("Expected delete of missing checkpoint to be a no-op, got %v", err)
	}
	if _, err := storage.GetCheckpoint(ctx, "scan-none"); err != ErrCheckpointNotFound {
		t.Errorf("Expected ErrCheckpointNotFound, got %v", err)
	}
}
