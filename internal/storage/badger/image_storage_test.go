package badger

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/models"
)

func TestUpsertImageMergesPageURLs(t *testing.T) {
	db := newTestDB(t)
	storage := NewImageStorage(db, arbor.NewLogger())
	ctx := context.Background()

	img := &models.DiscoveredImage{
		ID:           "img-1",
		ScanID:       "scan-1",
		ImageURL:     "https://example.com/hero.png",
		PageURLs:     []string{"https://example.com/"},
		MimeType:     "image/png",
		SizeBytes:    100_000,
		DiscoveredAt: time.Now(),
	}

	inserted, err := storage.UpsertImage(ctx, img)
	if err != nil {
		t.Fatalf("First upsert failed: %v", err)
	}
	if !inserted {
		t.Error("Expected first sighting to insert")
	}

	// Same image seen again on another page: merge, not insert
	dup := &models.DiscoveredImage{
		ID:       "img-2",
		ScanID:   "scan-1",
		ImageURL: "https://example.com/hero.png",
		PageURLs: []string{"https://example.com/about"},
	}
	inserted, err = storage.UpsertImage(ctx, dup)
	if err != nil {
		t.Fatalf("Duplicate upsert failed: %v", err)
	}
	if inserted {
		t.Error("Expected duplicate sighting not to insert")
	}

	got, err := storage.GetImage(ctx, "scan-1", "https://example.com/hero.png")
	if err != nil {
		t.Fatalf("Failed to get image: %v", err)
	}
	if got.ID != "img-1" {
		t.Errorf("Expected original row to survive, got %s", got.ID)
	}
	if len(got.PageURLs) != 2 {
		t.Errorf("Expected 2 page URLs after merge, got %v", got.PageURLs)
	}
	if got.SizeBytes != 100_000 {
		t.Errorf("Expected analysis fields from first sighting to survive, got size %d", got.SizeBytes)
	}

	// Re-sighting on an already-recorded page is a no-op
	inserted, err = storage.UpsertImage(ctx, dup)
	if err != nil {
		t.Fatalf("Repeat upsert failed: %v", err)
	}
	if inserted {
		t.Error("Expected repeat sighting not to insert")
	}

	count, err := storage.CountImagesByScan(ctx, "scan-1")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 image row, got %d", count)
	}
}

func TestImagesScopedByScan(t *testing.T) {
	db := newTestDB(t)
	storage := NewImageStorage(db, arbor.NewLogger())
	ctx := context.Background()

	for _, img := range []*models.DiscoveredImage{
		{ID: "img-a", ScanID: "scan-a", ImageURL: "https://example.com/a.png", DiscoveredAt: time.Now()},
		{ID: "img-b", ScanID: "scan-b", ImageURL: "https://example.com/a.png", DiscoveredAt: time.Now()},
	} {
		if _, err := storage.UpsertImage(ctx, img); err != nil {
			t.Fatalf("Upsert %s failed: %v", img.ID, err)
		}
	}

	// The same URL under a different scan is a distinct row
	images, err := storage.GetImagesByScan(ctx, "scan-a")
	if err != nil {
		t.Fatalf("GetImagesByScan failed: %v", err)
	}
	if len(images) != 1 || images[0].ID != "img-a" {
		t.Errorf("Expected only scan-a's image, got %d rows", len(images))
	}

	if err := storage.DeleteImagesByScan(ctx, "scan-a"); err != nil {
		t.Fatalf("DeleteImagesByScan failed: %v", err)
	}

	count, err := storage.CountImagesByScan(ctx, "scan-b")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected scan-b's image to survive, got %d", count)
	}
}
