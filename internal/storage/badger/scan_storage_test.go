package badger

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	tmpDir := t.TempDir()

	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return &BadgerDB{store: store, logger: arbor.NewLogger()}
}

func TestClaimScanTransitions(t *testing.T) {
	db := newTestDB(t)
	storage := NewScanStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := &models.ScanJob{
		ID:          "scan-claim-1",
		URL:         "https://example.com",
		SubmitterIP: "10.0.0.1",
		Status:      models.ScanStatusQueued,
		CreatedAt:   time.Now(),
	}
	if err := storage.SaveScan(ctx, job); err != nil {
		t.Fatalf("Failed to save scan: %v", err)
	}

	startedAt := time.Now()
	claimed, err := storage.ClaimScan(ctx, job.ID, startedAt)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if !claimed {
		t.Fatal("Expected queued scan to be claimable")
	}

	// Second claim must lose: the scan is already processing
	claimed, err = storage.ClaimScan(ctx, job.ID, time.Now())
	if err != nil {
		t.Fatalf("Second claim errored: %v", err)
	}
	if claimed {
		t.Error("Expected second claim of a processing scan to fail")
	}

	got, err := storage.GetScan(ctx, job.ID)
	if err != nil {
		t.Fatalf("Failed to get scan: %v", err)
	}
	if got.Status != models.ScanStatusProcessing {
		t.Errorf("Expected status processing, got %s", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(startedAt) {
		t.Errorf("Expected StartedAt %v, got %v", startedAt, got.StartedAt)
	}
}

func TestClaimScanPreservesStartedAtOnRequeue(t *testing.T) {
	db := newTestDB(t)
	storage := NewScanStorage(db, arbor.NewLogger())
	ctx := context.Background()

	firstStart := time.Now().Add(-10 * time.Minute)
	job := &models.ScanJob{
		ID:          "scan-requeue-1",
		URL:         "https://example.com",
		SubmitterIP: "10.0.0.1",
		Status:      models.ScanStatusQueued,
		CreatedAt:   time.Now().Add(-time.Hour),
		StartedAt:   &firstStart,
	}
	if err := storage.SaveScan(ctx, job); err != nil {
		t.Fatalf("Failed to save scan: %v", err)
	}

	claimed, err := storage.ClaimScan(ctx, job.ID, time.Now())
	if err != nil || !claimed {
		t.Fatalf("Claim failed: claimed=%v err=%v", claimed, err)
	}

	got, err := storage.GetScan(ctx, job.ID)
	if err != nil {
		t.Fatalf("Failed to get scan: %v", err)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(firstStart) {
		t.Errorf("Expected StartedAt from the first attempt to survive, got %v", got.StartedAt)
	}
}

func TestSaveScanRejectsTerminalMutation(t *testing.T) {
	db := newTestDB(t)
	storage := NewScanStorage(db, arbor.NewLogger())
	ctx := context.Background()

	now := time.Now()
	job := &models.ScanJob{
		ID:          "scan-terminal-1",
		URL:         "https://example.com",
		SubmitterIP: "10.0.0.1",
		Status:      models.ScanStatusCompleted,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if err := storage.SaveScan(ctx, job); err != nil {
		t.Fatalf("Failed to save completed scan: %v", err)
	}

	mutated := *job
	mutated.Status = models.ScanStatusQueued
	if err := storage.SaveScan(ctx, &mutated); err != ErrTerminalScan {
		t.Errorf("Expected ErrTerminalScan, got %v", err)
	}

	// Re-saving with the same terminal status stays allowed
	if err := storage.SaveScan(ctx, job); err != nil {
		t.Errorf("Expected same-status save to succeed, got %v", err)
	}
}

func TestCountQueuedByIPAndSubmissionCount(t *testing.T) {
	db := newTestDB(t)
	storage := NewScanStorage(db, arbor.NewLogger())
	ctx := context.Background()

	for i, status := range []models.ScanStatus{
		models.ScanStatusQueued,
		models.ScanStatusQueued,
		models.ScanStatusProcessing,
	} {
		job := &models.ScanJob{
			ID:          "scan-ip-" + string(rune('a'+i)),
			URL:         "https://example.com",
			SubmitterIP: "192.0.2.7",
			Status:      status,
			CreatedAt:   time.Now(),
		}
		if err := storage.SaveScan(ctx, job); err != nil {
			t.Fatalf("Failed to save scan %d: %v", i, err)
		}
	}

	count, err := storage.CountQueuedByIP(ctx, "192.0.2.7")
	if err != nil {
		t.Fatalf("CountQueuedByIP failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 queued scans for IP, got %d", count)
	}

	next, err := storage.NextSubmissionCount(ctx, "192.0.2.7")
	if err != nil {
		t.Fatalf("NextSubmissionCount failed: %v", err)
	}
	if next != 3 {
		t.Errorf("Expected next submission count 3, got %d", next)
	}

	next, err = storage.NextSubmissionCount(ctx, "198.51.100.1")
	if err != nil {
		t.Fatalf("NextSubmissionCount for fresh IP failed: %v", err)
	}
	if next != 1 {
		t.Errorf("Expected next submission count 1 for fresh IP, got %d", next)
	}
}

func TestGetScansOlderThan(t *testing.T) {
	db := newTestDB(t)
	storage := NewScanStorage(db, arbor.NewLogger())
	ctx := context.Background()

	old := &models.ScanJob{
		ID:          "scan-old",
		URL:         "https://example.com",
		SubmitterIP: "10.0.0.1",
		Status:      models.ScanStatusCompleted,
		CreatedAt:   time.Now().Add(-48 * time.Hour),
	}
	fresh := &models.ScanJob{
		ID:          "scan-fresh",
		URL:         "https://example.org",
		SubmitterIP: "10.0.0.1",
		Status:      models.ScanStatusQueued,
		CreatedAt:   time.Now(),
	}
	for _, j := range []*models.ScanJob{old, fresh} {
		if err := storage.SaveScan(ctx, j); err != nil {
			t.Fatalf("Failed to save scan %s: %v", j.ID, err)
		}
	}

	expired, err := storage.GetScansOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("GetScansOlderThan failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "scan-old" {
		t.Errorf("Expected only scan-old to be expired, got %d results", len(expired))
	}
}
