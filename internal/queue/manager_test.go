package queue

import (
	"fmt"
	"testing"

	"github.com/youssef-deveg/YTMusic-DL/internal/models"
)

// fixedConfig is a ConfigStore with a fixed concurrency limit.
type fixedConfig struct {
	limit int
}

func (c *fixedConfig) MaxConcurrentDownloads() int { return c.limit }

func newTestManager(limit int) *Manager {
	return NewManager(&fixedConfig{limit: limit})
}

func TestAddItemAssignsDefaults(t *testing.T) {
	m := newTestManager(3)

	id := m.AddItem(&models.QueueItem{Title: "song"})
	if id == "" {
		t.Fatal("Expected a generated id")
	}

	item, ok := m.GetItem(id)
	if !ok {
		t.Fatalf("Item not found: %s", id)
	}
	if item.Status != models.StatusWaiting {
		t.Errorf("Expected status waiting, got %s", item.Status)
	}
	if item.AddedAt.IsZero() {
		t.Error("Expected AddedAt to be set")
	}
	if item.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries 3, got %d", item.MaxRetries)
	}
}

func TestAddItemsGeneratesUniqueIDs(t *testing.T) {
	m := newTestManager(3)

	items := make([]*models.QueueItem, 10)
	for i := range items {
		items[i] = &models.QueueItem{Title: fmt.Sprintf("song %d", i)}
	}
	ids := m.AddItems(items)

	seen := make(map[string]bool)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("Duplicate id: %s", id)
		}
		seen[id] = true
	}
	if len(m.GetQueue()) != 10 {
		t.Errorf("Expected 10 items in queue, got %d", len(m.GetQueue()))
	}
}

func TestGetNextPendingIsFIFO(t *testing.T) {
	m := newTestManager(3)

	first := m.AddItem(&models.QueueItem{Title: "first"})
	m.AddItem(&models.QueueItem{Title: "second"})

	item, ok := m.GetNextPending()
	if !ok {
		t.Fatal("Expected a pending item")
	}
	if item.ID != first {
		t.Errorf("Expected first item %s, got %s", first, item.ID)
	}

	// Once the first item leaves Waiting, the second becomes next.
	m.UpdateItemStatus(first, models.StatusProcessing, "")
	item, ok = m.GetNextPending()
	if !ok {
		t.Fatal("Expected a pending item")
	}
	if item.Title != "second" {
		t.Errorf("Expected second item, got %s", item.Title)
	}
}

func TestCancelDownloadOnlyAffectsActiveItems(t *testing.T) {
	m := newTestManager(3)

	waiting := m.AddItem(&models.QueueItem{Title: "waiting"})
	active := m.AddItem(&models.QueueItem{Title: "active"})
	m.UpdateItemStatus(active, models.StatusDownloading, "")

	if m.CancelDownload(waiting) {
		t.Error("Cancel of a waiting item should fail")
	}
	if !m.CancelDownload(active) {
		t.Error("Cancel of a downloading item should succeed")
	}

	item, _ := m.GetItem(active)
	if item.Status != models.StatusCancelled {
		t.Errorf("Expected cancelled, got %s", item.Status)
	}

	// Cancelling twice is a no-op.
	if m.CancelDownload(active) {
		t.Error("Second cancel should fail")
	}
}

func TestCancelSetsAttemptFlag(t *testing.T) {
	m := newTestManager(3)

	id := m.AddItem(&models.QueueItem{Title: "song"})
	m.UpdateItemStatus(id, models.StatusDownloading, "")

	m.BeginAttempt(id)
	defer m.EndAttempt(id)

	if m.IsCancelled(id) {
		t.Fatal("Flag should not be set before cancel")
	}
	m.CancelDownload(id)
	if !m.IsCancelled(id) {
		t.Fatal("Flag should be set after cancel")
	}
}

func TestCancelAllCoversWaitingItems(t *testing.T) {
	m := newTestManager(3)

	waiting := m.AddItem(&models.QueueItem{Title: "waiting"})
	active := m.AddItem(&models.QueueItem{Title: "active"})
	done := m.AddItem(&models.QueueItem{Title: "done"})
	m.UpdateItemStatus(active, models.StatusDownloading, "")
	m.UpdateItemStatus(done, models.StatusDone, "")

	m.CancelAll()

	for _, id := range []string{waiting, active} {
		item, _ := m.GetItem(id)
		if item.Status != models.StatusCancelled {
			t.Errorf("Expected %s cancelled, got %s", item.Title, item.Status)
		}
	}
	item, _ := m.GetItem(done)
	if item.Status != models.StatusDone {
		t.Errorf("Done item should be untouched, got %s", item.Status)
	}
}

func TestRemoveItemCancelsActiveDownload(t *testing.T) {
	m := newTestManager(3)

	id := m.AddItem(&models.QueueItem{Title: "song"})
	m.UpdateItemStatus(id, models.StatusDownloading, "")
	m.BeginAttempt(id)
	defer m.EndAttempt(id)

	if !m.RemoveItem(id) {
		t.Fatal("Remove failed")
	}
	if !m.IsCancelled(id) {
		t.Error("Removing a downloading item should flag its attempt")
	}
	if _, ok := m.GetItem(id); ok {
		t.Error("Item should be gone from the queue")
	}

	if m.RemoveItem(id) {
		t.Error("Second remove should fail")
	}
}

func TestRetryItemOnlyFromError(t *testing.T) {
	m := newTestManager(3)

	failed := m.AddItem(&models.QueueItem{Title: "failed"})
	cancelled := m.AddItem(&models.QueueItem{Title: "cancelled"})
	m.UpdateItemStatus(failed, models.StatusError, "network error")
	m.UpdateItemStatus(cancelled, models.StatusDownloading, "")
	m.CancelDownload(cancelled)

	if m.RetryItem(cancelled) {
		t.Error("Cancelled items must not be retryable")
	}
	if !m.RetryItem(failed) {
		t.Fatal("Error items must be retryable")
	}

	item, _ := m.GetItem(failed)
	if item.Status != models.StatusWaiting {
		t.Errorf("Expected waiting, got %s", item.Status)
	}
	if item.Progress != 0 || item.ErrorMessage != "" || item.CompletedAt != nil {
		t.Error("Retry should reset progress, error and completion timestamp")
	}
	if item.RetryCount != 1 {
		t.Errorf("Expected RetryCount 1, got %d", item.RetryCount)
	}
}

func TestRetryAllFailed(t *testing.T) {
	m := newTestManager(3)

	for i := 0; i < 3; i++ {
		id := m.AddItem(&models.QueueItem{Title: fmt.Sprintf("song %d", i)})
		m.UpdateItemStatus(id, models.StatusError, "fail")
	}
	m.AddItem(&models.QueueItem{Title: "waiting"})

	if n := m.RetryAllFailed(); n != 3 {
		t.Errorf("Expected 3 retried, got %d", n)
	}
	if n := m.GetFailedCount(); n != 0 {
		t.Errorf("Expected 0 failed after retry, got %d", n)
	}
	if n := m.GetPendingCount(); n != 4 {
		t.Errorf("Expected 4 pending, got %d", n)
	}
}

func TestClearCompletedReturnsRemaining(t *testing.T) {
	m := newTestManager(3)

	done := m.AddItem(&models.QueueItem{Title: "done"})
	cancelled := m.AddItem(&models.QueueItem{Title: "cancelled"})
	failed := m.AddItem(&models.QueueItem{Title: "failed"})
	m.AddItem(&models.QueueItem{Title: "waiting"})
	m.UpdateItemStatus(done, models.StatusDone, "")
	m.UpdateItemStatus(cancelled, models.StatusDownloading, "")
	m.CancelDownload(cancelled)
	m.UpdateItemStatus(failed, models.StatusError, "fail")

	// Error items stay in the queue so they can be retried.
	if remaining := m.ClearCompleted(); remaining != 2 {
		t.Errorf("Expected 2 remaining, got %d", remaining)
	}
	if _, ok := m.GetItem(done); ok {
		t.Error("Done item should be removed")
	}
	if _, ok := m.GetItem(failed); !ok {
		t.Error("Failed item should be kept")
	}
}

func TestUpdateItemProgressIsMonotonic(t *testing.T) {
	m := newTestManager(3)

	id := m.AddItem(&models.QueueItem{Title: "song"})
	m.UpdateItemStatus(id, models.StatusProcessing, "")

	m.UpdateItemProgress(id, 40, "1.0MB/s", "30s")
	item, _ := m.GetItem(id)
	if item.Status != models.StatusDownloading {
		t.Errorf("First progress event should promote to downloading, got %s", item.Status)
	}
	if item.StartedAt == nil {
		t.Error("Expected StartedAt to be set")
	}

	// A late out-of-order report must not move progress backwards.
	m.UpdateItemProgress(id, 25, "0.5MB/s", "")
	item, _ = m.GetItem(id)
	if item.Progress != 40 {
		t.Errorf("Expected progress 40, got %.1f", item.Progress)
	}
	if item.Speed != "0.5MB/s" {
		t.Errorf("Speed should still update, got %s", item.Speed)
	}
	if item.ETA != "30s" {
		t.Errorf("Empty ETA should not overwrite, got %q", item.ETA)
	}
}

func TestUpdateItemProgressClampsRange(t *testing.T) {
	m := newTestManager(3)

	id := m.AddItem(&models.QueueItem{Title: "song"})
	m.UpdateItemProgress(id, 150, "", "")
	item, _ := m.GetItem(id)
	if item.Progress != 100 {
		t.Errorf("Expected clamp to 100, got %.1f", item.Progress)
	}
}

func TestUpdateItemProgressIgnoresTerminalItems(t *testing.T) {
	m := newTestManager(3)

	id := m.AddItem(&models.QueueItem{Title: "song"})
	m.UpdateItemStatus(id, models.StatusDownloading, "")
	m.CancelDownload(id)

	m.UpdateItemProgress(id, 80, "", "")
	item, _ := m.GetItem(id)
	if item.Status != models.StatusCancelled {
		t.Errorf("Terminal item must keep its status, got %s", item.Status)
	}
	if item.Progress != 0 {
		t.Errorf("Terminal item must keep its progress, got %.1f", item.Progress)
	}
}

func TestUpdateItemStatusProtectsTerminalStates(t *testing.T) {
	m := newTestManager(3)

	id := m.AddItem(&models.QueueItem{Title: "song"})
	m.UpdateItemStatus(id, models.StatusDone, "")

	m.UpdateItemStatus(id, models.StatusWaiting, "")
	item, _ := m.GetItem(id)
	if item.Status != models.StatusDone {
		t.Errorf("Done must not transition away, got %s", item.Status)
	}
	if item.Progress != 100 {
		t.Errorf("Done must force progress 100, got %.1f", item.Progress)
	}
	if item.CompletedAt == nil {
		t.Error("Expected CompletedAt to be set")
	}
}

func TestUpdateItemStatusSameStatusStampsCompletion(t *testing.T) {
	m := newTestManager(3)

	id := m.AddItem(&models.QueueItem{Title: "song"})
	m.UpdateItemStatus(id, models.StatusDownloading, "")
	m.CancelDownload(id)

	// The dispatcher re-reports Cancelled after aborting; the timestamp
	// lands on that second report.
	m.UpdateItemStatus(id, models.StatusCancelled, "")
	item, _ := m.GetItem(id)
	if item.CompletedAt == nil {
		t.Error("Expected CompletedAt after re-reporting cancelled")
	}
}

func TestCanStartDownloadReadsLimitLive(t *testing.T) {
	config := &fixedConfig{limit: 1}
	m := NewManager(config)

	a := m.AddItem(&models.QueueItem{Title: "a"})
	m.AddItem(&models.QueueItem{Title: "b"})
	m.UpdateItemStatus(a, models.StatusDownloading, "")

	if m.CanStartDownload() {
		t.Error("Limit 1 with one active download should be full")
	}

	// Raising the limit takes effect on the next check.
	config.limit = 2
	if !m.CanStartDownload() {
		t.Error("Limit 2 with one active download should have capacity")
	}

	// A broken limit below 1 is treated as 1.
	config.limit = 0
	if m.CanStartDownload() {
		t.Error("Limit 0 should clamp to 1 and be full")
	}
}

func TestGetGlobalProgress(t *testing.T) {
	m := newTestManager(3)

	// Empty queue reports zeros.
	if p, c, f := m.GetGlobalProgress(); p != 0 || c != 0 || f != 0 {
		t.Errorf("Expected (0, 0, 0) for empty queue, got (%.1f, %d, %d)", p, c, f)
	}

	done := m.AddItem(&models.QueueItem{Title: "done"})
	failed := m.AddItem(&models.QueueItem{Title: "failed"})
	active := m.AddItem(&models.QueueItem{Title: "active"})
	m.UpdateItemStatus(done, models.StatusDone, "")
	m.UpdateItemProgress(failed, 40, "", "")
	m.UpdateItemStatus(failed, models.StatusError, "fail")
	m.UpdateItemProgress(active, 60, "", "")

	// (100 + 40 + 60) / 3
	p, c, f := m.GetGlobalProgress()
	if p < 66.6 || p > 66.7 {
		t.Errorf("Expected progress about 66.7, got %.2f", p)
	}
	if c != 1 || f != 1 {
		t.Errorf("Expected 1 completed and 1 failed, got %d and %d", c, f)
	}
}

func TestObserverNotificationAndRemoval(t *testing.T) {
	m := newTestManager(3)

	calls := 0
	remove := m.AddObserver(func() { calls++ })

	m.AddItem(&models.QueueItem{Title: "song"})
	if calls == 0 {
		t.Fatal("Observer was not notified on add")
	}

	before := calls
	remove()
	m.AddItem(&models.QueueItem{Title: "other"})
	if calls != before {
		t.Error("Removed observer was still notified")
	}
}

func TestObserverPanicDoesNotBreakOthers(t *testing.T) {
	m := newTestManager(3)

	called := false
	m.AddObserver(func() { panic("boom") })
	m.AddObserver(func() { called = true })

	m.AddItem(&models.QueueItem{Title: "song"})
	if !called {
		t.Error("Panicking observer must not suppress the others")
	}
}

// memorySink keeps exported descriptors in memory for round trip tests.
type memorySink struct {
	items map[string][]models.ItemDescriptor
}

func (s *memorySink) ExportQueue(name string, items []models.ItemDescriptor) error {
	if s.items == nil {
		s.items = make(map[string][]models.ItemDescriptor)
	}
	s.items[name] = items
	return nil
}

func (s *memorySink) ImportQueue(name string) ([]models.ItemDescriptor, error) {
	items, ok := s.items[name]
	if !ok {
		return nil, fmt.Errorf("no such export: %s", name)
	}
	return items, nil
}

func TestExportImportRoundTrip(t *testing.T) {
	m := newTestManager(3)
	sink := &memorySink{}

	waiting := m.AddItem(&models.QueueItem{VideoID: "v1", Title: "waiting"})
	failed := m.AddItem(&models.QueueItem{VideoID: "v2", Title: "failed"})
	done := m.AddItem(&models.QueueItem{VideoID: "v3", Title: "done"})
	m.UpdateItemStatus(failed, models.StatusError, "fail")
	m.UpdateItemStatus(done, models.StatusDone, "")

	if err := m.ExportTo(sink, "backup"); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	// Only waiting and error items are exported.
	if len(sink.items["backup"]) != 2 {
		t.Fatalf("Expected 2 exported items, got %d", len(sink.items["backup"]))
	}

	target := newTestManager(3)
	n, err := target.ImportFrom(sink, "backup")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 imported, got %d", n)
	}

	for _, item := range target.GetQueue() {
		if item.Status != models.StatusWaiting {
			t.Errorf("Imported item should be waiting, got %s", item.Status)
		}
		if item.ID == waiting || item.ID == failed {
			t.Error("Imported items must get fresh ids")
		}
	}

	if _, err := target.ImportFrom(sink, "missing"); err == nil {
		t.Error("Import from an unknown name should fail")
	}
}

func TestClearQueue(t *testing.T) {
	m := newTestManager(3)

	active := m.AddItem(&models.QueueItem{Title: "active"})
	m.AddItem(&models.QueueItem{Title: "waiting"})
	m.UpdateItemStatus(active, models.StatusDownloading, "")
	m.BeginAttempt(active)
	defer m.EndAttempt(active)

	m.ClearQueue()
	if len(m.GetQueue()) != 0 {
		t.Error("Queue should be empty")
	}
	if !m.IsCancelled(active) {
		t.Error("Active download should be flagged cancelled")
	}
}
