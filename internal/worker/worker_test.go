package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/youssef-deveg/YTMusic-DL/internal/downloader"
	"github.com/youssef-deveg/YTMusic-DL/internal/models"
	"github.com/youssef-deveg/YTMusic-DL/internal/queue"
)

// fixedConfig is a ConfigStore with an adjustable concurrency limit.
type fixedConfig struct {
	limit int64
}

func (c *fixedConfig) MaxConcurrentDownloads() int { return int(atomic.LoadInt64(&c.limit)) }

// fakeEngine simulates an extraction engine. Each fetch reports a few
// progress events and then returns the configured result or error.
type fakeEngine struct {
	mu       sync.Mutex
	active   int
	maxSeen  int
	fetched  []string
	delay    time.Duration
	err      error
	failURLs map[string]error
}

func (e *fakeEngine) Fetch(ctx context.Context, url, quality string, progress downloader.ProgressFunc) (*downloader.Result, error) {
	e.mu.Lock()
	e.active++
	if e.active > e.maxSeen {
		e.maxSeen = e.active
	}
	e.fetched = append(e.fetched, url)
	failErr := e.err
	if err, ok := e.failURLs[url]; ok {
		failErr = err
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	for i := int64(1); i <= 4; i++ {
		if err := progress(downloader.ProgressEvent{
			Phase:      downloader.PhaseDownloading,
			Downloaded: i * 25,
			Total:      100,
			Speed:      "1.0MB/s",
		}); err != nil {
			return nil, err
		}
		if e.delay > 0 {
			time.Sleep(e.delay)
		}
	}

	if failErr != nil {
		return nil, failErr
	}

	if err := progress(downloader.ProgressEvent{Phase: downloader.PhaseConverting}); err != nil {
		return nil, err
	}
	return &downloader.Result{FilePath: "/tmp/" + quality + ".opus", FileSize: 1024}, nil
}

// memoryHistory records history entries in memory.
type memoryHistory struct {
	mu      sync.Mutex
	entries []*models.HistoryEntry
}

func (h *memoryHistory) Add(ctx context.Context, entry *models.HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	return nil
}

func (h *memoryHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func newTestWorker(limit int, engine downloader.Engine, history HistoryRecorder) (*Worker, *queue.Manager) {
	q := queue.NewManager(&fixedConfig{limit: int64(limit)})
	w := New(q, engine, history)
	w.SetPollInterval(5*time.Millisecond, 5*time.Millisecond)
	return w, q
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func TestWorkerProcessesQueueToCompletion(t *testing.T) {
	engine := &fakeEngine{}
	history := &memoryHistory{}
	w, q := newTestWorker(2, engine, history)

	ids := q.AddItems([]*models.QueueItem{
		{VideoID: "v1", Title: "one", URL: "https://youtube.com/watch?v=v1", Quality: "best_opus"},
		{VideoID: "v2", Title: "two", URL: "https://youtube.com/watch?v=v2", Quality: "best_opus"},
	})

	w.Start()
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return q.GetCompletedCount() == 2
	})
	w.Wait()

	for _, id := range ids {
		item, _ := q.GetItem(id)
		if item.Status != models.StatusDone {
			t.Errorf("Expected done, got %s", item.Status)
		}
		if item.Progress != 100 {
			t.Errorf("Expected progress 100, got %.1f", item.Progress)
		}
		if item.FilePath == "" || item.FileSize == "" {
			t.Error("Expected output path and size to be recorded")
		}
	}
	if history.count() != 2 {
		t.Errorf("Expected 2 history entries, got %d", history.count())
	}
}

func TestWorkerRespectsConcurrencyLimit(t *testing.T) {
	engine := &fakeEngine{delay: 10 * time.Millisecond}
	w, q := newTestWorker(2, engine, nil)

	items := make([]*models.QueueItem, 6)
	for i := range items {
		items[i] = &models.QueueItem{
			Title: fmt.Sprintf("song %d", i),
			URL:   fmt.Sprintf("https://youtube.com/watch?v=v%d", i),
		}
	}
	q.AddItems(items)

	w.Start()
	defer w.Stop()

	waitFor(t, 5*time.Second, func() bool {
		return q.GetCompletedCount() == 6
	})
	w.Wait()

	engine.mu.Lock()
	maxSeen := engine.maxSeen
	engine.mu.Unlock()
	if maxSeen > 2 {
		t.Errorf("Concurrency limit exceeded: saw %d simultaneous fetches", maxSeen)
	}
}

func TestWorkerDispatchesInQueueOrder(t *testing.T) {
	engine := &fakeEngine{}
	w, q := newTestWorker(1, engine, nil)

	urls := []string{"u1", "u2", "u3"}
	for _, u := range urls {
		q.AddItem(&models.QueueItem{Title: u, URL: u})
	}

	w.Start()
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return q.GetCompletedCount() == 3
	})
	w.Wait()

	engine.mu.Lock()
	defer engine.mu.Unlock()
	for i, u := range urls {
		if engine.fetched[i] != u {
			t.Errorf("Expected fetch %d to be %s, got %s", i, u, engine.fetched[i])
		}
	}
}

func TestWorkerMarksFailedItems(t *testing.T) {
	engine := &fakeEngine{err: errors.New("network unreachable")}
	w, q := newTestWorker(1, engine, nil)

	id := q.AddItem(&models.QueueItem{Title: "song", URL: "u1"})

	w.Start()
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return q.GetFailedCount() == 1
	})
	w.Wait()

	item, _ := q.GetItem(id)
	if item.Status != models.StatusError {
		t.Errorf("Expected error, got %s", item.Status)
	}
	if item.ErrorMessage != "network unreachable" {
		t.Errorf("Expected error message, got %q", item.ErrorMessage)
	}
}

func TestWorkerCancellationMidDownload(t *testing.T) {
	engine := &fakeEngine{delay: 20 * time.Millisecond}
	w, q := newTestWorker(1, engine, nil)

	id := q.AddItem(&models.QueueItem{Title: "song", URL: "u1"})
	next := q.AddItem(&models.QueueItem{Title: "next", URL: "u2"})

	w.Start()
	defer w.Stop()

	// Wait until the first item is actually downloading, then cancel it.
	waitFor(t, 2*time.Second, func() bool {
		item, _ := q.GetItem(id)
		return item.Status == models.StatusDownloading
	})
	if !q.CancelDownload(id) {
		t.Fatal("Cancel failed")
	}

	// The freed slot should let the next item finish.
	waitFor(t, 2*time.Second, func() bool {
		item, _ := q.GetItem(next)
		return item.Status == models.StatusDone
	})
	w.Wait()

	item, _ := q.GetItem(id)
	if item.Status != models.StatusCancelled {
		t.Errorf("Expected cancelled, got %s", item.Status)
	}
	if item.ErrorMessage != "" {
		t.Errorf("Cancellation should not record an error, got %q", item.ErrorMessage)
	}
}

func TestWorkerMapsEngineCancelToStatus(t *testing.T) {
	engine := &fakeEngine{err: downloader.ErrCancelled}
	w, q := newTestWorker(1, engine, nil)

	id := q.AddItem(&models.QueueItem{Title: "song", URL: "u1"})

	w.Start()
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool {
		item, _ := q.GetItem(id)
		return item.Status == models.StatusCancelled
	})
	w.Wait()
}

func TestWorkerStartIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	w, q := newTestWorker(1, engine, nil)

	w.Start()
	w.Start()
	w.Start()
	defer w.Stop()

	q.AddItem(&models.QueueItem{Title: "song", URL: "u1"})
	waitFor(t, 2*time.Second, func() bool {
		return q.GetCompletedCount() == 1
	})
	w.Wait()

	// A single control loop dispatches each item exactly once.
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if len(engine.fetched) != 1 {
		t.Errorf("Expected 1 fetch, got %d", len(engine.fetched))
	}
}

func TestWorkerStopHaltsDispatching(t *testing.T) {
	engine := &fakeEngine{}
	w, q := newTestWorker(1, engine, nil)

	w.Start()
	w.Stop()

	q.AddItem(&models.QueueItem{Title: "song", URL: "u1"})
	time.Sleep(50 * time.Millisecond)

	if q.GetCompletedCount() != 0 {
		t.Error("Stopped worker must not dispatch")
	}
	item, _ := q.GetNextPending()
	if item == nil {
		t.Error("Item should still be waiting")
	}
}

func TestWorkerMixedResults(t *testing.T) {
	engine := &fakeEngine{failURLs: map[string]error{
		"bad": errors.New("age restricted"),
	}}
	w, q := newTestWorker(2, engine, nil)

	q.AddItems([]*models.QueueItem{
		{Title: "good", URL: "good"},
		{Title: "bad", URL: "bad"},
		{Title: "also good", URL: "good2"},
	})

	w.Start()
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return q.GetCompletedCount() == 2 && q.GetFailedCount() == 1
	})
	w.Wait()
}
