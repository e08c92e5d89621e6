package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/youssef-deveg/YTMusic-DL/internal/downloader"
	"github.com/youssef-deveg/YTMusic-DL/internal/models"
	"github.com/youssef-deveg/YTMusic-DL/internal/queue"
)

// ポーリング間隔
const (
	defaultCapacityWait = 500 * time.Millisecond
	defaultIdleWait     = time.Second
)

// HistoryRecorder は完了したダウンロードを履歴に記録する
type HistoryRecorder interface {
	Add(ctx context.Context, entry *models.HistoryEntry) error
}

// Worker はキューを監視してダウンロードをディスパッチする制御ループ
// 同時実行数の上限までディスパッチを並行実行する
type Worker struct {
	queue   *queue.Manager
	engine  downloader.Engine
	history HistoryRecorder

	capacityWait time.Duration
	idleWait     time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	loopWG  sync.WaitGroup
	taskWG  sync.WaitGroup
}

// New は新しいWorkerを作成
// historyはnil可（履歴を記録しない）
func New(q *queue.Manager, engine downloader.Engine, history HistoryRecorder) *Worker {
	return &Worker{
		queue:        q,
		engine:       engine,
		history:      history,
		capacityWait: defaultCapacityWait,
		idleWait:     defaultIdleWait,
	}
}

// SetPollInterval はポーリング間隔を変更する
func (w *Worker) SetPollInterval(capacityWait, idleWait time.Duration) {
	w.capacityWait = capacityWait
	w.idleWait = idleWait
}

// Start は制御ループを開始する
// 既に動作中の場合は何もしない
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	w.loopWG.Add(1)
	go w.run(w.stop)
	log.Println("Download worker started")
}

// Stop は制御ループを停止する
// 実行中のディスパッチは強制終了せず、完了するか個別のキャンセルで終わる
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	w.mu.Unlock()

	w.loopWG.Wait()
	log.Println("Download worker stopped")
}

// Wait は実行中のディスパッチがすべて終わるまで待つ
func (w *Worker) Wait() {
	w.taskWG.Wait()
}

// run は容量と待機アイテムを監視し、ディスパッチを起動し続ける
func (w *Worker) run(stop chan struct{}) {
	defer w.loopWG.Done()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if !w.queue.CanStartDownload() {
			if !w.pause(stop, w.capacityWait) {
				return
			}
			continue
		}

		item, ok := w.queue.GetNextPending()
		if !ok {
			if !w.pause(stop, w.idleWait) {
				return
			}
			continue
		}

		// 次の周回で同じアイテムを拾わないよう、ディスパッチ前に状態を進める
		w.queue.UpdateItemStatus(item.ID, models.StatusProcessing, "")

		w.taskWG.Add(1)
		go w.dispatch(item)
	}
}

// pause はstopを見ながら指定時間待つ
func (w *Worker) pause(stop chan struct{}, d time.Duration) bool {
	select {
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}

// dispatch は1アイテムを抽出エンジンへ渡し、結果をキューへ反映する
func (w *Worker) dispatch(item *models.QueueItem) {
	defer w.taskWG.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Dispatch panicked for %s: %v", item.ID, r)
			w.queue.UpdateItemStatus(item.ID, models.StatusError, "internal error during download")
		}
	}()

	w.queue.BeginAttempt(item.ID)
	defer w.queue.EndAttempt(item.ID)

	progress := func(ev downloader.ProgressEvent) error {
		if w.queue.IsCancelled(item.ID) {
			return downloader.ErrCancelled
		}
		switch ev.Phase {
		case downloader.PhaseDownloading:
			w.queue.UpdateItemProgress(item.ID, ev.Percent(), ev.Speed, ev.ETA)
		case downloader.PhaseConverting:
			w.queue.UpdateItemStatus(item.ID, models.StatusConverting, "")
		}
		return nil
	}

	result, err := w.engine.Fetch(context.Background(), item.URL, item.Quality, progress)
	if err != nil {
		if errors.Is(err, downloader.ErrCancelled) || w.queue.IsCancelled(item.ID) {
			w.queue.UpdateItemStatus(item.ID, models.StatusCancelled, "")
			log.Printf("Download cancelled: %s", item.Title)
		} else {
			w.queue.UpdateItemStatus(item.ID, models.StatusError, err.Error())
			log.Printf("Download failed for %s: %v", item.Title, err)
		}
		return
	}

	w.queue.SetItemOutput(item.ID, result.FilePath, downloader.FormatSize(result.FileSize))
	w.queue.UpdateItemStatus(item.ID, models.StatusDone, "")
	log.Printf("Download completed: %s", item.Title)

	w.recordHistory(item, result)
}

// recordHistory は完了したダウンロードを履歴へ記録する
func (w *Worker) recordHistory(item *models.QueueItem, result *downloader.Result) {
	if w.history == nil {
		return
	}
	entry := &models.HistoryEntry{
		VideoID:  item.VideoID,
		Title:    item.Title,
		Channel:  item.Channel,
		URL:      item.URL,
		Quality:  item.Quality,
		FilePath: result.FilePath,
		FileSize: downloader.FormatSize(result.FileSize),
	}
	if err := w.history.Add(context.Background(), entry); err != nil {
		log.Printf("Failed to record history for %s: %v", item.ID, err)
	}
}
