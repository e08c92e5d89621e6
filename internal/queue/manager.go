package queue

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/youssef-deveg/YTMusic-DL/internal/models"
)

// デフォルトの最大リトライ回数
const defaultMaxRetries = 3

// ConfigStore は同時ダウンロード数の設定を提供する
type ConfigStore interface {
	MaxConcurrentDownloads() int
}

// ExportSink はキューのエクスポート先
type ExportSink interface {
	ExportQueue(name string, items []models.ItemDescriptor) error
}

// ImportSource はキューのインポート元
type ImportSource interface {
	ImportQueue(name string) ([]models.ItemDescriptor, error)
}

// attempt は実行中ダウンロードのキャンセルフラグ
type attempt struct {
	cancelled bool
}

// Manager はダウンロードキューを管理する
// すべての読み書きは単一のミューテックスで直列化され、
// オブザーバー通知はロック外で行われる
type Manager struct {
	mu           sync.Mutex
	items        []*models.QueueItem
	observers    map[int]func()
	nextObserver int
	attempts     map[string]*attempt
	config       ConfigStore
}

// NewManager は新しいManagerを作成
func NewManager(config ConfigStore) *Manager {
	return &Manager{
		observers: make(map[int]func()),
		attempts:  make(map[string]*attempt),
		config:    config,
	}
}

// AddObserver はキュー変更時に呼ばれるコールバックを登録し、解除関数を返す
func (m *Manager) AddObserver(fn func()) func() {
	m.mu.Lock()
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// notify は登録済みオブザーバーをロック外で呼び出す
func (m *Manager) notify() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Queue observer panicked: %v", r)
				}
			}()
			fn()
		}()
	}
}

// AddItem はアイテムをキュー末尾に追加してIDを返す
func (m *Manager) AddItem(item *models.QueueItem) string {
	m.mu.Lock()
	m.addLocked(item)
	m.mu.Unlock()
	m.notify()
	return item.ID
}

// AddItems は複数アイテムをまとめて追加してID一覧を返す
func (m *Manager) AddItems(items []*models.QueueItem) []string {
	ids := make([]string, 0, len(items))
	m.mu.Lock()
	for _, item := range items {
		m.addLocked(item)
		ids = append(ids, item.ID)
	}
	m.mu.Unlock()
	m.notify()
	return ids
}

func (m *Manager) addLocked(item *models.QueueItem) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = models.StatusWaiting
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now()
	}
	if item.MaxRetries == 0 {
		item.MaxRetries = defaultMaxRetries
	}
	m.items = append(m.items, item)
}

// RemoveItem はアイテムを削除する
// ダウンロード中の場合は先にキャンセルする
func (m *Manager) RemoveItem(id string) bool {
	m.mu.Lock()
	removed := false
	for i, item := range m.items {
		if item.ID != id {
			continue
		}
		if item.Status == models.StatusDownloading {
			m.cancelLocked(item)
		}
		m.items = append(m.items[:i], m.items[i+1:]...)
		removed = true
		break
	}
	m.mu.Unlock()

	if removed {
		m.notify()
	}
	return removed
}

// cancelLocked はアイテムをキャンセル状態にし、実行中ならフラグを立てる
func (m *Manager) cancelLocked(item *models.QueueItem) bool {
	if item.Status != models.StatusDownloading && item.Status != models.StatusProcessing {
		return false
	}
	item.Status = models.StatusCancelled
	if a, ok := m.attempts[item.ID]; ok {
		a.cancelled = true
	}
	return true
}

// CancelDownload は実行中（Downloading/Processing）のダウンロードをキャンセルする
func (m *Manager) CancelDownload(id string) bool {
	m.mu.Lock()
	ok := false
	for _, item := range m.items {
		if item.ID == id {
			ok = m.cancelLocked(item)
			break
		}
	}
	m.mu.Unlock()

	if ok {
		m.notify()
	}
	return ok
}

// CancelAll は実行中と待機中のすべてのアイテムをキャンセルする
func (m *Manager) CancelAll() {
	m.mu.Lock()
	for _, item := range m.items {
		switch item.Status {
		case models.StatusDownloading, models.StatusProcessing:
			m.cancelLocked(item)
		case models.StatusWaiting:
			item.Status = models.StatusCancelled
		}
	}
	m.mu.Unlock()
	m.notify()
}

// RetryItem は失敗したアイテムを待機状態に戻す
// Error状態のアイテムのみ対象
func (m *Manager) RetryItem(id string) bool {
	m.mu.Lock()
	ok := false
	for _, item := range m.items {
		if item.ID == id && item.Status == models.StatusError {
			m.retryLocked(item)
			ok = true
			break
		}
	}
	m.mu.Unlock()

	if ok {
		m.notify()
	}
	return ok
}

// RetryAllFailed はすべての失敗アイテムを待機状態に戻し、件数を返す
func (m *Manager) RetryAllFailed() int {
	m.mu.Lock()
	count := 0
	for _, item := range m.items {
		if item.Status == models.StatusError {
			m.retryLocked(item)
			count++
		}
	}
	m.mu.Unlock()

	if count > 0 {
		m.notify()
	}
	return count
}

func (m *Manager) retryLocked(item *models.QueueItem) {
	item.Status = models.StatusWaiting
	item.Progress = 0
	item.Speed = ""
	item.ETA = ""
	item.ErrorMessage = ""
	item.CompletedAt = nil
	item.RetryCount++
}

// ClearCompleted は完了（Done/Cancelled）アイテムを取り除き、残件数を返す
func (m *Manager) ClearCompleted() int {
	m.mu.Lock()
	kept := m.items[:0]
	for _, item := range m.items {
		if item.Status != models.StatusDone && item.Status != models.StatusCancelled {
			kept = append(kept, item)
		}
	}
	m.items = kept
	remaining := len(m.items)
	m.mu.Unlock()

	m.notify()
	return remaining
}

// ClearQueue はすべてをキャンセルしてキューを空にする
func (m *Manager) ClearQueue() {
	m.CancelAll()
	m.mu.Lock()
	m.items = nil
	m.mu.Unlock()
	m.notify()
}

// GetItem はIDでアイテムのコピーを取得する
func (m *Manager) GetItem(id string) (*models.QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.ID == id {
			return item.Clone(), true
		}
	}
	return nil, false
}

// GetQueue はキューのスナップショットを返す
func (m *Manager) GetQueue() []*models.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make([]*models.QueueItem, len(m.items))
	for i, item := range m.items {
		snapshot[i] = item.Clone()
	}
	return snapshot
}

// GetNextPending は挿入順で最初の待機アイテムを返す
func (m *Manager) GetNextPending() (*models.QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.Status == models.StatusWaiting {
			return item.Clone(), true
		}
	}
	return nil, false
}

// GetActiveDownloads は実行中（Downloading/Processing）の件数を返す
func (m *Manager) GetActiveDownloads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

func (m *Manager) activeLocked() int {
	count := 0
	for _, item := range m.items {
		if item.Status.IsActive() {
			count++
		}
	}
	return count
}

// GetPendingCount は待機中の件数を返す
func (m *Manager) GetPendingCount() int {
	return m.countByStatus(models.StatusWaiting)
}

// GetCompletedCount は完了した件数を返す
func (m *Manager) GetCompletedCount() int {
	return m.countByStatus(models.StatusDone)
}

// GetFailedCount は失敗した件数を返す
func (m *Manager) GetFailedCount() int {
	return m.countByStatus(models.StatusError)
}

func (m *Manager) countByStatus(status models.DownloadStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, item := range m.items {
		if item.Status == status {
			count++
		}
	}
	return count
}

// CanStartDownload は同時ダウンロード上限に空きがあるかを返す
// 上限は呼び出しごとに設定ストアから読み直す
func (m *Manager) CanStartDownload() bool {
	limit := m.config.MaxConcurrentDownloads()
	if limit < 1 {
		limit = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked() < limit
}

// UpdateItemProgress は進捗と転送情報を更新する
// 最初の進捗イベントでProcessingからDownloadingへ昇格させる
// 進捗はダウンロード中は単調非減少
func (m *Manager) UpdateItemProgress(id string, progress float64, speed, eta string) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	m.mu.Lock()
	for _, item := range m.items {
		if item.ID != id {
			continue
		}
		if item.Status.IsTerminal() {
			break
		}
		if item.Status != models.StatusDownloading && item.Status != models.StatusConverting {
			item.Status = models.StatusDownloading
			if item.StartedAt == nil {
				now := time.Now()
				item.StartedAt = &now
			}
		}
		if progress > item.Progress {
			item.Progress = progress
		}
		if speed != "" {
			item.Speed = speed
		}
		if eta != "" {
			item.ETA = eta
		}
		break
	}
	m.mu.Unlock()
	m.notify()
}

// UpdateItemStatus はステータスを更新し、タイムスタンプを刻む
// Done/Cancelledからの遷移は無視される
func (m *Manager) UpdateItemStatus(id string, status models.DownloadStatus, errMsg string) {
	m.mu.Lock()
	for _, item := range m.items {
		if item.ID != id {
			continue
		}
		if (item.Status == models.StatusDone || item.Status == models.StatusCancelled) && item.Status != status {
			break
		}
		item.Status = status
		if errMsg != "" {
			item.ErrorMessage = errMsg
		}
		if status == models.StatusDownloading && item.StartedAt == nil {
			now := time.Now()
			item.StartedAt = &now
		}
		if status.IsTerminal() && item.CompletedAt == nil {
			now := time.Now()
			item.CompletedAt = &now
		}
		if status == models.StatusDone {
			item.Progress = 100
			item.Speed = ""
			item.ETA = ""
		}
		break
	}
	m.mu.Unlock()
	m.notify()
}

// SetItemOutput は出力ファイルのパスとサイズを記録する
func (m *Manager) SetItemOutput(id, filePath, fileSize string) {
	m.mu.Lock()
	for _, item := range m.items {
		if item.ID == id {
			item.FilePath = filePath
			item.FileSize = fileSize
			break
		}
	}
	m.mu.Unlock()
	m.notify()
}

// GetGlobalProgress は全体進捗（%）と完了・失敗件数を返す
// Doneは100、それ以外は最終進捗として全件数で平均する
func (m *Manager) GetGlobalProgress() (float64, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return 0, 0, 0
	}

	total := 0.0
	completed := 0
	failed := 0
	for _, item := range m.items {
		switch item.Status {
		case models.StatusDone:
			total += 100
			completed++
		case models.StatusError:
			total += item.Progress
			failed++
		default:
			total += item.Progress
		}
	}
	return total / float64(len(m.items)), completed, failed
}

// BeginAttempt はディスパッチ開始時にキャンセルフラグを登録する
func (m *Manager) BeginAttempt(id string) {
	m.mu.Lock()
	m.attempts[id] = &attempt{}
	m.mu.Unlock()
}

// EndAttempt はディスパッチ終了時にキャンセルフラグを破棄する
func (m *Manager) EndAttempt(id string) {
	m.mu.Lock()
	delete(m.attempts, id)
	m.mu.Unlock()
}

// IsCancelled はアイテムのキャンセルフラグが立っているかを返す
func (m *Manager) IsCancelled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.attempts[id]; ok {
		return a.cancelled
	}
	return false
}

// ExportTo は待機中と失敗のアイテムをシンクへ書き出す
func (m *Manager) ExportTo(sink ExportSink, name string) error {
	m.mu.Lock()
	descriptors := make([]models.ItemDescriptor, 0, len(m.items))
	for _, item := range m.items {
		if item.Status == models.StatusWaiting || item.Status == models.StatusError {
			descriptors = append(descriptors, item.Descriptor())
		}
	}
	m.mu.Unlock()

	return sink.ExportQueue(name, descriptors)
}

// ImportFrom はソースから記述子を読み込み、新しいIDで待機アイテムとして追加する
func (m *Manager) ImportFrom(source ImportSource, name string) (int, error) {
	descriptors, err := source.ImportQueue(name)
	if err != nil {
		return 0, err
	}

	items := make([]*models.QueueItem, 0, len(descriptors))
	for _, d := range descriptors {
		items = append(items, &models.QueueItem{
			ID:        uuid.New().String(),
			VideoID:   d.VideoID,
			Title:     d.Title,
			Channel:   d.Channel,
			URL:       d.URL,
			Thumbnail: d.Thumbnail,
			Quality:   d.Quality,
			IsShort:   d.IsShort,
			Status:    models.StatusWaiting,
		})
	}
	if len(items) == 0 {
		return 0, nil
	}

	m.AddItems(items)
	return len(items), nil
}
