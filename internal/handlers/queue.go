package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/youssef-deveg/YTMusic-DL/internal/models"
	"github.com/youssef-deveg/YTMusic-DL/internal/queue"
	"github.com/youssef-deveg/YTMusic-DL/internal/settings"
	"github.com/youssef-deveg/YTMusic-DL/internal/worker"
)

// QueueHandler はダウンロードキューAPIのハンドラー
type QueueHandler struct {
	queue  *queue.Manager
	worker *worker.Worker
	store  *settings.Store
}

// NewQueueHandler は新しいQueueHandlerを作成
func NewQueueHandler(q *queue.Manager, w *worker.Worker, store *settings.Store) *QueueHandler {
	return &QueueHandler{queue: q, worker: w, store: store}
}

// addRequest はキュー追加リクエストの1アイテム
type addRequest struct {
	VideoID   string `json:"video_id"`
	Title     string `json:"title"`
	Channel   string `json:"channel"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
	Quality   string `json:"quality"`
	IsShort   bool   `json:"is_short"`
}

// Add はアイテムをキューへ追加する
// ワーカーは最初の追加で遅延起動される
func (h *QueueHandler) Add(c echo.Context) error {
	var body struct {
		Items []addRequest `json:"items"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if len(body.Items) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "no items provided"})
	}

	defaultQuality := h.store.DefaultQuality()
	items := make([]*models.QueueItem, 0, len(body.Items))
	for _, req := range body.Items {
		if req.VideoID == "" && req.URL == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "item requires video_id or url"})
		}
		url := req.URL
		if url == "" {
			url = "https://www.youtube.com/watch?v=" + req.VideoID
		}
		quality := req.Quality
		if quality == "" {
			quality = defaultQuality
		}
		items = append(items, &models.QueueItem{
			VideoID:   req.VideoID,
			Title:     req.Title,
			Channel:   req.Channel,
			URL:       url,
			Thumbnail: req.Thumbnail,
			Quality:   quality,
			IsShort:   req.IsShort,
		})
	}

	ids := h.queue.AddItems(items)
	h.worker.Start()

	return c.JSON(http.StatusCreated, map[string]any{"ids": ids})
}

// List はキューのスナップショットを返す
func (h *QueueHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.queue.GetQueue())
}

// Progress は全体進捗と集計を返す
func (h *QueueHandler) Progress(c echo.Context) error {
	progress, completed, failed := h.queue.GetGlobalProgress()
	return c.JSON(http.StatusOK, map[string]any{
		"progress":  progress,
		"completed": completed,
		"failed":    failed,
		"active":    h.queue.GetActiveDownloads(),
		"pending":   h.queue.GetPendingCount(),
	})
}

// Get はアイテムを取得する
func (h *QueueHandler) Get(c echo.Context) error {
	item, ok := h.queue.GetItem(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "item not found"})
	}
	return c.JSON(http.StatusOK, item)
}

// Remove はアイテムを削除する（ダウンロード中なら先にキャンセル）
func (h *QueueHandler) Remove(c echo.Context) error {
	if !h.queue.RemoveItem(c.Param("id")) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "item not found"})
	}
	return c.NoContent(http.StatusNoContent)
}

// Cancel は実行中のダウンロードをキャンセルする
func (h *QueueHandler) Cancel(c echo.Context) error {
	if !h.queue.CancelDownload(c.Param("id")) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "item is not cancellable"})
	}
	return c.NoContent(http.StatusNoContent)
}

// CancelAll は実行中と待機中のすべてをキャンセルする
func (h *QueueHandler) CancelAll(c echo.Context) error {
	h.queue.CancelAll()
	return c.NoContent(http.StatusNoContent)
}

// Retry は失敗したアイテムを再試行する
func (h *QueueHandler) Retry(c echo.Context) error {
	if !h.queue.RetryItem(c.Param("id")) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "item is not retryable"})
	}
	h.worker.Start()
	return c.NoContent(http.StatusNoContent)
}

// RetryFailed はすべての失敗アイテムを再試行する
func (h *QueueHandler) RetryFailed(c echo.Context) error {
	count := h.queue.RetryAllFailed()
	if count > 0 {
		h.worker.Start()
	}
	return c.JSON(http.StatusOK, map[string]int{"retried": count})
}

// ClearCompleted は完了・キャンセル済みアイテムを取り除き、残件数を返す
func (h *QueueHandler) ClearCompleted(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{"remaining": h.queue.ClearCompleted()})
}

// Clear はキュー全体を空にする
func (h *QueueHandler) Clear(c echo.Context) error {
	h.queue.ClearQueue()
	return c.NoContent(http.StatusNoContent)
}

// exportRequest はエクスポート/インポートの対象名
type exportRequest struct {
	Name string `json:"name"`
}

// Export は待機中と失敗のアイテムを名前付きファイルへ書き出す
func (h *QueueHandler) Export(c echo.Context) error {
	var req exportRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "export name required"})
	}
	if err := h.queue.ExportTo(h.store, req.Name); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, map[string]string{"name": req.Name})
}

// Import は名前付きファイルからアイテムを取り込む
func (h *QueueHandler) Import(c echo.Context) error {
	var req exportRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "import name required"})
	}
	count, err := h.queue.ImportFrom(h.store, req.Name)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if count > 0 {
		h.worker.Start()
	}
	return c.JSON(http.StatusOK, map[string]int{"imported": count})
}

// ListExports はエクスポート済みファイルの一覧を返す
func (h *QueueHandler) ListExports(c echo.Context) error {
	infos, err := h.store.ListExports()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, infos)
}

// DeleteExport はエクスポート済みファイルを削除する
func (h *QueueHandler) DeleteExport(c echo.Context) error {
	if err := h.store.DeleteExport(c.Param("name")); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "export not found"})
	}
	return c.NoContent(http.StatusNoContent)
}
