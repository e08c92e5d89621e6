package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/youssef-deveg/YTMusic-DL/internal/queue"
)

// EventsHandler はキュー変更をServer-Sent Eventsで配信する
// 通知はベストエフォート（連続する変更はまとめられる）
type EventsHandler struct {
	queue *queue.Manager
}

// NewEventsHandler は新しいEventsHandlerを作成
func NewEventsHandler(q *queue.Manager) *EventsHandler {
	return &EventsHandler{queue: q}
}

// Stream はSSE接続を開き、キューが変化するたびにイベントを送る
func (h *EventsHandler) Stream(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// 1スロットのシグナルチャネルで通知のバーストをまとめる
	signal := make(chan struct{}, 1)
	remove := h.queue.AddObserver(func() {
		select {
		case signal <- struct{}{}:
		default:
		}
	})
	defer remove()

	if err := h.writeEvent(w); err != nil {
		return nil
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-signal:
			if err := h.writeEvent(w); err != nil {
				return nil
			}
		}
	}
}

// writeEvent は現在の全体進捗を1イベントとして書き出す
func (h *EventsHandler) writeEvent(w *echo.Response) error {
	progress, completed, failed := h.queue.GetGlobalProgress()
	payload, err := json.Marshal(map[string]any{
		"progress":  progress,
		"completed": completed,
		"failed":    failed,
		"active":    h.queue.GetActiveDownloads(),
		"pending":   h.queue.GetPendingCount(),
	})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: queue\ndata: %s\n\n", payload); err != nil {
		return err
	}
	w.Flush()
	return nil
}
