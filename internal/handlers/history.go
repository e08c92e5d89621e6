package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/youssef-deveg/YTMusic-DL/internal/storage"
)

// HistoryHandler はダウンロード履歴APIのハンドラー
type HistoryHandler struct {
	repo *storage.HistoryRepository
}

// NewHistoryHandler は新しいHistoryHandlerを作成
func NewHistoryHandler(repo *storage.HistoryRepository) *HistoryHandler {
	return &HistoryHandler{repo: repo}
}

// List は最近の履歴一覧を取得する
func (h *HistoryHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 100
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	entries, err := h.repo.ListRecent(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, entries)
}

// Clear はすべての履歴を削除する
func (h *HistoryHandler) Clear(c echo.Context) error {
	if err := h.repo.Clear(c.Request().Context()); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}
