package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/youssef-deveg/YTMusic-DL/internal/downloader"
	"github.com/youssef-deveg/YTMusic-DL/internal/settings"
)

// SettingsHandler は設定APIのハンドラー
type SettingsHandler struct {
	store *settings.Store
}

// NewSettingsHandler は新しいSettingsHandlerを作成
func NewSettingsHandler(store *settings.Store) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// Get はすべての設定値を返す
func (h *SettingsHandler) Get(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.All())
}

// Update は設定値をまとめて更新する
func (h *SettingsHandler) Update(c echo.Context) error {
	var updates map[string]any
	if err := c.Bind(&updates); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := h.store.Update(updates); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, h.store.All())
}

// Reset は設定をデフォルトに戻す
func (h *SettingsHandler) Reset(c echo.Context) error {
	if err := h.store.ResetToDefaults(); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, h.store.All())
}

// Qualities は利用可能な品質プロファイル一覧を返す
func (h *SettingsHandler) Qualities(c echo.Context) error {
	type quality struct {
		ID    string `json:"id"`
		Label string `json:"label"`
		Ext   string `json:"ext"`
	}
	var out []quality
	for _, p := range downloader.Profiles() {
		out = append(out, quality{ID: p.ID, Label: p.Label, Ext: p.Ext})
	}
	return c.JSON(http.StatusOK, out)
}
