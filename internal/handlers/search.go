package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/youssef-deveg/YTMusic-DL/internal/search"
	"github.com/youssef-deveg/YTMusic-DL/internal/settings"
)

// SearchHandler は検索APIのハンドラー
type SearchHandler struct {
	client *search.Client
	store  *settings.Store
}

// NewSearchHandler は新しいSearchHandlerを作成
func NewSearchHandler(client *search.Client, store *settings.Store) *SearchHandler {
	return &SearchHandler{client: client, store: store}
}

// Search は動画を検索する
// フィルターが未指定の場合は設定値を使う
func (h *SearchHandler) Search(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "query parameter q required"})
	}

	opts := search.Options{
		Order:           c.QueryParam("order"),
		Duration:        c.QueryParam("duration"),
		Type:            c.QueryParam("type"),
		AddAudioKeyword: h.store.AutoAddAudioKeyword(),
	}
	if opts.Order == "" {
		opts.Order, _ = h.store.Get(settings.KeySearchSort, "relevance").(string)
	}
	if opts.Duration == "" {
		opts.Duration, _ = h.store.Get(settings.KeySearchDurationFilter, "").(string)
	}
	if opts.Type == "" {
		opts.Type, _ = h.store.Get(settings.KeySearchTypeFilter, "").(string)
	}
	if max := c.QueryParam("max"); max != "" {
		if parsed, err := strconv.Atoi(max); err == nil {
			opts.MaxResults = parsed
		}
	}

	results, err := h.client.Search(c.Request().Context(), query, opts)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, results)
}

// Video は単一動画の情報を取得する
func (h *SearchHandler) Video(c echo.Context) error {
	result, err := h.client.VideoInfo(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	if result == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "video not found"})
	}
	return c.JSON(http.StatusOK, result)
}

// Playlist はプレイリスト内の動画一覧を取得する
func (h *SearchHandler) Playlist(c echo.Context) error {
	results, err := h.client.PlaylistVideos(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, results)
}
