package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/youssef-deveg/YTMusic-DL/internal/downloader"
	"github.com/youssef-deveg/YTMusic-DL/internal/handlers"
	"github.com/youssef-deveg/YTMusic-DL/internal/queue"
	"github.com/youssef-deveg/YTMusic-DL/internal/search"
	"github.com/youssef-deveg/YTMusic-DL/internal/settings"
	"github.com/youssef-deveg/YTMusic-DL/internal/storage"
	"github.com/youssef-deveg/YTMusic-DL/internal/version"
	"github.com/youssef-deveg/YTMusic-DL/internal/worker"
)

func main() {
	// .envファイルを読み込み（存在しない場合はスキップ）
	_ = godotenv.Load()

	// 環境変数からポート番号を取得（デフォルト: 8080）
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatal(err)
		}
		dataDir = filepath.Join(home, ".ytmusic-dl")
	}

	store, err := settings.Open(dataDir)
	if err != nil {
		log.Fatal(err)
	}

	db, err := storage.Open(filepath.Join(dataDir, "ytmusic.db"))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	historyRepo := storage.NewHistoryRepository(db)
	queueManager := queue.NewManager(store)
	engine := downloader.New(store)
	downloadWorker := worker.New(queueManager, engine, historyRepo)
	searchClient := search.NewClient(os.Getenv("YOUTUBE_API_KEY"))

	// Echoインスタンスの作成
	e := echo.New()

	// ミドルウェアの設定
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// ルートの登録
	queueHandler := handlers.NewQueueHandler(queueManager, downloadWorker, store)
	searchHandler := handlers.NewSearchHandler(searchClient, store)
	settingsHandler := handlers.NewSettingsHandler(store)
	historyHandler := handlers.NewHistoryHandler(historyRepo)
	eventsHandler := handlers.NewEventsHandler(queueManager)

	api := e.Group("/api")
	api.POST("/queue", queueHandler.Add)
	api.GET("/queue", queueHandler.List)
	api.DELETE("/queue", queueHandler.Clear)
	api.GET("/queue/progress", queueHandler.Progress)
	api.POST("/queue/cancel-all", queueHandler.CancelAll)
	api.POST("/queue/retry-failed", queueHandler.RetryFailed)
	api.POST("/queue/clear-completed", queueHandler.ClearCompleted)
	api.POST("/queue/export", queueHandler.Export)
	api.POST("/queue/import", queueHandler.Import)
	api.GET("/queue/exports", queueHandler.ListExports)
	api.DELETE("/queue/exports/:name", queueHandler.DeleteExport)
	api.GET("/queue/:id", queueHandler.Get)
	api.DELETE("/queue/:id", queueHandler.Remove)
	api.POST("/queue/:id/cancel", queueHandler.Cancel)
	api.POST("/queue/:id/retry", queueHandler.Retry)

	api.GET("/search", searchHandler.Search)
	api.GET("/videos/:id", searchHandler.Video)
	api.GET("/playlists/:id", searchHandler.Playlist)

	api.GET("/settings", settingsHandler.Get)
	api.PUT("/settings", settingsHandler.Update)
	api.POST("/settings/reset", settingsHandler.Reset)
	api.GET("/settings/qualities", settingsHandler.Qualities)

	api.GET("/history", historyHandler.List)
	api.DELETE("/history", historyHandler.Clear)

	api.GET("/events", eventsHandler.Stream)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	})

	// サーバー起動
	go func() {
		log.Printf("Starting YTMusic-DL v%s on port %s", version.Version, port)
		if err := e.Start(fmt.Sprintf(":%s", port)); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// シグナルを待ってグレースフルシャットダウン
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	downloadWorker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
}
