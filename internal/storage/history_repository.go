package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/youssef-deveg/YTMusic-DL/internal/models"
)

// 履歴の最大保持件数
const historyLimit = 1000

// HistoryRepository はダウンロード履歴のデータアクセス層
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository は新しいHistoryRepositoryを作成
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Add は履歴レコードを追加し、保持上限を超えた古いレコードを削除する
func (r *HistoryRepository) Add(ctx context.Context, entry *models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.DownloadedAt.IsZero() {
		entry.DownloadedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO download_history (id, video_id, title, channel, url, quality, file_path, file_size, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.VideoID, entry.Title, entry.Channel, entry.URL,
		entry.Quality, entry.FilePath, entry.FileSize, entry.DownloadedAt,
	)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		DELETE FROM download_history
		WHERE id NOT IN (
			SELECT id FROM download_history ORDER BY downloaded_at DESC LIMIT ?
		)`, historyLimit)
	return err
}

// ListRecent は最近の履歴一覧を取得する
func (r *HistoryRepository) ListRecent(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 || limit > historyLimit {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, video_id, title, channel, url, quality, file_path, file_size, downloaded_at
		FROM download_history
		ORDER BY downloaded_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.VideoID, &e.Title, &e.Channel, &e.URL,
			&e.Quality, &e.FilePath, &e.FileSize, &e.DownloadedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count は履歴の件数を返す
func (r *HistoryRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM download_history`).Scan(&count)
	return count, err
}

// Clear はすべての履歴を削除する
func (r *HistoryRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM download_history`)
	return err
}
