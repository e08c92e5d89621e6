package models

import "time"

// HistoryEntry はダウンロード履歴の1レコード
type HistoryEntry struct {
	ID           string    `json:"id"`
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	Channel      string    `json:"channel"`
	URL          string    `json:"url"`
	Quality      string    `json:"quality"`
	FilePath     string    `json:"file_path"`
	FileSize     string    `json:"file_size"`
	DownloadedAt time.Time `json:"downloaded_at"`
}
