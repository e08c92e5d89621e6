package models

import "time"

// DownloadStatus はキューアイテムのライフサイクル状態
type DownloadStatus string

// ダウンロードステータス
const (
	StatusWaiting     DownloadStatus = "waiting"
	StatusProcessing  DownloadStatus = "processing"
	StatusDownloading DownloadStatus = "downloading"
	StatusConverting  DownloadStatus = "converting"
	StatusDone        DownloadStatus = "done"
	StatusError       DownloadStatus = "error"
	StatusCancelled   DownloadStatus = "cancelled"
)

// String はステータスの文字列表現を返す
func (s DownloadStatus) String() string {
	return string(s)
}

// IsActive はダウンロード枠を消費している状態かどうかを返す
func (s DownloadStatus) IsActive() bool {
	return s == StatusDownloading || s == StatusProcessing
}

// IsTerminal は終端状態（自動遷移しない状態）かどうかを返す
func (s DownloadStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

// QueueItem はダウンロードキューの1アイテム
type QueueItem struct {
	ID           string         `json:"id"`
	VideoID      string         `json:"video_id"`
	Title        string         `json:"title"`
	Channel      string         `json:"channel"`
	URL          string         `json:"url"`
	Thumbnail    string         `json:"thumbnail"`
	Quality      string         `json:"quality"`
	Status       DownloadStatus `json:"status"`
	Progress     float64        `json:"progress"`
	Speed        string         `json:"speed,omitempty"`
	ETA          string         `json:"eta,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	FilePath     string         `json:"file_path,omitempty"`
	FileSize     string         `json:"file_size,omitempty"`
	AddedAt      time.Time      `json:"added_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	IsShort      bool           `json:"is_short"`
}

// Clone はアイテムのコピーを返す
func (i *QueueItem) Clone() *QueueItem {
	c := *i
	if i.StartedAt != nil {
		t := *i.StartedAt
		c.StartedAt = &t
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Descriptor はエクスポート対象のフィールドを抜き出す
func (i *QueueItem) Descriptor() ItemDescriptor {
	return ItemDescriptor{
		ID:        i.ID,
		VideoID:   i.VideoID,
		Title:     i.Title,
		Channel:   i.Channel,
		URL:       i.URL,
		Thumbnail: i.Thumbnail,
		Quality:   i.Quality,
		IsShort:   i.IsShort,
	}
}

// ItemDescriptor はキューの永続化（エクスポート/インポート）用の記述子
type ItemDescriptor struct {
	ID        string `json:"id"`
	VideoID   string `json:"video_id"`
	Title     string `json:"title"`
	Channel   string `json:"channel"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
	Quality   string `json:"quality"`
	IsShort   bool   `json:"is_short"`
}
