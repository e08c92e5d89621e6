package downloader

import (
	"context"
	"errors"
)

// ErrCancelled はプログレスコールバックによる中断を表す
var ErrCancelled = errors.New("download cancelled")

// Phase は抽出処理の段階
type Phase string

// 抽出段階
const (
	PhaseDownloading Phase = "downloading"
	PhaseConverting  Phase = "converting"
	PhaseFinished    Phase = "finished"
)

// ProgressEvent は抽出中に報告される進捗イベント
type ProgressEvent struct {
	Phase      Phase
	Downloaded int64
	Total      int64 // 不明な場合は0
	Speed      string
	ETA        string
}

// Percent はイベントから進捗率を計算する
func (e ProgressEvent) Percent() float64 {
	if e.Total <= 0 {
		return 0
	}
	return float64(e.Downloaded) / float64(e.Total) * 100
}

// ProgressFunc は進捗通知コールバック
// エラーを返すと抽出は中断される（ErrCancelledでキャンセル扱い）
type ProgressFunc func(ev ProgressEvent) error

// Result は抽出結果
type Result struct {
	FilePath string
	FileSize int64
}

// Engine はURLと品質プロファイルから音声を取得・変換する抽出エンジン
type Engine interface {
	Fetch(ctx context.Context, url, quality string, progress ProgressFunc) (*Result, error)
}
