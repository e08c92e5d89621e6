package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/youssef-deveg/YTMusic-DL/internal/models"
)

// 同時ダウンロード数の範囲
const (
	MinConcurrentDownloads     = 1
	MaxConcurrentDownloadLimit = 5
)

// 設定キー
const (
	KeyDownloadPath           = "download_path"
	KeyDefaultQuality         = "default_quality"
	KeyMaxConcurrentDownloads = "max_concurrent_downloads"
	KeyAddMetadata            = "add_metadata"
	KeyEmbedThumbnail         = "embed_thumbnail"
	KeyAutoAddAudioKeyword    = "auto_add_audio_keyword"
	KeySearchSort             = "search_sort"
	KeySearchDurationFilter   = "search_duration_filter"
	KeySearchTypeFilter       = "search_type_filter"
)

// defaults はデフォルト設定
func defaults() map[string]any {
	home, _ := os.UserHomeDir()
	return map[string]any{
		KeyDownloadPath:           filepath.Join(home, "Music", "YouTubeDownloads"),
		KeyDefaultQuality:         "best_opus",
		KeyMaxConcurrentDownloads: 3,
		KeyAddMetadata:            true,
		KeyEmbedThumbnail:         true,
		KeyAutoAddAudioKeyword:    true,
		KeySearchSort:             "relevance",
		KeySearchDurationFilter:   "",
		KeySearchTypeFilter:       "",
	}
}

// Store はJSONファイルに永続化される設定ストア
// キューのエクスポートファイルも管理する
type Store struct {
	mu        sync.Mutex
	path      string
	exportDir string
	values    map[string]any
}

// Open は設定を読み込んでStoreを作成する
// ファイルが無い場合はデフォルトで開始する
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	exportDir := filepath.Join(dataDir, "queues")
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	s := &Store{
		path:      filepath.Join(dataDir, "settings.json"),
		exportDir: exportDir,
		values:    defaults(),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	var loaded map[string]any
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	for k, v := range loaded {
		s.values[k] = v
	}
	return s, nil
}

// saveLocked は設定をファイルへ書き出す
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// Get は設定値を取得する（未設定ならdefを返す）
func (s *Store) Get(key string, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

// Set は設定値を保存する
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.saveLocked()
}

// Update は複数の設定値をまとめて保存する
func (s *Store) Update(updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range updates {
		if k == KeyMaxConcurrentDownloads {
			s.values[k] = clampConcurrent(intValue(v, 3))
			continue
		}
		s.values[k] = v
	}
	return s.saveLocked()
}

// All はすべての設定値のコピーを返す
func (s *Store) All() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// ResetToDefaults は設定をデフォルトに戻す
func (s *Store) ResetToDefaults() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = defaults()
	return s.saveLocked()
}

// MaxConcurrentDownloads は同時ダウンロード数の上限を返す
func (s *Store) MaxConcurrentDownloads() int {
	return clampConcurrent(intValue(s.Get(KeyMaxConcurrentDownloads, 3), 3))
}

// SetMaxConcurrentDownloads は同時ダウンロード数を範囲内に丸めて保存する
func (s *Store) SetMaxConcurrentDownloads(n int) error {
	return s.Set(KeyMaxConcurrentDownloads, clampConcurrent(n))
}

// DefaultQuality はデフォルトの品質プロファイルIDを返す
func (s *Store) DefaultQuality() string {
	return stringValue(s.Get(KeyDefaultQuality, "best_opus"), "best_opus")
}

// DownloadPath はダウンロード先ディレクトリを返す
func (s *Store) DownloadPath() string {
	def := defaults()[KeyDownloadPath].(string)
	return stringValue(s.Get(KeyDownloadPath, def), def)
}

// EmbedMetadata はメタデータ埋め込みの有効/無効を返す
func (s *Store) EmbedMetadata() bool {
	return boolValue(s.Get(KeyAddMetadata, true), true)
}

// AutoAddAudioKeyword は検索語への"audio"付与の有効/無効を返す
func (s *Store) AutoAddAudioKeyword() bool {
	return boolValue(s.Get(KeyAutoAddAudioKeyword, true), true)
}

// queueExport はエクスポートファイルの形式
type queueExport struct {
	ExportedAt time.Time               `json:"exported_at"`
	Items      []models.ItemDescriptor `json:"items"`
}

// ExportInfo はエクスポート済みファイルの情報
type ExportInfo struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Modified time.Time `json:"modified"`
}

// ExportQueue はアイテム記述子を名前付きJSONファイルへ書き出す
func (s *Store) ExportQueue(name string, items []models.ItemDescriptor) error {
	path, err := s.exportPath(name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(queueExport{ExportedAt: time.Now(), Items: items}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ImportQueue は名前付きエクスポートファイルから記述子を読み込む
func (s *Store) ImportQueue(name string) ([]models.ItemDescriptor, error) {
	path, err := s.exportPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	var doc queueExport
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse export: %w", err)
	}
	return doc.Items, nil
}

// ListExports はエクスポート済みファイルの一覧を新しい順で返す
func (s *Store) ListExports() ([]ExportInfo, error) {
	entries, err := os.ReadDir(s.exportDir)
	if err != nil {
		return nil, err
	}
	var infos []ExportInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, ExportInfo{
			Name:     strings.TrimSuffix(e.Name(), ".json"),
			Path:     filepath.Join(s.exportDir, e.Name()),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Modified.After(infos[j].Modified)
	})
	return infos, nil
}

// DeleteExport は名前付きエクスポートファイルを削除する
func (s *Store) DeleteExport(name string) error {
	path, err := s.exportPath(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// exportPath はエクスポート名を検証してファイルパスを返す
func (s *Store) exportPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid export name: %q", name)
	}
	return filepath.Join(s.exportDir, name+".json"), nil
}

func clampConcurrent(n int) int {
	if n < MinConcurrentDownloads {
		return MinConcurrentDownloads
	}
	if n > MaxConcurrentDownloadLimit {
		return MaxConcurrentDownloadLimit
	}
	return n
}

// intValue はJSON由来の数値（float64含む）をintへ変換する
func intValue(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

func stringValue(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func boolValue(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}
