package downloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ytdl "github.com/kkdai/youtube/v2"
)

// 進捗コールバックの最小間隔
const progressInterval = 250 * time.Millisecond

// Config はダウンローダーが参照する設定
type Config interface {
	DownloadPath() string
	EmbedMetadata() bool
}

// Downloader はYouTubeから音声を取得してffmpegで変換する抽出エンジン
type Downloader struct {
	client ytdl.Client
	config Config
}

// New は新しいDownloaderを作成
func New(config Config) *Downloader {
	return &Downloader{
		client: ytdl.Client{},
		config: config,
	}
}

// Fetch は音声をダウンロードし、品質プロファイルに従って変換する
// progressは段階と進捗を受け取り、エラーを返すと処理を中断する
func (d *Downloader) Fetch(ctx context.Context, url, quality string, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(ProgressEvent) error { return nil }
	}
	profile := ProfileFor(quality)

	video, err := d.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	format, err := selectAudioFormat(video, profile.Source)
	if err != nil {
		return nil, err
	}

	stream, size, err := d.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	defer stream.Close()

	dir := d.config.DownloadPath()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	base := sanitizeFilename(video.Title)
	rawPath := filepath.Join(dir, base+rawExtension(format.MimeType))
	outPath := filepath.Join(dir, base+profile.Ext)

	if err := d.downloadStream(ctx, rawPath, stream, size, progress); err != nil {
		os.Remove(rawPath)
		return nil, err
	}

	if err := progress(ProgressEvent{Phase: PhaseConverting, Downloaded: size, Total: size}); err != nil {
		os.Remove(rawPath)
		return nil, err
	}

	if err := d.convert(ctx, rawPath, outPath, profile, video); err != nil {
		os.Remove(rawPath)
		os.Remove(outPath)
		return nil, err
	}
	os.Remove(rawPath)

	if err := progress(ProgressEvent{Phase: PhaseFinished, Downloaded: size, Total: size}); err != nil {
		os.Remove(outPath)
		return nil, err
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat output: %w", err)
	}

	return &Result{FilePath: outPath, FileSize: info.Size()}, nil
}

// downloadStream はストリームをファイルへコピーし、進捗を報告する
func (d *Downloader) downloadStream(ctx context.Context, path string, stream io.Reader, total int64, progress ProgressFunc) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, 32*1024)
	var written int64
	start := time.Now()
	lastReport := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		nr, rerr := stream.Read(buf)
		if nr > 0 {
			nw, werr := file.Write(buf[:nr])
			if werr != nil {
				return fmt.Errorf("failed to write: %w", werr)
			}
			written += int64(nw)

			if time.Since(lastReport) >= progressInterval {
				lastReport = time.Now()
				if err := progress(downloadEvent(written, total, start)); err != nil {
					return err
				}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return fmt.Errorf("failed to download: %w", rerr)
		}
	}

	return progress(downloadEvent(written, total, start))
}

// downloadEvent は現在の転送量から進捗イベントを組み立てる
func downloadEvent(written, total int64, start time.Time) ProgressEvent {
	ev := ProgressEvent{
		Phase:      PhaseDownloading,
		Downloaded: written,
		Total:      total,
	}
	elapsed := time.Since(start).Seconds()
	if elapsed > 0 && written > 0 {
		rate := float64(written) / elapsed
		ev.Speed = FormatSize(int64(rate)) + "/s"
		if total > written && rate > 0 {
			remaining := float64(total-written) / rate
			ev.ETA = fmt.Sprintf("%ds", int(remaining))
		}
	}
	return ev
}

// convert はffmpegで音声を変換し、必要ならメタデータを埋め込む
func (d *Downloader) convert(ctx context.Context, in, out string, profile QualityProfile, video *ytdl.Video) error {
	args := []string{"-y", "-i", in, "-vn", "-c:a", profile.Codec}
	if profile.Bitrate != "" {
		args = append(args, "-b:a", profile.Bitrate)
	}
	if d.config.EmbedMetadata() {
		args = append(args,
			"-metadata", "title="+video.Title,
			"-metadata", "artist="+video.Author,
		)
	}
	args = append(args, out)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg conversion failed: %w: %s", err, lastLine(output))
	}
	return nil
}

// selectAudioFormat は音声のみのフォーマットから最適なものを選ぶ
// 希望のコンテナが無い場合は最高ビットレートにフォールバックする
func selectAudioFormat(video *ytdl.Video, source string) (*ytdl.Format, error) {
	var audio []*ytdl.Format
	for i := range video.Formats {
		f := &video.Formats[i]
		if !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}
		// 多言語トラックはデフォルト音声のみ対象
		if f.AudioTrack != nil && !f.AudioTrack.AudioIsDefault {
			continue
		}
		audio = append(audio, f)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio formats available")
	}

	sort.Slice(audio, func(i, j int) bool {
		return audio[i].Bitrate > audio[j].Bitrate
	})

	if source == "mp4" || source == "webm" {
		for _, f := range audio {
			if strings.Contains(f.MimeType, source) {
				return f, nil
			}
		}
	}
	return audio[0], nil
}

// rawExtension はMIMEタイプから中間ファイルの拡張子を返す
func rawExtension(mimeType string) string {
	if strings.Contains(mimeType, "mp4") {
		return ".m4a"
	}
	if strings.Contains(mimeType, "webm") {
		return ".webm"
	}
	return ".audio"
}

// sanitizeFilename はファイル名として使えない文字を置換する
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return strings.TrimSpace(replacer.Replace(name))
}

// lastLine はffmpeg出力の末尾行を返す
func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

// FormatSize はバイト数を人間可読な文字列にする
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGT"[exp])
}
