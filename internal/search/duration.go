package search

import (
	"fmt"
	"regexp"
	"strconv"
)

// ショート動画とみなす長さの上限（秒）
const shortMaxSeconds = 60

var isoDurationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseISODuration はISO-8601形式（PT#H#M#S）の再生時間を秒数に変換する
// 解析できない場合は0を返す
func ParseISODuration(s string) int {
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	hours, _ := strconv.Atoi(zeroIfEmpty(m[1]))
	minutes, _ := strconv.Atoi(zeroIfEmpty(m[2]))
	seconds, _ := strconv.Atoi(zeroIfEmpty(m[3]))
	return hours*3600 + minutes*60 + seconds
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// IsShortDuration は再生時間がショート動画（60秒以下）かどうかを返す
func IsShortDuration(seconds int) bool {
	return seconds > 0 && seconds <= shortMaxSeconds
}

// FormatDuration は秒数を「h:mm:ss」または「m:ss」形式にする
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatViews は再生回数を「1.2M」のような短縮表記にする
func FormatViews(views int64) string {
	switch {
	case views >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(views)/1_000_000_000)
	case views >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(views)/1_000_000)
	case views >= 1_000:
		return fmt.Sprintf("%.1fK", float64(views)/1_000)
	default:
		return strconv.FormatInt(views, 10)
	}
}
