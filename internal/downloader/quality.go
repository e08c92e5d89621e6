package downloader

// QualityProfile は音質プロファイル（コーデック・ビットレートのポリシー）
type QualityProfile struct {
	ID      string
	Label   string
	Source  string // "webm", "mp4", "best" のいずれか
	Codec   string // ffmpegのエンコーダー名
	Bitrate string // 空の場合はエンコーダーのデフォルト
	Ext     string
}

// DefaultQualityID はプロファイル未指定時のフォールバック
const DefaultQualityID = "best_opus"

// profiles は利用可能な音質プロファイル
var profiles = map[string]QualityProfile{
	"best_opus": {
		ID:     "best_opus",
		Label:  "Best Opus (~160kbps)",
		Source: "webm",
		Codec:  "libopus",
		Ext:    ".opus",
	},
	"mp3_320": {
		ID:      "mp3_320",
		Label:   "MP3 320kbps",
		Source:  "best",
		Codec:   "libmp3lame",
		Bitrate: "320k",
		Ext:     ".mp3",
	},
	"flac": {
		ID:     "flac",
		Label:  "FLAC Lossless",
		Source: "best",
		Codec:  "flac",
		Ext:    ".flac",
	},
	"aac_256": {
		ID:      "aac_256",
		Label:   "AAC/M4A 256kbps",
		Source:  "mp4",
		Codec:   "aac",
		Bitrate: "256k",
		Ext:     ".m4a",
	},
}

// ProfileFor はIDに対応するプロファイルを返す
// 未知のIDはbest_opusにフォールバックする
func ProfileFor(id string) QualityProfile {
	if p, ok := profiles[id]; ok {
		return p
	}
	return profiles[DefaultQualityID]
}

// Profiles はプロファイル一覧を返す
func Profiles() []QualityProfile {
	return []QualityProfile{
		profiles["best_opus"],
		profiles["mp3_320"],
		profiles["flac"],
		profiles["aac_256"],
	}
}
