package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// YouTube Data API v3のベースURL
const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

// 1回の検索で返す最大件数（APIの上限は50）
const maxResultsLimit = 50

// Client はYouTube Data API v3の検索クライアント
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient は新しい検索クライアントを作成
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Options は検索のフィルター条件
type Options struct {
	MaxResults      int    // デフォルト25
	Order           string // relevance, viewCount, date, rating
	Duration        string // short, medium, long
	Type            string // video, shorts, 空はすべて
	AddAudioKeyword bool   // クエリに"audio"を付与する
}

// Result は検索結果の1件
type Result struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Channel        string `json:"channel"`
	Thumbnail      string `json:"thumbnail"`
	ThumbnailHigh  string `json:"thumbnail_high,omitempty"`
	Description    string `json:"description,omitempty"`
	PublishedAt    string `json:"published_at,omitempty"`
	Duration       string `json:"duration"`
	DurationRaw    string `json:"duration_raw,omitempty"`
	Views          int64  `json:"views"`
	ViewsFormatted string `json:"views_formatted"`
	URL            string `json:"url"`
	IsShort        bool   `json:"is_short"`
}

// videoDetail は詳細APIから取得する補足情報
type videoDetail struct {
	Duration string
	Views    int64
}

// Search は動画を検索する
func (c *Client) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if opts.AddAudioKeyword && !strings.HasPrefix(strings.ToLower(query), "audio") {
		query += " audio"
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 25
	}
	if maxResults > maxResultsLimit {
		maxResults = maxResultsLimit
	}

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("q", query)
	params.Set("type", "video")
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("key", c.apiKey)
	if opts.Order != "" {
		params.Set("order", opts.Order)
	}
	switch opts.Duration {
	case "short", "medium", "long":
		params.Set("videoDuration", opts.Duration)
	}

	var payload struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
			Snippet snippet `json:"snippet"`
		} `json:"items"`
	}
	if err := c.get(ctx, "/search", params, &payload); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(payload.Items))
	for _, item := range payload.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	details, err := c.videoDetails(ctx, ids)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, item := range payload.Items {
		id := item.ID.VideoID
		detail, ok := details[id]
		if !ok {
			continue
		}
		r := buildResult(id, item.Snippet, detail)

		// ショート動画フィルター
		if opts.Type == "shorts" && !r.IsShort {
			continue
		}
		if opts.Type == "video" && r.IsShort {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

// VideoInfo は単一動画の情報を取得する
func (c *Client) VideoInfo(ctx context.Context, videoID string) (*Result, error) {
	params := url.Values{}
	params.Set("part", "snippet,contentDetails,statistics")
	params.Set("id", videoID)
	params.Set("key", c.apiKey)

	var payload struct {
		Items []struct {
			ID             string         `json:"id"`
			Snippet        snippet        `json:"snippet"`
			ContentDetails contentDetails `json:"contentDetails"`
			Statistics     statistics     `json:"statistics"`
		} `json:"items"`
	}
	if err := c.get(ctx, "/videos", params, &payload); err != nil {
		return nil, err
	}
	if len(payload.Items) == 0 {
		return nil, nil
	}

	item := payload.Items[0]
	r := buildResult(item.ID, item.Snippet, videoDetail{
		Duration: item.ContentDetails.Duration,
		Views:    item.Statistics.viewCount(),
	})
	return &r, nil
}

// PlaylistVideos はプレイリスト内のすべての動画を取得する
func (c *Client) PlaylistVideos(ctx context.Context, playlistID string) ([]Result, error) {
	var results []Result
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("part", "snippet")
		params.Set("playlistId", playlistID)
		params.Set("maxResults", strconv.Itoa(maxResultsLimit))
		params.Set("key", c.apiKey)
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var payload struct {
			Items []struct {
				Snippet struct {
					snippet
					VideoOwnerChannelTitle string `json:"videoOwnerChannelTitle"`
					ResourceID             struct {
						VideoID string `json:"videoId"`
					} `json:"resourceId"`
				} `json:"snippet"`
			} `json:"items"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := c.get(ctx, "/playlistItems", params, &payload); err != nil {
			return nil, err
		}

		ids := make([]string, 0, len(payload.Items))
		for _, item := range payload.Items {
			if item.Snippet.ResourceID.VideoID != "" {
				ids = append(ids, item.Snippet.ResourceID.VideoID)
			}
		}
		details, err := c.videoDetails(ctx, ids)
		if err != nil {
			return nil, err
		}

		for _, item := range payload.Items {
			id := item.Snippet.ResourceID.VideoID
			if id == "" {
				continue
			}
			sn := item.Snippet.snippet
			if sn.ChannelTitle == "" {
				sn.ChannelTitle = item.Snippet.VideoOwnerChannelTitle
			}
			results = append(results, buildResult(id, sn, details[id]))
		}

		pageToken = payload.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return results, nil
}

// videoDetails は複数動画の再生時間と統計を取得する（50件ずつ）
func (c *Client) videoDetails(ctx context.Context, ids []string) (map[string]videoDetail, error) {
	details := make(map[string]videoDetail, len(ids))

	for start := 0; start < len(ids); start += maxResultsLimit {
		end := start + maxResultsLimit
		if end > len(ids) {
			end = len(ids)
		}

		params := url.Values{}
		params.Set("part", "contentDetails,statistics")
		params.Set("id", strings.Join(ids[start:end], ","))
		params.Set("key", c.apiKey)

		var payload struct {
			Items []struct {
				ID             string         `json:"id"`
				ContentDetails contentDetails `json:"contentDetails"`
				Statistics     statistics     `json:"statistics"`
			} `json:"items"`
		}
		if err := c.get(ctx, "/videos", params, &payload); err != nil {
			return nil, err
		}
		for _, item := range payload.Items {
			details[item.ID] = videoDetail{
				Duration: item.ContentDetails.Duration,
				Views:    item.Statistics.viewCount(),
			}
		}
	}
	return details, nil
}

// get はAPIエンドポイントを呼び出してJSONをデコードする
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("youtube api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("youtube api error: %s", apiErr.Error.Message)
		}
		return fmt.Errorf("youtube api error: status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// snippet は検索・プレイリストAPI共通のメタ情報
type snippet struct {
	Title        string `json:"title"`
	ChannelTitle string `json:"channelTitle"`
	Description  string `json:"description"`
	PublishedAt  string `json:"publishedAt"`
	Thumbnails   struct {
		Medium struct {
			URL string `json:"url"`
		} `json:"medium"`
		High struct {
			URL string `json:"url"`
		} `json:"high"`
	} `json:"thumbnails"`
}

type contentDetails struct {
	Duration string `json:"duration"`
}

// statistics の viewCount は文字列で返る
type statistics struct {
	ViewCount string `json:"viewCount"`
}

func (s statistics) viewCount() int64 {
	n, _ := strconv.ParseInt(s.ViewCount, 10, 64)
	return n
}

// buildResult はスニペットと詳細からResultを組み立てる
func buildResult(id string, sn snippet, detail videoDetail) Result {
	seconds := ParseISODuration(detail.Duration)
	return Result{
		ID:             id,
		Title:          sn.Title,
		Channel:        sn.ChannelTitle,
		Thumbnail:      sn.Thumbnails.Medium.URL,
		ThumbnailHigh:  sn.Thumbnails.High.URL,
		Description:    sn.Description,
		PublishedAt:    sn.PublishedAt,
		Duration:       FormatDuration(seconds),
		DurationRaw:    detail.Duration,
		Views:          detail.Views,
		ViewsFormatted: FormatViews(detail.Views),
		URL:            "https://www.youtube.com/watch?v=" + id,
		IsShort:        IsShortDuration(seconds),
	}
}
