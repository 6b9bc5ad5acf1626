package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ClubFM/logger"
)

// 外部曲库查询，只用于点歌时预填元数据，直播运行时本身不依赖它。
// 先查 Deezer，结果不够再用 iTunes 补齐，按 (title, artist) 去重合并。

const (
	deezerSearchURL = "https://api.deezer.com/search"
	itunesSearchURL = "https://itunes.apple.com/search"

	cacheTTL       = 60 * time.Second
	requestTimeout = 8 * time.Second
	maxLimit       = 50
)

// Result 统一后的搜索结果
type Result struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	CoverURL    string `json:"cover_url"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

// Client 曲库查询客户端，带一层短 TTL 的内存缓存
type Client struct {
	http *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	at      time.Time
	results []Result
}

// NewClient 创建查询客户端
func NewClient() *Client {
	return &Client{
		http:  &http.Client{Timeout: requestTimeout},
		cache: make(map[string]cacheEntry),
	}
}

// Search 统一搜索入口
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Result{}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	cacheKey := fmt.Sprintf("%s|%d", strings.ToLower(query), limit)
	if cached, ok := c.cacheGet(cacheKey); ok {
		return cached, nil
	}

	results, err := c.searchDeezer(ctx, query, limit)
	if err != nil {
		logger.Warn("deezer search failed", logger.ErrorField(err), logger.String("query", query))
		results = nil
	}

	// Deezer 结果不足时用 iTunes 补齐
	if len(results) < limit {
		extra, err := c.searchITunes(ctx, query, limit)
		if err != nil {
			logger.Warn("itunes search failed", logger.ErrorField(err), logger.String("query", query))
		} else {
			results = mergeResults(results, extra, limit)
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []Result{}
	}

	c.cachePut(cacheKey, results)
	return results, nil
}

// ========== Deezer ==========

type deezerResponse struct {
	Data []struct {
		ID       int64  `json:"id"`
		Title    string `json:"title"`
		Duration int    `json:"duration"`
		Artist   struct {
			Name string `json:"name"`
		} `json:"artist"`
		Album struct {
			Title       string `json:"title"`
			CoverXL     string `json:"cover_xl"`
			CoverBig    string `json:"cover_big"`
			CoverMedium string `json:"cover_medium"`
			Cover       string `json:"cover"`
		} `json:"album"`
	} `json:"data"`
}

func (c *Client) searchDeezer(ctx context.Context, query string, limit int) ([]Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", fmt.Sprintf("%d", limit))

	var resp deezerResponse
	if err := c.getJSON(ctx, deezerSearchURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Data))
	for _, item := range resp.Data {
		cover := pickFirst(item.Album.CoverXL, item.Album.CoverBig, item.Album.CoverMedium, item.Album.Cover)
		results = append(results, Result{
			ID:          fmt.Sprintf("deezer:%d", item.ID),
			Title:       item.Title,
			Artist:      item.Artist.Name,
			Album:       item.Album.Title,
			CoverURL:    cover,
			DurationSec: item.Duration,
		})
	}
	return results, nil
}

// ========== iTunes ==========

type itunesResponse struct {
	Results []struct {
		TrackID        int64  `json:"trackId"`
		TrackName      string `json:"trackName"`
		ArtistName     string `json:"artistName"`
		CollectionName string `json:"collectionName"`
		ArtworkURL100  string `json:"artworkUrl100"`
		ArtworkURL60   string `json:"artworkUrl60"`
		TrackTimeMs    int    `json:"trackTimeMillis"`
	} `json:"results"`
}

func (c *Client) searchITunes(ctx context.Context, query string, limit int) ([]Result, error) {
	params := url.Values{}
	params.Set("term", query)
	params.Set("entity", "song")
	params.Set("limit", fmt.Sprintf("%d", limit))

	var resp itunesResponse
	if err := c.getJSON(ctx, itunesSearchURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Results))
	for _, item := range resp.Results {
		results = append(results, Result{
			ID:          fmt.Sprintf("itunes:%d", item.TrackID),
			Title:       item.TrackName,
			Artist:      item.ArtistName,
			Album:       item.CollectionName,
			CoverURL:    pickFirst(item.ArtworkURL100, item.ArtworkURL60),
			DurationSec: item.TrackTimeMs / 1000,
		})
	}
	return results, nil
}

// ========== helpers ==========

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("search provider returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode search response: %w", err)
	}
	return nil
}

// mergeResults 按 (title, artist) 去重合并
func mergeResults(base, extra []Result, limit int) []Result {
	seen := make(map[string]struct{}, len(base))
	for _, r := range base {
		seen[dedupKey(r)] = struct{}{}
	}
	for _, r := range extra {
		if len(base) >= limit {
			break
		}
		key := dedupKey(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		base = append(base, r)
	}
	return base
}

func dedupKey(r Result) string {
	return strings.ToLower(r.Title) + "|" + strings.ToLower(r.Artist)
}

func pickFirst(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (c *Client) cacheGet(key string) ([]Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.at) > cacheTTL {
		delete(c.cache, key)
		return nil, false
	}
	return entry.results, true
}

func (c *Client) cachePut(key string, results []Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{at: time.Now(), results: results}
}
