// Package bundle talks to the upstream bundling endpoint: given an
// external module URL it returns the module plus its transitive type
// declarations as a map of virtual paths to source text.
package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheEntries = 256

// Client fetches and caches bundling endpoint responses. Responses for
// a given URL are immutable in practice, so cache entries never expire
// within a process.
type Client struct {
	baseURL string
	httpc   *http.Client
	cache   *lru.Cache[string, map[string]string]
	log     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, cacheEntries int, log *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("bundle client: empty base url")
	}
	if cacheEntries <= 0 {
		cacheEntries = defaultCacheEntries
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	cache, err := lru.New[string, map[string]string](cacheEntries)
	if err != nil {
		return nil, fmt.Errorf("bundle client: %w", err)
	}
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		cache:   cache,
		log:     log,
	}, nil
}

// Fetch returns the bundle for importURL as {virtualPath -> sourceText}.
// Any non-2xx response or undecodable body is an error.
func (c *Client) Fetch(ctx context.Context, importURL string) (map[string]string, error) {
	if cached, ok := c.cache.Get(importURL); ok {
		return maps.Clone(cached), nil
	}

	endpoint := c.baseURL + "/bundle?x=" + url.QueryEscape(importURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build bundle request for %s: %w", importURL, err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bundle for %s: %w", importURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("bundle endpoint returned %d for %s", resp.StatusCode, importURL)
	}

	var files map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("failed to decode bundle for %s: %w", importURL, err)
	}

	c.cache.Add(importURL, files)
	c.log.Debug("bundle fetched", "url", importURL, "files", len(files))
	return maps.Clone(files), nil
}
