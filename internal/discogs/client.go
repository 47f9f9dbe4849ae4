// Package discogs provides the release-year search client for the Discogs
// database API.
package discogs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tunesync/internal/errs"
)

const (
	// SourceName identifies this client in caches and scoring.
	SourceName = "discogs"

	defaultBaseURL = "https://api.discogs.com"
	userAgent      = "tunesync/1.0"

	searchLimit = 25

	maxRetries   = 3
	initialDelay = 2 * time.Second
	maxDelay     = 30 * time.Second
)

// Release is one Discogs search candidate. Titles come back as
// "Artist - Album"; Year may be absent.
type Release struct {
	ID       int
	Title    string
	Year     int
	Country  string
	MasterID int
	Format   []string
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	ID       int      `json:"id"`
	Title    string   `json:"title"`
	Year     string   `json:"year"`
	Country  string   `json:"country"`
	MasterID int      `json:"master_id"`
	Format   []string `json:"format"`
}

// Client provides access to the Discogs search API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Discogs client authenticating with token. An empty
// token still works for a heavily reduced anonymous quota.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SearchReleases searches releases matching artist and album.
func (c *Client) SearchReleases(ctx context.Context, artist, album string) ([]Release, error) {
	params := url.Values{}
	params.Set("artist", artist)
	params.Set("release_title", album)
	params.Set("type", "release")
	params.Set("per_page", strconv.Itoa(searchLimit))
	return c.search(ctx, params)
}

// SearchReleasesByTitle searches on title alone, the relaxed fallback for
// special album names.
func (c *Client) SearchReleasesByTitle(ctx context.Context, album string) ([]Release, error) {
	params := url.Values{}
	params.Set("release_title", album)
	params.Set("type", "release")
	params.Set("per_page", strconv.Itoa(searchLimit))
	return c.search(ctx, params)
}

func (c *Client) search(ctx context.Context, params url.Values) ([]Release, error) {
	reqURL := fmt.Sprintf("%s/database/search?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.doRequestWithRetry(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &errs.APIError{Source: SourceName, Kind: errs.APIQuota,
			Cause: fmt.Errorf("status %d", resp.StatusCode)}
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, &errs.APIError{Source: SourceName, Kind: errs.APIMalformed,
			Cause: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &errs.APIError{Source: SourceName, Kind: errs.APIMalformed,
			Cause: fmt.Errorf("decode response: %w", err)}
	}

	releases := make([]Release, 0, len(result.Results))
	for _, r := range result.Results {
		year, _ := strconv.Atoi(r.Year)
		releases = append(releases, Release{
			ID:       r.ID,
			Title:    r.Title,
			Year:     year,
			Country:  r.Country,
			MasterID: r.MasterID,
			Format:   r.Format,
		})
	}
	return releases, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Discogs token="+c.token)
	}
}

// doRequestWithRetry executes an HTTP request with exponential backoff.
// Retries on 5xx and network errors; 429 returns immediately so the caller
// can move to the next source.
func (c *Client) doRequestWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error
	delay := initialDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
			delay = min(delay*2, maxDelay)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode < 500 {
			return resp, nil
		}

		resp.Body.Close()
		lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	return nil, &errs.APIError{Source: SourceName, Kind: errs.APITransient,
		Cause: fmt.Errorf("request failed after %d attempts: %w", maxRetries+1, lastErr)}
}
