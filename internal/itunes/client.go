// Package itunes provides the optional iTunes Search API year source.
package itunes

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
	SourceName = "itunes"

	defaultBaseURL = "https://itunes.apple.com"
	userAgent      = "tunesync/1.0"

	searchLimit = 25
)

// Album is one iTunes collection candidate.
type Album struct {
	CollectionID int
	Name         string
	Artist       string
	ReleaseDate  string // RFC 3339
	Country      string
}

// Year returns the album's release year, or 0 when unknown.
func (a Album) Year() int {
	if len(a.ReleaseDate) < 4 {
		return 0
	}
	year, err := strconv.Atoi(a.ReleaseDate[:4])
	if err != nil {
		return 0
	}
	return year
}

type searchResponse struct {
	Results []albumResult `json:"results"`
}

type albumResult struct {
	CollectionID   int    `json:"collectionId"`
	CollectionName string `json:"collectionName"`
	ArtistName     string `json:"artistName"`
	ReleaseDate    string `json:"releaseDate"`
	Country        string `json:"country"`
}

// Client provides access to the iTunes Search API. The API needs no
// authentication; the store country shapes the result set.
type Client struct {
	baseURL    string
	country    string
	httpClient *http.Client
}

// NewClient creates an iTunes search client for the given store country.
func NewClient(baseURL, country string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if country == "" {
		country = "us"
	}
	return &Client{
		baseURL:    baseURL,
		country:    country,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SearchAlbums searches album collections matching artist and album.
func (c *Client) SearchAlbums(ctx context.Context, artist, album string) ([]Album, error) {
	return c.search(ctx, artist+" "+album)
}

// SearchAlbumsByTitle searches on the album title alone.
func (c *Client) SearchAlbumsByTitle(ctx context.Context, album string) ([]Album, error) {
	return c.search(ctx, album)
}

func (c *Client) search(ctx context.Context, term string) ([]Album, error) {
	params := url.Values{}
	params.Set("term", term)
	params.Set("entity", "album")
	params.Set("country", c.country)
	params.Set("limit", strconv.Itoa(searchLimit))

	reqURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &errs.APIError{Source: SourceName, Kind: errs.APITransient, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
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

	albums := make([]Album, 0, len(result.Results))
	for _, r := range result.Results {
		albums = append(albums, Album{
			CollectionID: r.CollectionID,
			Name:         r.CollectionName,
			Artist:       r.ArtistName,
			ReleaseDate:  r.ReleaseDate,
			Country:      r.Country,
		})
	}
	return albums, nil
}
