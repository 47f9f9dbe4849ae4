package musicbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tunesync/internal/errs"
)

const (
	// SourceName identifies this client in caches and scoring.
	SourceName = "musicbrainz"

	defaultBaseURL = "https://musicbrainz.org/ws/2"
	baseUserAgent  = "tunesync/1.0"

	searchLimit = 25

	// Retry configuration
	maxRetries   = 3
	initialDelay = 2 * time.Second
	maxDelay     = 30 * time.Second
)

// Client provides release search against the MusicBrainz API. The pacer
// keeps the client under the 1 request/second floor MusicBrainz requires,
// independently of the shared window limiter.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	pacer      *rate.Limiter
}

// NewClient creates a MusicBrainz client. contact, when non-empty, is folded
// into the User-Agent as MusicBrainz asks.
func NewClient(baseURL, contact string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	ua := baseUserAgent
	if contact != "" {
		ua = fmt.Sprintf("%s (%s)", baseUserAgent, contact)
	}
	return &Client{
		baseURL:    baseURL,
		userAgent:  ua,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		pacer:      rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// SearchReleases searches releases matching artist and album.
func (c *Client) SearchReleases(ctx context.Context, artist, album string) ([]Release, error) {
	query := fmt.Sprintf(`artist:"%s" AND release:"%s"`, escapeLucene(artist), escapeLucene(album))
	return c.search(ctx, query)
}

// SearchReleasesByTitle searches on title alone. Used as the relaxed
// fallback for special album names where the artist field misleads.
func (c *Client) SearchReleasesByTitle(ctx context.Context, album string) ([]Release, error) {
	query := fmt.Sprintf(`release:"%s"`, escapeLucene(album))
	return c.search(ctx, query)
}

func (c *Client) search(ctx context.Context, query string) ([]Release, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("fmt", "json")
	params.Set("limit", fmt.Sprint(searchLimit))

	reqURL := fmt.Sprintf("%s/release?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.doRequestWithRetry(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
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

	return convertReleases(result.Releases), nil
}

// doRequestWithRetry executes an HTTP request with exponential backoff.
// Retries on 5xx (except 503, which signals throttling) and network errors.
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
		if err := c.pacer.Wait(req.Context()); err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode < 500 || resp.StatusCode == http.StatusServiceUnavailable {
			return resp, nil
		}

		resp.Body.Close()
		lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	return nil, &errs.APIError{Source: SourceName, Kind: errs.APITransient,
		Cause: fmt.Errorf("request failed after %d attempts: %w", maxRetries+1, lastErr)}
}

func convertReleases(results []releaseResult) []Release {
	releases := make([]Release, 0, len(results))
	for i := range results {
		r := &results[i]
		release := Release{
			ID:             r.ID,
			Title:          r.Title,
			Artist:         extractArtist(r.ArtistCredit),
			Date:           r.Date,
			Country:        r.Country,
			Status:         r.Status,
			Disambiguation: r.Disambiguation,
			SearchScore:    r.Score,
		}
		if r.ReleaseGroup != nil {
			release.ReleaseGroupID = r.ReleaseGroup.ID
			release.ReleaseType = r.ReleaseGroup.PrimaryType
		}
		releases = append(releases, release)
	}
	return releases
}

// extractArtist extracts the artist name from artist credits.
func extractArtist(credits []artistCredit) string {
	if len(credits) == 0 {
		return ""
	}
	parts := make([]string, 0, len(credits))
	for _, c := range credits {
		name := c.Name
		if name == "" {
			name = c.Artist.Name
		}
		parts = append(parts, name+c.JoinPhrase)
	}
	return strings.Join(parts, "")
}

// escapeLucene escapes the characters the MusicBrainz Lucene query syntax
// treats specially.
func escapeLucene(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '+', '-', '&', '|', '!', '(', ')', '{', '}', '[', ']', '^', '"', '~', '*', '?', ':', '\\', '/':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
