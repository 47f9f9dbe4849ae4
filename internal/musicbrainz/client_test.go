//nolint:bodyclose // Test file uses http.NoBody which doesn't require closing
package musicbrainz

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"tunesync/internal/errs"
)

// mockTransport is a mock http.RoundTripper for testing.
type mockTransport struct {
	responses []*http.Response
	errors    []error
	callCount int
	lastURL   string
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	idx := m.callCount
	m.callCount++
	m.lastURL = req.URL.String()

	if idx < len(m.errors) && m.errors[idx] != nil {
		return nil, m.errors[idx]
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return nil, errors.New("no more responses configured")
}

func newMockResponse(statusCode int, body string) *http.Response {
	if body == "" {
		return &http.Response{StatusCode: statusCode, Body: http.NoBody}
	}
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(mock *mockTransport) *Client {
	c := NewClient("https://musicbrainz.test/ws/2", "")
	c.httpClient = &http.Client{Transport: mock}
	return c
}

func TestSearchReleases_ParsesCandidates(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		body := `{"releases": [
			{"id": "r1", "title": "Album", "score": 100, "date": "1994-03-08",
			 "country": "GB", "status": "Official",
			 "artist-credit": [{"name": "Artist"}],
			 "release-group": {"id": "rg1", "primary-type": "Album"}},
			{"id": "r2", "title": "Album (Remastered)", "score": 90, "date": "2014",
			 "country": "US", "status": "Official",
			 "artist-credit": [{"artist": {"name": "Artist"}}]}
		]}`
		mock := &mockTransport{responses: []*http.Response{newMockResponse(http.StatusOK, body)}}
		c := newTestClient(mock)

		releases, err := c.SearchReleases(context.Background(), "Artist", "Album")
		if err != nil {
			t.Fatalf("SearchReleases() error = %v", err)
		}
		if len(releases) != 2 {
			t.Fatalf("got %d releases, want 2", len(releases))
		}
		first := releases[0]
		if first.Year() != 1994 || first.ReleaseGroupID != "rg1" || first.ReleaseType != "Album" {
			t.Errorf("first release parsed wrong: %+v", first)
		}
		if releases[1].Artist != "Artist" || releases[1].Year() != 2014 {
			t.Errorf("second release parsed wrong: %+v", releases[1])
		}
		if !strings.Contains(mock.lastURL, "query=") {
			t.Errorf("search URL missing query: %s", mock.lastURL)
		}
	})
}

func TestSearchReleases_QuotaStatus(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		mock := &mockTransport{responses: []*http.Response{
			newMockResponse(http.StatusServiceUnavailable, ""),
		}}
		c := newTestClient(mock)

		_, err := c.SearchReleases(context.Background(), "Artist", "Album")
		if !errs.IsQuota(err) {
			t.Errorf("503 error = %v, want quota APIError", err)
		}
	})
}

func TestSearchReleases_MalformedBody(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		mock := &mockTransport{responses: []*http.Response{
			newMockResponse(http.StatusOK, "{not json"),
		}}
		c := newTestClient(mock)

		_, err := c.SearchReleases(context.Background(), "Artist", "Album")
		if !errs.IsMalformed(err) {
			t.Errorf("bad body error = %v, want malformed APIError", err)
		}
	})
}

func TestDoRequestWithRetry_RetriesServerErrors(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		mock := &mockTransport{responses: []*http.Response{
			newMockResponse(http.StatusInternalServerError, ""),
			newMockResponse(http.StatusOK, `{"releases": []}`),
		}}
		c := newTestClient(mock)

		releases, err := c.SearchReleases(context.Background(), "Artist", "Album")
		if err != nil {
			t.Fatalf("SearchReleases() error = %v", err)
		}
		if len(releases) != 0 {
			t.Errorf("got %d releases, want 0", len(releases))
		}
		if mock.callCount != 2 {
			t.Errorf("made %d calls, want 2", mock.callCount)
		}
	})
}

func TestDoRequestWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		netErr := errors.New("connection refused")
		mock := &mockTransport{errors: []error{netErr, netErr, netErr, netErr}}
		c := newTestClient(mock)

		_, err := c.SearchReleases(context.Background(), "Artist", "Album")
		if !errs.IsTransient(err) {
			t.Errorf("exhausted retries error = %v, want transient APIError", err)
		}
		if mock.callCount != maxRetries+1 {
			t.Errorf("made %d calls, want %d", mock.callCount, maxRetries+1)
		}
	})
}

func TestPacer_EnforcesOneRequestPerSecond(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		mock := &mockTransport{responses: []*http.Response{
			newMockResponse(http.StatusOK, `{"releases": []}`),
			newMockResponse(http.StatusOK, `{"releases": []}`),
		}}
		c := newTestClient(mock)

		ctx := context.Background()
		start := time.Now()
		if _, err := c.SearchReleases(ctx, "a", "b"); err != nil {
			t.Fatal(err)
		}
		if _, err := c.SearchReleases(ctx, "a", "b"); err != nil {
			t.Fatal(err)
		}
		if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
			t.Errorf("two requests completed in %v, expected ~1s of pacing", elapsed)
		}
	})
}

func TestEscapeLucene(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{`AC/DC`, `AC\/DC`},
		{`what? (deluxe)`, `what\? \(deluxe\)`},
		{`a+b-c`, `a\+b\-c`},
	}
	for _, tt := range tests {
		if got := escapeLucene(tt.in); got != tt.want {
			t.Errorf("escapeLucene(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReleaseYear(t *testing.T) {
	tests := []struct {
		date string
		want int
	}{
		{"1994-03-08", 1994},
		{"2014", 2014},
		{"", 0},
		{"199", 0},
		{"abcd-01-01", 0},
	}
	for _, tt := range tests {
		r := Release{Date: tt.date}
		if got := r.Year(); got != tt.want {
			t.Errorf("Year(%q) = %d, want %d", tt.date, got, tt.want)
		}
	}
}
