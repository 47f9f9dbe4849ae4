// Package agent talks to the out-of-process library agent: it submits named
// scripts with positional string arguments and parses the tabular output.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	l "github.com/sirupsen/logrus"

	"tunesync/internal/errs"
	"tunesync/internal/ratelimit"
	"tunesync/internal/track"
)

var log *l.Entry = l.WithFields(l.Fields{"comp": "agent"})

// Script names resolved against the scripts directory.
const (
	scriptScanLibrary = "scan_library"
	scriptFetchTracks = "fetch_tracks"
	scriptTrackExists = "track_exists"
	scriptUpdateField = "update_property"
	scriptBulkYears   = "bulk_update_year"
	scriptExtension   = ".scpt"
	notFoundSentinel  = "not found"
)

// ScanQuery selects a page of the library scan. Zero Limit means the
// script's own default page size.
type ScanQuery struct {
	ArtistFilter string
	Offset       int
	Limit        int
	// MinDateAdded restricts the scan to tracks added at or after this
	// Unix timestamp. Zero disables the filter.
	MinDateAdded int64
}

// Client is the capability surface the sync engine needs from the library
// agent. Tests supply fakes; production uses ExecClient.
type Client interface {
	ScanLibrary(ctx context.Context, q ScanQuery) ([]track.Track, error)
	FetchByIDs(ctx context.Context, ids []string) ([]track.Track, error)
	TrackExists(ctx context.Context, id string) (bool, error)
	UpdateProperty(ctx context.Context, id, field, value string) error
	BulkUpdateYear(ctx context.Context, ids []string, year string) error
}

// ExecClient runs agent scripts as child processes. Every call passes
// through the shared agent rate limiter.
type ExecClient struct {
	command    string
	scriptsDir string
	timeout    time.Duration
	limiter    *ratelimit.Limiter
}

// NewExecClient returns a client invoking command on scripts under
// scriptsDir, with the given per-call timeout.
func NewExecClient(command, scriptsDir string, timeout time.Duration, limiter *ratelimit.Limiter) *ExecClient {
	return &ExecClient{
		command:    command,
		scriptsDir: scriptsDir,
		timeout:    timeout,
		limiter:    limiter,
	}
}

// ScanLibrary fetches one page of the library.
func (c *ExecClient) ScanLibrary(ctx context.Context, q ScanQuery) ([]track.Track, error) {
	args := []string{
		q.ArtistFilter,
		strconv.Itoa(q.Offset),
		strconv.Itoa(q.Limit),
	}
	if q.MinDateAdded > 0 {
		args = append(args, strconv.FormatInt(q.MinDateAdded, 10))
	}
	out, err := c.run(ctx, scriptScanLibrary, args...)
	if err != nil {
		return nil, err
	}
	return ParseTracks(out), nil
}

// FetchByIDs fetches full records for the given ids in one call.
func (c *ExecClient) FetchByIDs(ctx context.Context, ids []string) ([]track.Track, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out, err := c.run(ctx, scriptFetchTracks, strings.Join(ids, ","))
	if err != nil {
		return nil, err
	}
	return ParseTracks(out), nil
}

// TrackExists probes one id. Only an explicit "not found" reply counts as
// absent; anything unexpected is an error the caller treats as "present".
func (c *ExecClient) TrackExists(ctx context.Context, id string) (bool, error) {
	if _, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err != nil {
		return false, &errs.ValidationError{Field: "track id", Value: id, Reason: "must be numeric"}
	}
	out, err := c.run(ctx, scriptTrackExists, id)
	if err != nil {
		return false, err
	}
	reply := strings.ToLower(strings.TrimSpace(out))
	if reply == notFoundSentinel || reply == "false" {
		return false, nil
	}
	return true, nil
}

// UpdateProperty writes one field of one track.
func (c *ExecClient) UpdateProperty(ctx context.Context, id, field, value string) error {
	_, err := c.run(ctx, scriptUpdateField, id, field, value)
	return err
}

// BulkUpdateYear writes the same year to every given track in one script
// call.
func (c *ExecClient) BulkUpdateYear(ctx context.Context, ids []string, year string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.run(ctx, scriptBulkYears, strings.Join(ids, ","), year)
	return err
}

// run submits one script call. The limiter slot is held for the duration of
// the child process.
func (c *ExecClient) run(ctx context.Context, script string, args ...string) (string, error) {
	if c.limiter != nil {
		if _, err := c.limiter.Acquire(ctx); err != nil {
			return "", fmt.Errorf("acquire agent slot: %w", err)
		}
		defer c.limiter.Release()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	path := filepath.Join(c.scriptsDir, script+scriptExtension)
	cmd := exec.CommandContext(ctx, c.command, append([]string{path}, args...)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	log.WithFields(l.Fields{"script": script, "took": time.Since(start)}).Debug("agent call")

	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", &errs.AgentUnavailableError{Cause: err}
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return "", &errs.AgentError{Script: script, Cause: err}
	}
	return stdout.String(), nil
}

// FetchAll pages through ScanLibrary until the library is exhausted.
func FetchAll(ctx context.Context, c Client, artistFilter string, batchSize int) ([]track.Track, error) {
	if batchSize <= 0 {
		batchSize = 200
	}
	var all []track.Track
	for offset := 0; ; offset += batchSize {
		page, err := c.ScanLibrary(ctx, ScanQuery{
			ArtistFilter: artistFilter,
			Offset:       offset,
			Limit:        batchSize,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < batchSize {
			return all, nil
		}
	}
}
