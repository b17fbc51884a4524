// Package fetch downloads raw dataset payloads from their public source.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"lakeflow/internal/domain"
)

// Compile-time check.
var _ domain.Fetcher = (*Client)(nil)

// Client fetches source files over HTTP. A shared rate limiter keeps
// backfills from hammering the public source.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a fetch client. rps <= 0 disables throttling.
func NewClient(rps float64, burst int, logger *slog.Logger) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Minute},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Fetch downloads url into destPath, returning the byte count. The file is
// written to a temp path and renamed so a partial download never sits at
// destPath.
func (c *Client) Fetch(ctx context.Context, url, destPath string) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, domain.ErrTransfer("rate limiter: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, domain.ErrValidation("build request for %q: %v", url, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, domain.ErrTransfer("fetch %q: %v", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, domain.ErrNotFound("source %q not found", url)
	case resp.StatusCode != http.StatusOK:
		return 0, domain.ErrTransfer("fetch %q: unexpected status %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".fetch-*")
	if err != nil {
		return 0, fmt.Errorf("create staging file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, domain.ErrTransfer("read %q: %v", url, err)
	}

	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return 0, fmt.Errorf("move staging file: %w", err)
	}

	c.logger.Info("fetched source", "url", url, "bytes", n, "dest", destPath)
	return n, nil
}
