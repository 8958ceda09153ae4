// Package fetch downloads the corpus archive over HTTP(S).
//
// Downloads are written to "<dest>.part" and renamed over dest only once the
// body has been fully received, so dest is either the complete archive or
// absent. A failed download removes both files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// PartSuffix is appended to the destination path while downloading.
const PartSuffix = ".part"

// DefaultUserAgent identifies corpusprep to the archive host.
const DefaultUserAgent = "corpusprep/1"

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %s", e.URL, e.Status)
}

// Downloader fetches URLs to local files.
type Downloader struct {
	// Client performs the request. nil uses http.DefaultClient.
	Client *http.Client

	// UserAgent is sent with every request.
	UserAgent string

	// ProgressInterval is the minimum time between progress log lines.
	// Zero disables progress logging.
	ProgressInterval time.Duration

	// Logger receives progress lines. nil uses slog.Default().
	Logger *slog.Logger
}

// New creates a Downloader using client.
func New(client *http.Client, logger *slog.Logger) *Downloader {
	return &Downloader{
		Client:    client,
		UserAgent: DefaultUserAgent,
		Logger:    logger,
	}
}

// Download GETs rawURL and stores the body at dest, replacing any existing
// file. It returns the number of bytes written.
func (d *Downloader) Download(ctx context.Context, rawURL, dest string) (n int64, err error) {
	part := dest + PartSuffix

	defer func() {
		if err == nil {
			return
		}
		// Neither a stale archive from an earlier run nor a truncated
		// partial may be mistaken for a good download.
		removeQuietly(part)
		removeQuietly(dest)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}

	resp, err := d.client().Do(req)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", part, err)
	}

	progress := &progressWriter{
		ctx:      ctx,
		logger:   d.logger(),
		url:      rawURL,
		total:    resp.ContentLength,
		interval: d.ProgressInterval,
		last:     time.Now(),
	}

	n, err = io.Copy(io.MultiWriter(f, progress), resp.Body)
	if err != nil {
		_ = f.Close()
		return n, fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		_ = f.Close()
		return n, fmt.Errorf("downloading %s: got %d of %d bytes", rawURL, n, resp.ContentLength)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return n, fmt.Errorf("syncing %s: %w", part, err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("closing %s: %w", part, err)
	}

	if err := os.Rename(part, dest); err != nil {
		return n, fmt.Errorf("moving %s into place: %w", part, err)
	}

	d.logger().InfoContext(ctx, "download complete", "url", rawURL, "dest", dest, "bytes", n)
	return n, nil
}

func (d *Downloader) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

func (d *Downloader) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not remove file", "path", path, "err", err)
	}
}

// progressWriter counts bytes and logs at most once per interval.
type progressWriter struct {
	ctx      context.Context
	logger   *slog.Logger
	url      string
	total    int64
	written  int64
	interval time.Duration
	last     time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.interval <= 0 {
		return len(b), nil
	}

	now := time.Now()
	if now.Sub(p.last) < p.interval {
		return len(b), nil
	}
	p.last = now

	attrs := []any{"url", p.url, "bytes", p.written}
	if p.total > 0 {
		attrs = append(attrs, "total", p.total, "percent", p.written*100/p.total)
	}
	p.logger.InfoContext(p.ctx, "downloading", attrs...)
	return len(b), nil
}
