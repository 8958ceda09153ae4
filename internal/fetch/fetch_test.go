package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func assertAbsent(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "%s should not exist", path)
}

func TestDownload_Success(t *testing.T) {
	payload := bytes.Repeat([]byte("enron"), 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "corpus.tar.gz")
	d := New(srv.Client(), quietLogger())

	n, err := d.Download(context.Background(), srv.URL+"/corpus.tar.gz", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assertAbsent(t, dest+PartSuffix)
}

func TestDownload_OverwritesExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "fresh")
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "corpus.tar.gz")
	require.NoError(t, os.WriteFile(dest, []byte("stale contents from a previous run"), 0o644))

	_, err := New(srv.Client(), quietLogger()).Download(context.Background(), srv.URL, dest)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(got))
}

func TestDownload_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "corpus.tar.gz")
	require.NoError(t, os.WriteFile(dest, []byte("stale"), 0o644))

	_, err := New(srv.Client(), quietLogger()).Download(context.Background(), srv.URL, dest)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	assertAbsent(t, dest)
	assertAbsent(t, dest+PartSuffix)
}

func TestDownload_ShortBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = io.WriteString(w, "only a little")
		// Hijack and close so the client sees a truncated body.
		if hj, ok := w.(http.Hijacker); ok {
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
			}
		}
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "corpus.tar.gz")
	_, err := New(srv.Client(), quietLogger()).Download(context.Background(), srv.URL, dest)
	require.Error(t, err)

	assertAbsent(t, dest)
	assertAbsent(t, dest+PartSuffix)
}

func TestDownload_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		_, _ = io.WriteString(w, "partial")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	dest := filepath.Join(t.TempDir(), "corpus.tar.gz")
	_, err := New(srv.Client(), quietLogger()).Download(ctx, srv.URL, dest)
	require.Error(t, err)
	require.Error(t, ctx.Err())

	assertAbsent(t, dest)
	assertAbsent(t, dest+PartSuffix)
}

func TestDownload_BadURL(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "corpus.tar.gz")
	_, err := New(nil, quietLogger()).Download(context.Background(), "://bad", dest)
	require.Error(t, err)
	assertAbsent(t, dest)
}

func TestProgressWriter_Throttles(t *testing.T) {
	var logs bytes.Buffer
	p := &progressWriter{
		ctx:      context.Background(),
		logger:   slog.New(slog.NewTextHandler(&logs, nil)),
		url:      "http://example.com/a",
		total:    10,
		interval: time.Hour,
		last:     time.Now(),
	}

	_, _ = p.Write([]byte("12345"))
	_, _ = p.Write([]byte("67890"))
	assert.Equal(t, int64(10), p.written)
	assert.Empty(t, logs.String(), "no line before the interval elapses")

	p.last = time.Now().Add(-2 * time.Hour)
	_, _ = p.Write([]byte("x"))
	assert.Contains(t, logs.String(), "downloading")
	assert.Contains(t, logs.String(), "bytes=11")
}
