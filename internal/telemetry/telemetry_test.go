package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger_Formats(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger, closer, err := NewLogger(LoggerOptions{Level: "info", Format: "json", Output: &buf})
		require.NoError(t, err)
		defer closer.Close()

		logger.Info("step finished", "step", "create-venv")
		logger.Debug("hidden")

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "step finished", rec["msg"])
		assert.Equal(t, "create-venv", rec["step"])
		assert.NotContains(t, buf.String(), "hidden")
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		logger, closer, err := NewLogger(LoggerOptions{Level: "debug", Output: &buf})
		require.NoError(t, err)
		defer closer.Close()

		logger.Debug("visible")
		assert.Contains(t, buf.String(), "msg=visible")
	})

	t.Run("invalid format", func(t *testing.T) {
		_, _, err := NewLogger(LoggerOptions{Format: "xml"})
		assert.Error(t, err)
	})

	t.Run("invalid level", func(t *testing.T) {
		_, _, err := NewLogger(LoggerOptions{Level: "loud"})
		assert.Error(t, err)
	})
}

func TestNewLogger_File(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "corpusprep.log")

	logger, closer, err := NewLogger(LoggerOptions{Level: "warn", Output: &console, File: path})
	require.NoError(t, err)

	logger.Debug("file only")
	logger.Warn("both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file only")
	assert.Contains(t, string(data), "both")

	assert.NotContains(t, console.String(), "file only")
	assert.Contains(t, console.String(), "both")
}

func TestTraceHandler_InjectsSpanIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background()) //nolint:errcheck

	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	ctx, span := tp.Tracer("test").Start(context.Background(), "extract-archive")
	logger.InfoContext(ctx, "inside span")
	span.End()

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, span.SpanContext().TraceID().String(), rec["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), rec["span_id"])

	buf.Reset()
	logger.InfoContext(context.Background(), "outside span")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestTeeHandler(t *testing.T) {
	var a, b bytes.Buffer
	ha := slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo})
	hb := slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError})

	logger := slog.New(NewTeeHandler(ha, hb)).With("run", "r1").WithGroup("g")
	logger.Info("info line", "k", "v")
	logger.Error("error line")

	assert.Contains(t, a.String(), "info line")
	assert.Contains(t, a.String(), "run=r1")
	assert.Contains(t, a.String(), "g.k=v")
	assert.Contains(t, a.String(), "error line")

	assert.NotContains(t, b.String(), "info line")
	assert.Equal(t, 1, strings.Count(b.String(), "\n"))
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestTeeHandler_ReturnsChildErrors(t *testing.T) {
	errDisk := errors.New("disk full")
	errPipe := errors.New("broken pipe")

	var good bytes.Buffer
	h := NewTeeHandler(
		slog.NewTextHandler(failingWriter{err: errDisk}, nil),
		slog.NewTextHandler(&good, nil),
		slog.NewTextHandler(failingWriter{err: errPipe}, nil),
	)

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "still delivered", 0)
	err := h.Handle(context.Background(), r)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDisk)
	assert.ErrorIs(t, err, errPipe)

	// The healthy child still gets the record.
	assert.Contains(t, good.String(), "still delivered")

	require.NoError(t, NewTeeHandler(slog.NewTextHandler(&good, nil)).Handle(context.Background(), r))
}

func TestInitTracing(t *testing.T) {
	t.Run("disabled without endpoint", func(t *testing.T) {
		p, err := InitTracing(context.Background(), "", "corpusprep-test", true)
		require.NoError(t, err)
		assert.NoError(t, p.Shutdown(context.Background()))
	})

	t.Run("unreachable collector", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		p, err := InitTracing(ctx, "localhost:19999", "corpusprep-test", true)
		require.NoError(t, err)
		require.NotNil(t, p)

		_, span := Tracer().Start(ctx, "probe")
		span.End()

		shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutCancel()
		// Export to a closed port may fail; shutdown must still return.
		_ = p.Shutdown(shutCtx)
	})
}
