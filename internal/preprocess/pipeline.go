package preprocess

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// progressEvery controls how often Run logs progress, in files.
const progressEvery = 10000

// Record is one output row.
type Record struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// Summary describes a completed run.
type Summary struct {
	Files      int            `json:"files"`
	Written    int            `json:"written"`
	Unparsable int            `json:"unparsable"`
	Empty      int            `json:"empty"`
	Redactions map[string]int `json:"redactions"`
}

// Pipeline converts every file under Input into a row of Output.
type Pipeline struct {
	Input  string
	Output string
	// Workers bounds concurrent parsing; zero means one per CPU.
	Workers  int
	Redactor *Redactor
	Logger   *slog.Logger
}

// Walk returns the regular files under root in lexical order.
func Walk(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input %s is not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// Run processes the input tree and atomically replaces Output. Files that
// cannot be parsed are skipped and counted; messages whose cleaned text is
// empty are dropped.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redactor := p.Redactor
	if redactor == nil {
		redactor = NewRedactor("")
	}
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	files, err := Walk(p.Input)
	if err != nil {
		return Summary{}, err
	}
	logger.Info("preprocessing maildir", "input", p.Input, "files", len(files), "workers", workers)

	records := make([]*Record, len(files))
	var (
		mu         sync.Mutex
		redactions = map[string]int{}
		unparsable atomic.Int64
		done       atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			counts := map[string]int{}
			rec, err := processFile(path, redactor, counts, logger)
			if err != nil {
				unparsable.Add(1)
				logger.Debug("skipping unparsable file", "path", path, "error", err)
			} else {
				records[i] = rec
				mu.Lock()
				for k, v := range counts {
					redactions[k] += v
				}
				mu.Unlock()
			}

			if n := done.Add(1); n%progressEvery == 0 {
				logger.Info("preprocess progress", "done", n, "total", len(files))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Files:      len(files),
		Unparsable: int(unparsable.Load()),
		Redactions: redactions,
	}
	for _, rec := range records {
		if rec != nil && rec.Text == "" {
			summary.Empty++
		}
	}

	written, err := writeJSONL(p.Output, records)
	if err != nil {
		return Summary{}, err
	}
	summary.Written = written

	logger.Info("preprocessing complete",
		"output", p.Output,
		"written", summary.Written,
		"unparsable", summary.Unparsable,
		"empty", summary.Empty,
	)
	return summary, nil
}

func processFile(path string, redactor *Redactor, counts map[string]int, logger *slog.Logger) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	msg, err := ParseMessage(f)
	if err != nil {
		return nil, err
	}

	text := CleanText(msg.Body)
	return &Record{Sender: msg.From, Text: safeRedact(redactor, text, counts, logger, path)}, nil
}

// safeRedact keeps the cleaned text when redaction panics.
func safeRedact(r *Redactor, text string, counts map[string]int, logger *slog.Logger, path string) (out string) {
	defer func() {
		if v := recover(); v != nil {
			logger.Warn("redaction failed, keeping cleaned text", "path", path, "panic", v)
			out = text
		}
	}()
	return r.redact(text, counts)
}

// writeJSONL writes non-empty records to a temporary file beside path and
// renames it into place.
func writeJSONL(path string, records []*Record) (int, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating output file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	written := 0
	for _, rec := range records {
		if rec == nil || rec.Text == "" {
			continue
		}
		if err := enc.Encode(rec); err != nil {
			return 0, fmt.Errorf("encoding record: %w", err)
		}
		written++
	}

	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("writing output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing output: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return 0, fmt.Errorf("setting output mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("replacing %s: %w", path, err)
	}
	committed = true
	return written, nil
}
