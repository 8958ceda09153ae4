// Package archive extracts tar-gzip archives.
//
// Extraction preserves the archive's internal path structure below the
// destination directory and refuses any entry that would land outside it,
// whether through "..", an absolute name, or a symlink/hard link pointing
// out of the tree. Extracting the same archive twice produces the same tree.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrUnsafePath is returned for entries that would escape the destination.
var ErrUnsafePath = errors.New("archive entry escapes destination directory")

// Stats summarizes an extraction.
type Stats struct {
	Files    int   `json:"files"`
	Dirs     int   `json:"dirs"`
	Symlinks int   `json:"symlinks"`
	Skipped  int   `json:"skipped"`
	Bytes    int64 `json:"bytes"`
}

// Extractor unpacks archives. The zero value is ready to use.
type Extractor struct {
	// Logger receives debug lines for skipped entries. nil uses slog.Default().
	Logger *slog.Logger
}

// ExtractTarGz extracts src into destDir using a default Extractor.
func ExtractTarGz(ctx context.Context, src, destDir string) (Stats, error) {
	return (&Extractor{}).ExtractTarGz(ctx, src, destDir)
}

// ExtractTarGz extracts the gzip-compressed tar file src into destDir. The
// destination must already exist. Existing files are overwritten.
func (x *Extractor) ExtractTarGz(ctx context.Context, src, destDir string) (Stats, error) {
	var stats Stats

	f, err := os.Open(src)
	if err != nil {
		return stats, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return stats, fmt.Errorf("reading gzip header of %s: %w", src, err)
	}
	defer gz.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return stats, fmt.Errorf("resolving %s: %w", destDir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return stats, fmt.Errorf("extraction directory: %w", err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("extraction directory %s is not a directory", root)
	}

	// Every create goes through an os.Root so that a symlink planted by an
	// earlier entry can never carry a later write outside the directory.
	t, err := openTree(root)
	if err != nil {
		return stats, err
	}
	defer t.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("reading %s: %w", src, err)
		}

		if err := x.extractEntry(ctx, tr, hdr, t, &stats); err != nil {
			return stats, fmt.Errorf("extracting %q: %w", hdr.Name, err)
		}
	}
}

// tree is the extraction directory, opened as an os.Root.
type tree struct {
	path     string // absolute path as given
	resolved string // path with symlinks resolved
	root     *os.Root
}

func openTree(path string) (*tree, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &tree{path: path, resolved: resolved, root: root}, nil
}

func (t *tree) Close() error {
	return t.root.Close()
}

// rel converts a path produced by safeJoin into a name relative to the tree.
func (t *tree) rel(target string) (string, error) {
	rel, err := filepath.Rel(t.path, target)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, target)
	}
	return rel, nil
}

func (x *Extractor) extractEntry(ctx context.Context, r io.Reader, hdr *tar.Header, t *tree, stats *Stats) error {
	target, err := safeJoin(t.path, hdr.Name)
	if err != nil {
		return err
	}
	name, err := t.rel(target)
	if err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := t.root.MkdirAll(name, dirMode(hdr)); err != nil {
			return escapeError(err)
		}
		stats.Dirs++

	case tar.TypeReg:
		if err := t.root.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			return escapeError(err)
		}
		n, err := writeFile(t.root, name, r, fileMode(hdr))
		if err != nil {
			return escapeError(err)
		}
		stats.Files++
		stats.Bytes += n

	case tar.TypeSymlink:
		if err := checkSymlink(t.path, target, hdr.Linkname); err != nil {
			return err
		}
		if err := t.root.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			return escapeError(err)
		}
		if err := t.checkResolvedSymlink(name, hdr.Linkname); err != nil {
			return err
		}
		if err := replaceExisting(t.root, name); err != nil {
			return escapeError(err)
		}
		if err := t.root.Symlink(hdr.Linkname, name); err != nil {
			return escapeError(err)
		}
		stats.Symlinks++

	case tar.TypeLink:
		source, err := safeJoin(t.path, hdr.Linkname)
		if err != nil {
			return err
		}
		sourceName, err := t.rel(source)
		if err != nil {
			return err
		}
		if err := t.root.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			return escapeError(err)
		}
		if err := replaceExisting(t.root, name); err != nil {
			return escapeError(err)
		}
		if err := t.root.Link(sourceName, name); err != nil {
			return escapeError(err)
		}
		stats.Files++

	default:
		// Devices, FIFOs and PAX/GNU metadata records have no place in a
		// dataset tree.
		x.logger().DebugContext(ctx, "skipping archive entry", "name", hdr.Name, "type", string(hdr.Typeflag))
		stats.Skipped++
	}
	return nil
}

// checkResolvedSymlink repeats the checkSymlink test against the real
// location of the link's parent, after earlier symlinks in the tree have
// been followed. The parent must already exist.
func (t *tree) checkResolvedSymlink(name, linkname string) error {
	parent, err := filepath.EvalSymlinks(filepath.Join(t.path, filepath.Dir(name)))
	if err != nil {
		return err
	}
	if !within(t.resolved, parent) {
		return fmt.Errorf("%w: %q resolves outside the extraction directory", ErrUnsafePath, filepath.Dir(name))
	}
	if !within(t.resolved, filepath.Join(parent, filepath.FromSlash(linkname))) {
		return fmt.Errorf("%w: symlink to %q", ErrUnsafePath, linkname)
	}
	return nil
}

// escapeError reports os.Root's refusal to leave the tree as ErrUnsafePath.
func escapeError(err error) error {
	if err == nil {
		return nil
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) && strings.Contains(pathErr.Err.Error(), "escapes") {
		return fmt.Errorf("%w: %w", ErrUnsafePath, err)
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && strings.Contains(linkErr.Err.Error(), "escapes") {
		return fmt.Errorf("%w: %w", ErrUnsafePath, err)
	}
	return err
}

func (x *Extractor) logger() *slog.Logger {
	if x.Logger != nil {
		return x.Logger
	}
	return slog.Default()
}

// safeJoin joins an archive entry name onto root, rejecting names that
// resolve outside root.
func safeJoin(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || strings.HasPrefix(name, "/") || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, name)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	target := filepath.Join(root, clean)
	if !within(root, target) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}

// checkSymlink rejects links whose target resolves outside root.
func checkSymlink(root, target, linkname string) error {
	if filepath.IsAbs(linkname) || strings.HasPrefix(linkname, "/") {
		return fmt.Errorf("%w: symlink to absolute path %q", ErrUnsafePath, linkname)
	}
	resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(linkname))
	if !within(root, resolved) {
		return fmt.Errorf("%w: symlink to %q", ErrUnsafePath, linkname)
	}
	return nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// replaceExisting removes whatever non-directory sits at name so a fresh
// file, link or symlink can be created there.
func replaceExisting(root *os.Root, name string) error {
	info, err := root.Lstat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s exists and is a directory", name)
	}
	return root.Remove(name)
}

func writeFile(root *os.Root, name string, r io.Reader, mode os.FileMode) (int64, error) {
	// Opening with O_TRUNC would follow a symlink left by an earlier
	// extraction and write through it.
	if err := replaceExisting(root, name); err != nil {
		return 0, err
	}

	f, err := root.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		return n, err
	}
	return n, f.Close()
}

func fileMode(hdr *tar.Header) os.FileMode {
	mode := hdr.FileInfo().Mode().Perm()
	if mode == 0 {
		return 0o644
	}
	return mode | 0o600
}

func dirMode(hdr *tar.Header) os.FileMode {
	mode := hdr.FileInfo().Mode().Perm()
	if mode == 0 {
		return 0o755
	}
	return mode | 0o700
}
