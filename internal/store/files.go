package store

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paveg/tabula/internal/errors"
)

// Files stores uploaded file bytes.
type Files interface {
	// Save writes r under a fresh path derived from name. A positive
	// maxBytes rejects larger inputs with a size-limit LoadError and leaves
	// nothing behind.
	Save(name string, r io.Reader, maxBytes int64) (path string, size int64, err error)
	Open(path string) (io.ReadCloser, error)
	Remove(path string) error
}

// LocalFiles keeps uploads in one directory as <timestamp>_<name>.
type LocalFiles struct {
	dir string
	now func() time.Time
}

var _ Files = (*LocalFiles)(nil)

// NewLocalFiles creates dir when missing.
func NewLocalFiles(dir string) (*LocalFiles, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalFiles{dir: dir, now: time.Now}, nil
}

// Dir returns the upload directory.
func (l *LocalFiles) Dir() string { return l.dir }

// cleanName keeps only the base name and drops path separators.
func cleanName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "upload"
	}
	return base
}

func (l *LocalFiles) create(name string) (*os.File, error) {
	stamp := l.now().UTC().Format("20060102_150405")
	base := cleanName(name)
	for n := 0; ; n++ {
		candidate := stamp + "_" + base
		if n > 0 {
			candidate = fmt.Sprintf("%s_%d_%s", stamp, n, base)
		}
		f, err := os.OpenFile(filepath.Join(l.dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if stderrors.Is(err, fs.ErrExist) {
			continue
		}
		return f, err
	}
}

func (l *LocalFiles) Save(name string, r io.Reader, maxBytes int64) (string, int64, error) {
	f, err := l.create(name)
	if err != nil {
		return "", 0, fmt.Errorf("save upload: %w", err)
	}
	path := f.Name()

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && maxBytes > 0 && n > maxBytes {
		err = errors.NewSizeLimitError(strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."), "bytes", maxBytes)
	}
	if err != nil {
		_ = os.Remove(path)
		var loadErr *errors.LoadError
		if stderrors.As(err, &loadErr) {
			return "", 0, err
		}
		return "", 0, fmt.Errorf("save upload: %w", err)
	}
	return path, n, nil
}

func (l *LocalFiles) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.NewNotFoundError("file", filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	return f, nil
}

// Remove deletes path; a missing file is not an error.
func (l *LocalFiles) Remove(path string) error {
	if err := os.Remove(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}
