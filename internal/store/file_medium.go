package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileMedium stores each record as <dir>/<path>.dat, replacing it through
// a temp file and rename.
type FileMedium struct {
	dir string
}

func OpenFiles(dir string) (*FileMedium, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	return &FileMedium{dir: dir}, nil
}

func (m *FileMedium) file(path string) string {
	return filepath.Join(m.dir, strings.TrimPrefix(path, "/")+".dat")
}

func (m *FileMedium) Read(path string) ([]byte, error) {
	b, err := os.ReadFile(m.file(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (m *FileMedium) Write(path string, data []byte) error {
	dst := m.file(path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".rec-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (m *FileMedium) Close() error { return nil }
