package reportserver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideDataDir is returned when a report name would resolve outside
// the data directory.
var ErrOutsideDataDir = errors.New("report path escapes data directory")

// Store writes reports into a single directory.
type Store struct {
	dir string
}

// NewStore creates dir if needed and returns a Store writing into it.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{dir: abs}, nil
}

// Dir returns the absolute data directory.
func (s *Store) Dir() string { return s.dir }

// Resolve returns the absolute path of name. The path must be a direct
// child of the data directory.
func (s *Store) Resolve(name string) (string, error) {
	path := filepath.Join(s.dir, name)
	if filepath.Dir(path) != s.dir || filepath.Base(path) != name {
		return "", fmt.Errorf("%w: %q", ErrOutsideDataDir, name)
	}
	return path, nil
}

// maxSuffix bounds the numbered alternatives tried for a taken name.
const maxSuffix = 100

// Write stores data as name and returns the path written. Existing reports
// are never overwritten: a taken name is retried as <base>_2<ext>,
// <base>_3<ext> and so on.
func (s *Store) Write(name string, data []byte) (string, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return "", err
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			if n > maxSuffix {
				return "", fmt.Errorf("create report: %d reports named %s", maxSuffix, name)
			}
			if path, err = s.Resolve(fmt.Sprintf("%s_%d%s", base, n, ext)); err != nil {
				return "", err
			}
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create report: %w", err)
		}
		if err := writeFile(f, path, data); err != nil {
			return "", err
		}
		return path, nil
	}
}

func writeFile(f *os.File, path string, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close report: %w", err)
	}
	return nil
}
