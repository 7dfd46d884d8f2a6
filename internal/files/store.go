// Package files serves the directory behind the /files route. Every
// operation goes through an os.Root, so names cannot reach outside it.
package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrNotExist    = errors.New("file does not exist")
)

const (
	filePerm = 0o644
	// tmpPrefix marks in-progress uploads; such names are never served.
	tmpPrefix = ".upload-"
)

type Store struct {
	dir  string
	root *os.Root
}

func Open(dir string) (*Store, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("error opening served directory %q: %w", dir, err)
	}
	return &Store{dir: dir, root: root}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Close() error {
	return s.root.Close()
}

// Read returns the contents of name. Missing files and directories are
// ErrNotExist.
func (s *Store) Read(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	info, err := s.root.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
		}
		return nil, fmt.Errorf("error reading %s: %w", name, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotExist, name)
	}

	data, err := s.root.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", name, err)
	}
	return data, nil
}

// Write replaces name with data. The bytes land in a temporary file that
// is renamed over the target, so readers see the old or the new contents.
func (s *Store) Write(name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}

	tmp := tmpPrefix + uuid.NewString() + ".tmp"
	if err := s.root.WriteFile(tmp, data, filePerm); err != nil {
		return fmt.Errorf("error writing %s: %w", name, err)
	}
	if err := s.root.Rename(tmp, name); err != nil {
		_ = s.root.Remove(tmp)
		return fmt.Errorf("error writing %s: %w", name, err)
	}
	return nil
}

func validateName(name string) error {
	if name == "" || name == "." || strings.ContainsAny(name, `/\`) || !filepath.IsLocal(name) ||
		strings.HasPrefix(name, tmpPrefix) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
