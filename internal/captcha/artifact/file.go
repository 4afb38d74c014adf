package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// FileStore keeps artifacts as files in a single directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir. The directory must
// already exist and be writable.
func NewFileStore(dir string) (*FileStore, error) {
	if err := CheckWritableDir(dir); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory artifacts are written to.
func (s *FileStore) Dir() string { return s.dir }

// CheckWritableDir reports whether dir exists, is a directory and is
// writable by this process. Nothing is created or written.
func CheckWritableDir(dir string) error {
	if dir == "" {
		return errors.New("path is empty")
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	return nil
}

// Ping checks that the directory is still writable.
func (s *FileStore) Ping(context.Context) error { return CheckWritableDir(s.dir) }

// Save writes data to <dir>/<ref>, replacing any existing file.
func (s *FileStore) Save(_ context.Context, ref string, data []byte) error {
	ref, err := cleanRef(ref)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.dir, ref), data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", ref, err)
	}
	return nil
}

// Delete removes <dir>/<ref>. A missing file is not an error.
func (s *FileStore) Delete(_ context.Context, ref string) error {
	ref, err := cleanRef(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, ref)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact %s: %w", ref, err)
	}
	return nil
}

// List returns every regular file in the directory.
func (s *FileStore) List(_ context.Context) ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read artifact dir: %w", err)
	}
	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		out = append(out, Info{Ref: e.Name(), ModTime: fi.ModTime()})
	}
	return out, nil
}
