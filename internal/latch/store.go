package latch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store is the local directory standing in for the platform object store.
type Store struct {
	root string
}

// NewStore opens (creating if needed) a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) objectPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Resolve stages the object behind uri into destDir and returns the local
// path, as the platform does before a task runs.
func (s *Store) Resolve(uri, destDir string) (string, error) {
	key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	src := s.objectPath(key)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrObjectNotFound, uri)
		}
		return "", fmt.Errorf("stat object %s: %w", uri, err)
	}

	dst := filepath.Join(destDir, filepath.Base(key))
	if err := copyFileAtomic(src, dst); err != nil {
		return "", fmt.Errorf("stage %s to %s: %w", uri, dst, err)
	}
	return dst, nil
}

// Stage copies localPath into the store under uri's key and returns the
// resulting handle.
func (s *Store) Stage(localPath, uri string) (File, error) {
	key, err := ParseURI(uri)
	if err != nil {
		return File{}, err
	}
	if _, err := os.Stat(localPath); err != nil {
		return File{}, fmt.Errorf("stat %s: %w", localPath, err)
	}

	dst := s.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return File{}, fmt.Errorf("create store dir for %s: %w", uri, err)
	}
	if err := copyFileAtomic(localPath, dst); err != nil {
		return File{}, fmt.Errorf("stage %s to store: %w", localPath, err)
	}
	return File{LocalPath: localPath, RemoteURI: uri}, nil
}

// copyFileAtomic copies src to dst via a temp file in dst's directory so a
// crashed copy never leaves a partial object visible.
func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".trimwf-stage-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}
