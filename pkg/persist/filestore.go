package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crystal-mush/nakedsun/pkg/storage"
)

// FileStore keeps each document in its own storage file at
// <dir>/<tag>/<escaped key>, the layout of a NakedMud lib directory.
type FileStore struct {
	dir string
}

// OpenFileStore uses dir, creating it if needed.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the root directory.
func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) path(tag, key string) (string, error) {
	if tag == "" || strings.ContainsAny(tag, `/\`) || tag == "." || tag == ".." {
		return "", fmt.Errorf("persist: bad tag %q", tag)
	}
	if key == "" || key == "." || key == ".." {
		return "", fmt.Errorf("persist: bad key %q", key)
	}
	return filepath.Join(f.dir, tag, url.PathEscape(key)), nil
}

func (f *FileStore) Put(tag, key string, doc *storage.Set) error {
	p, err := f.path(tag, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return storage.Save(p, doc)
}

func (f *FileStore) Get(tag, key string) (*storage.Set, error) {
	p, err := f.path(tag, key)
	if err != nil {
		return nil, err
	}
	doc, err := storage.Load(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s %q", ErrNotFound, tag, key)
	}
	return doc, err
}

func (f *FileStore) Delete(tag, key string) error {
	p, err := f.path(tag, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

func (f *FileStore) Keys(tag string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.dir, tag))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		key, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *FileStore) Close() error { return nil }
