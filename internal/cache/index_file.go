package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

const metaExt = ".json"

// FileIndex keeps one JSON document per key in a directory. Lookups by
// key are a single read; lookups by filename scan the directory.
type FileIndex struct {
	dir string
}

// NewFileIndex creates dir if needed.
func NewFileIndex(dir string) (*FileIndex, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}
	return &FileIndex{dir: dir}, nil
}

func (f *FileIndex) path(key string) string {
	return filepath.Join(f.dir, key+metaExt)
}

func (f *FileIndex) Get(_ context.Context, key string) (*Entry, error) {
	if !validName(key) {
		return nil, ErrInvalidName
	}
	return f.read(f.path(key))
}

func (f *FileIndex) read(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cache metadata")
	}

	var r record
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrapf(err, "corrupt cache metadata %s", filepath.Base(path))
	}
	if r.Key == "" {
		r.Key = strings.TrimSuffix(filepath.Base(path), metaExt)
	}
	return r.entry(), nil
}

func (f *FileIndex) Put(_ context.Context, e *Entry) error {
	if !validName(e.Key) {
		return ErrInvalidName
	}

	data, err := sonic.Marshal(toRecord(e))
	if err != nil {
		return errors.Wrap(err, "failed to encode cache metadata")
	}

	return writeFileAtomic(f.dir, f.path(e.Key), data)
}

func (f *FileIndex) Remove(_ context.Context, key string) error {
	if !validName(key) {
		return ErrInvalidName
	}
	err := os.Remove(f.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove cache metadata")
	}
	return nil
}

func (f *FileIndex) FindByFilename(ctx context.Context, filename string) (*Entry, error) {
	entries, err := f.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Filename == filename {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

// All returns every readable entry. Unreadable documents are skipped.
func (f *FileIndex) All(_ context.Context) ([]*Entry, error) {
	names, err := f.metaFiles()
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(names))
	for _, name := range names {
		e, err := f.read(filepath.Join(f.dir, name))
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (f *FileIndex) Clear(_ context.Context) (int, error) {
	names, err := f.metaFiles()
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(f.dir, name)); err != nil && !os.IsNotExist(err) {
			return cleared, errors.Wrap(err, "failed to clear cache metadata")
		}
		cleared++
	}
	return cleared, nil
}

func (f *FileIndex) Close() error {
	return nil
}

func (f *FileIndex) metaFiles() ([]string, error) {
	dirEntries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cache directory")
	}

	var names []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), metaExt) || isTemp(de.Name()) {
			continue
		}
		names = append(names, de.Name())
	}
	return names, nil
}
