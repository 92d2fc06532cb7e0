package store

import (
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// File is the durable store: one file per key under a base directory,
// surviving process restarts. Keys are path-escaped so any string is a
// valid key.
type File struct {
	lk  sync.Mutex
	fs  afero.Fs
	dir string
}

// NewFile opens a file store rooted at dir on the OS filesystem.
func NewFile(dir string) (*File, error) {
	return NewFileWithFs(afero.NewOsFs(), dir)
}

// NewFileWithFs opens a file store on an arbitrary afero filesystem,
// which keeps tests hermetic via afero.NewMemMapFs.
func NewFileWithFs(fs afero.Fs, dir string) (*File, error) {
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &File{fs: fs, dir: dir}, nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key))
}

func (f *File) GetItem(key string) (string, bool, error) {
	f.lk.Lock()
	defer f.lk.Unlock()
	data, err := afero.ReadFile(f.fs, f.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (f *File) SetItem(key, value string) error {
	f.lk.Lock()
	defer f.lk.Unlock()
	return afero.WriteFile(f.fs, f.path(key), []byte(value), 0o600)
}

func (f *File) RemoveItem(key string) error {
	f.lk.Lock()
	defer f.lk.Unlock()
	err := f.fs.Remove(f.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *File) Clear() error {
	f.lk.Lock()
	defer f.lk.Unlock()
	entries, err := afero.ReadDir(f.fs, f.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := f.fs.Remove(filepath.Join(f.dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
