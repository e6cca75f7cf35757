package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// File is a durable Store persisted as a single JSON object on an afero
// filesystem. The file is read once and rewritten on every change.
type File struct {
	fs   afero.Fs
	path string

	mu     sync.Mutex
	data   map[string]string
	loaded bool
}

// NewFile returns a File store at path. A nil fs uses the OS filesystem.
func NewFile(fsys afero.Fs, path string) *File {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &File{fs: fsys, path: path}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return "", false, err
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}
	prev, had := f.data[key]
	f.data[key] = value
	if err := f.save(); err != nil {
		if had {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

func (f *File) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(); err != nil {
		return err
	}
	prev, had := f.data[key]
	if !had {
		return nil
	}
	delete(f.data, key)
	if err := f.save(); err != nil {
		f.data[key] = prev
		return err
	}
	return nil
}

func (f *File) load() error {
	if f.loaded {
		return nil
	}
	raw, err := afero.ReadFile(f.fs, f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f.data = make(map[string]string)
	case err != nil:
		return fmt.Errorf("failed to read storage file: %w", err)
	default:
		data := make(map[string]string)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &data); err != nil {
				return fmt.Errorf("failed to parse storage file %s: %w", f.path, err)
			}
		}
		f.data = data
	}
	f.loaded = true
	return nil
}

func (f *File) save() error {
	raw, err := json.Marshal(f.data)
	if err != nil {
		return fmt.Errorf("failed to encode storage: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := f.fs.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create storage dir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	if err := f.fs.Rename(tmp, f.path); err != nil {
		_ = f.fs.Remove(tmp)
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}

// DefaultPath returns $HOME/.pulse/storage.json, or a path in the working
// directory when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pulse", "storage.json")
	}
	return filepath.Join(home, ".pulse", "storage.json")
}
