package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
)

// FileStore is a single JSON document on disk holding every key. A lock file
// guards it against other processes sharing the same path.
type FileStore struct {
	path  string
	quota int
	data  map[string]json.RawMessage
	flock *flock.Flock
	sync.Mutex
}

// NewFileStore opens, or lazily creates, the JSON file at path.
func NewFileStore(path string, quotaBytes int) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store needs a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}
	fs := &FileStore{
		path:  path,
		quota: quotaBytes,
		data:  make(map[string]json.RawMessage),
		flock: flock.New(path + ".lock"),
	}
	return fs, fs.load()
}

func (fs *FileStore) Save(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("file store only holds JSON values")
	}
	if err := fs.flock.Lock(); err != nil {
		return err
	}
	defer fs.flock.Unlock()
	fs.Lock()
	defer fs.Unlock()
	if err := fs.load(); err != nil {
		return err
	}

	previous, had := fs.data[key]
	fs.data[key] = append(json.RawMessage(nil), value...)
	encoded, err := json.Marshal(fs.data)
	if err != nil {
		return err
	}
	if fs.quota > 0 && len(encoded) > fs.quota {
		if had {
			fs.data[key] = previous
		} else {
			delete(fs.data, key)
		}
		return quotaError(key, len(encoded), fs.quota)
	}
	return fs.write(encoded)
}

func (fs *FileStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	if err := fs.flock.Lock(); err != nil {
		return nil, false, err
	}
	defer fs.flock.Unlock()
	fs.Lock()
	defer fs.Unlock()
	if err := fs.load(); err != nil {
		return nil, false, err
	}
	v, ok := fs.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (fs *FileStore) Delete(_ context.Context, key string) error {
	if err := fs.flock.Lock(); err != nil {
		return err
	}
	defer fs.flock.Unlock()
	fs.Lock()
	defer fs.Unlock()
	if err := fs.load(); err != nil {
		return err
	}
	delete(fs.data, key)
	encoded, err := json.Marshal(fs.data)
	if err != nil {
		return err
	}
	return fs.write(encoded)
}

func (fs *FileStore) Keys(_ context.Context) ([]string, error) {
	if err := fs.flock.Lock(); err != nil {
		return nil, err
	}
	defer fs.flock.Unlock()
	fs.Lock()
	defer fs.Unlock()
	if err := fs.load(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(fs.data))
	for k := range fs.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// load reads the file from disk, a missing file is an empty store.
func (fs *FileStore) load() error {
	f, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(f) == 0 {
		return nil
	}
	data := make(map[string]json.RawMessage)
	if err := json.Unmarshal(f, &data); err != nil {
		return fmt.Errorf("corrupted state file %s: %w", fs.path, err)
	}
	fs.data = data
	return nil
}

// write replaces the file atomically.
func (fs *FileStore) write(encoded []byte) error {
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, fs.path)
}
