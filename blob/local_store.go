package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

var _ Store = (*LocalStore)(nil)

const localStoreExt = ".bin"

// LocalStore is a Store that stores objects as flat files in a configured directory.
// Objects are stored as flat files, named by their key with .bin extension.
// Each storage node of the local network keeps its slivers in one LocalStore.
type LocalStore struct {
	dir          string
	minFreeSpace uint64
}

// NewLocalStore instantiates a new LocalStore and uses the given dir as the place to store objects.
func NewLocalStore(dir string, o ...Option) *LocalStore {
	cfg := getOpts(o)
	return &LocalStore{
		dir:          dir,
		minFreeSpace: cfg.minFreeSpace,
	}
}

// Dir returns the directory objects are stored in.
func (l *LocalStore) Dir() string {
	return l.dir
}

// Put reads the given reader fully and stores its content under key.
// The reader content is first stored in a temporary file and upon successful storage is moved into place.
// If less than the configured minimum free space is available, ErrNotEnoughSpace is returned;
// if writing the content would leave less than that, ErrBlobTooLarge is returned.
func (l *LocalStore) Put(_ context.Context, key string, reader io.Reader) (*Descriptor, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	src := reader
	var allowed uint64
	if l.minFreeSpace > 0 {
		free, err := FreeSpace(l.dir)
		if err != nil {
			return nil, fmt.Errorf("failed to check free space: %w", err)
		}
		if free <= l.minFreeSpace {
			return nil, ErrNotEnoughSpace
		}
		allowed = free - l.minFreeSpace
		src = io.LimitReader(reader, int64(allowed)+1)
	}
	dest, err := os.CreateTemp(l.dir, "tidepool_local_store_*.bin.temp")
	if err != nil {
		return nil, err
	}
	defer dest.Close()
	written, err := io.Copy(dest, src)
	if err != nil {
		os.Remove(dest.Name())
		return nil, err
	}
	if l.minFreeSpace > 0 && uint64(written) > allowed {
		os.Remove(dest.Name())
		return nil, ErrBlobTooLarge
	}
	if err = os.Rename(dest.Name(), l.path(key)); err != nil {
		os.Remove(dest.Name())
		return nil, err
	}
	stat, err := dest.Stat()
	if err != nil {
		return nil, err
	}
	return &Descriptor{
		Key:              key,
		Size:             uint64(written),
		ModificationTime: stat.ModTime(),
	}, nil
}

// Get Retrieves the content stored under key.
// If no object is found for the given key, ErrBlobNotFound is returned.
func (l *LocalStore) Get(_ context.Context, key string) (io.ReadSeekCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	switch blob, err := os.Open(l.path(key)); {
	case err == nil:
		return blob, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, ErrBlobNotFound
	default:
		return nil, err
	}
}

// Describe gets the description of the object for the given key.
// If no object is found for the given key, ErrBlobNotFound is returned.
func (l *LocalStore) Describe(_ context.Context, key string) (*Descriptor, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	switch stat, err := os.Stat(l.path(key)); {
	case err == nil:
		return &Descriptor{
			Key:              key,
			Size:             uint64(stat.Size()),
			ModificationTime: stat.ModTime(),
		}, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, ErrBlobNotFound
	default:
		return nil, err
	}
}

// Remove deletes the object stored under key.
// If no object is found for the given key, ErrBlobNotFound is returned.
func (l *LocalStore) Remove(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	switch err := os.Remove(l.path(key)); {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrNotExist):
		return ErrBlobNotFound
	default:
		return err
	}
}

// List returns the keys of all stored objects in lexical order.
func (l *LocalStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, localStoreExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, localStoreExt))
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *LocalStore) path(key string) string {
	return path.Join(l.dir, key+localStoreExt)
}

func validateKey(key string) error {
	if key == "" || key != filepath.Base(key) || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return &ValidationError{Field: "key", Reason: fmt.Sprintf("%q is not a valid object key", key)}
	}
	return nil
}
