package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrKeyInfoNotFound = errors.New("key info not found")
	ErrKeyExists       = errors.New("key already exists")
)

// KeyTypeEd25519 is the only supported key type.
const KeyTypeEd25519 = "ed25519"

const keyFileSuffix = ".key"

// KeyInfo is a stored private key.
type KeyInfo struct {
	Type       string `json:"type"`
	PrivateKey []byte `json:"privateKey"`
}

// DiskKeyStore keeps one JSON file per key in a directory readable only by its owner.
// Files are named by the URL-safe base64 encoding of the key name.
type DiskKeyStore struct {
	dir string
}

// DefaultDiskKeyStoreOpener returns a function that opens the keystore at p, or at
// ~/.tidepool/keystore if p is empty. If createIfNotExist is set a missing directory is created.
func DefaultDiskKeyStoreOpener(p string, createIfNotExist bool) func() (*DiskKeyStore, error) {
	return func() (*DiskKeyStore, error) {
		if p == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get user home directory while initialising disk keystore: %w", err)
			}
			p = filepath.Join(home, ".tidepool", "keystore")
			logger.Infow("Using default disk keystore path under user home directory", "path", p)
		}
		ks, err := OpenDiskKeyStore(p)
		if err == nil || !errors.Is(err, os.ErrNotExist) || !createIfNotExist {
			return ks, err
		}
		if err := os.MkdirAll(p, 0700); err != nil {
			return nil, err
		}
		return OpenDiskKeyStore(p)
	}
}

// OpenDiskKeyStore opens the keystore in directory p, which must already exist.
func OpenDiskKeyStore(p string) (*DiskKeyStore, error) {
	stat, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open disk key store: %w", err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("disk key store path must be a directory: %s", p)
	}
	dir := filepath.Clean(p)
	logger.Debugw("Opened disk keystore", "path", dir)
	return &DiskKeyStore{dir: dir}, nil
}

// List returns the names of all stored keys in lexical order.
func (dks *DiskKeyStore) List() ([]string, error) {
	entries, err := os.ReadDir(dks.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), keyFileSuffix) {
			continue
		}
		name, err := base64.URLEncoding.DecodeString(strings.TrimSuffix(entry.Name(), keyFileSuffix))
		if err != nil {
			logger.Warnw("Ignoring key file with undecodable name", "file", entry.Name())
			continue
		}
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names, nil
}

// Get returns the key stored under name, or ErrKeyInfoNotFound.
func (dks *DiskKeyStore) Get(name string) (KeyInfo, error) {
	path := dks.keyPath(name)
	stat, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return KeyInfo{}, fmt.Errorf("failed to open key '%s': %w", name, ErrKeyInfoNotFound)
	case err != nil:
		return KeyInfo{}, fmt.Errorf("failed to open key '%s': %w", name, err)
	case stat.Mode().Perm()&0077 != 0:
		return KeyInfo{}, fmt.Errorf("permissions of key file '%s' must be at most 0600, got: %#o", path, stat.Mode().Perm())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return KeyInfo{}, fmt.Errorf("failed to read key '%s': %w", name, err)
	}
	var info KeyInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return KeyInfo{}, fmt.Errorf("failed to decode key '%s': %w", name, err)
	}
	return info, nil
}

// Put stores info under name. Existing keys are never overwritten; ErrKeyExists is returned instead.
// The key file only appears once it is completely written.
func (dks *DiskKeyStore) Put(name string, info KeyInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode key '%s': %w", name, err)
	}
	tmp, err := os.CreateTemp(dks.dir, ".pending-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// Link fails if the target exists, unlike Rename.
	switch err := os.Link(tmp.Name(), dks.keyPath(name)); {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		return ErrKeyExists
	default:
		return err
	}
}

// Delete removes the key stored under name, or returns ErrKeyInfoNotFound.
func (dks *DiskKeyStore) Delete(name string) error {
	switch err := os.Remove(dks.keyPath(name)); {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return ErrKeyInfoNotFound
	default:
		return err
	}
}

// Generate creates a new ed25519 key, stores it under name and returns it.
func (dks *DiskKeyStore) Generate(name string) (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := dks.Put(name, KeyInfo{Type: KeyTypeEd25519, PrivateKey: priv}); err != nil {
		return nil, err
	}
	logger.Infow("Generated a new key", "name", name, "address", AddressFromPublicKey(priv.Public().(ed25519.PublicKey)))
	return priv, nil
}

// PrivateKey loads the ed25519 key stored under name.
// If generateIfNotExist is set and no such key exists, a new one is generated.
func (dks *DiskKeyStore) PrivateKey(name string, generateIfNotExist bool) (ed25519.PrivateKey, error) {
	switch info, err := dks.Get(name); {
	case err == nil:
		if info.Type != KeyTypeEd25519 || len(info.PrivateKey) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("key '%s' is not a valid %s key", name, KeyTypeEd25519)
		}
		return ed25519.PrivateKey(info.PrivateKey), nil
	case errors.Is(err, ErrKeyInfoNotFound) && generateIfNotExist:
		logger.Warn("Please make sure to backup the newly generated key to avoid loss.")
		return dks.Generate(name)
	default:
		return nil, err
	}
}

func (dks *DiskKeyStore) keyPath(name string) string {
	return filepath.Join(dks.dir, base64.URLEncoding.EncodeToString([]byte(name))+keyFileSuffix)
}
