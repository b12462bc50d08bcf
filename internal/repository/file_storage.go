package repository

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const fileKeyInfo = "chatsync file storage v1"

// fileStorage keeps all values in one encrypted file, rewritten atomically on every change
type fileStorage struct {
	mu     sync.Mutex
	path   string
	key    []byte
	values map[string]string
}

// NewFileStorage opens (or creates) an encrypted storage file.
// secret is stretched with HKDF into the XChaCha20-Poly1305 key.
func NewFileStorage(path string, secret []byte) (KeyValueStorage, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, []byte(path), []byte(fileKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive storage key: %w", err)
	}

	s := &fileStorage{path: path, key: key, values: make(map[string]string)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// MachineSecret returns a device-bound secret for the given profile
func MachineSecret(profile string) []byte {
	var id string
	for _, p := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		data, err := os.ReadFile(p)
		if err == nil {
			id = strings.TrimSpace(string(data))
			break
		}
	}
	if id == "" {
		id, _ = os.Hostname()
	}
	return []byte(id + "/" + profile)
}

func (s *fileStorage) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read storage file: %w", err)
	}

	plain, err := s.open(data)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(plain, &s.values); err != nil {
		return fmt.Errorf("failed to decode storage file: %w", ErrCorrupted)
	}
	return nil
}

func (s *fileStorage) seal(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *fileStorage) open(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	if len(data) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short: %w", ErrCorrupted)
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt storage file: %w", ErrCorrupted)
	}
	return plain, nil
}

// flush writes next to disk and swaps it in only when the write succeeded
func (s *fileStorage) flush(next map[string]string) error {
	plain, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode storage: %w", err)
	}

	sealed, err := s.seal(plain)
	if err != nil {
		return fmt.Errorf("failed to encrypt storage: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create storage dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace storage file: %w", err)
	}

	s.values = next
	return nil
}

func (s *fileStorage) copyValues() map[string]string {
	next := make(map[string]string, len(s.values))
	for k, v := range s.values {
		next[k] = v
	}
	return next
}

func (s *fileStorage) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("key %s: %w", key, ErrNotFound)
	}
	return v, nil
}

func (s *fileStorage) Set(ctx context.Context, key, value string) error {
	return s.MultiSet(ctx, map[string]string{key: value})
}

func (s *fileStorage) MultiSet(ctx context.Context, pairs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.copyValues()
	for k, v := range pairs {
		next[k] = v
	}
	return s.flush(next)
}

func (s *fileStorage) Remove(ctx context.Context, key string) error {
	return s.MultiRemove(ctx, key)
}

func (s *fileStorage) MultiRemove(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.copyValues()
	for _, k := range keys {
		delete(next, k)
	}
	return s.flush(next)
}

func (s *fileStorage) Close() error {
	return nil
}
