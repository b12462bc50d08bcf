package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStorageDown = errors.New("storage down")

// flakyStorage wraps a storage and fails writes or deletes on demand
type flakyStorage struct {
	KeyValueStorage
	mu         sync.Mutex
	failWrites bool
	failDelete bool
	failReads  bool
}

func newFlakyStorage() *flakyStorage {
	return &flakyStorage{KeyValueStorage: NewMemoryStorage()}
}

func (f *flakyStorage) set(writes, deletes, reads bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites, f.failDelete, f.failReads = writes, deletes, reads
}

func (f *flakyStorage) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	fail := f.failReads
	f.mu.Unlock()
	if fail {
		return "", errStorageDown
	}
	return f.KeyValueStorage.Get(ctx, key)
}

func (f *flakyStorage) Set(ctx context.Context, key, value string) error {
	return f.MultiSet(ctx, map[string]string{key: value})
}

func (f *flakyStorage) MultiSet(ctx context.Context, pairs map[string]string) error {
	f.mu.Lock()
	fail := f.failWrites
	f.mu.Unlock()
	if fail {
		return errStorageDown
	}
	return f.KeyValueStorage.MultiSet(ctx, pairs)
}

func (f *flakyStorage) Remove(ctx context.Context, key string) error {
	return f.MultiRemove(ctx, key)
}

func (f *flakyStorage) MultiRemove(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	fail := f.failDelete
	f.mu.Unlock()
	if fail {
		return errStorageDown
	}
	return f.KeyValueStorage.MultiRemove(ctx, keys...)
}

func exerciseStorage(t *testing.T, s KeyValueStorage) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.MultiSet(ctx, map[string]string{"b": "2", "c": "3"}))

	v, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	require.NoError(t, s.Set(ctx, "a", "updated"))
	v, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "updated", v)

	require.NoError(t, s.Remove(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.MultiRemove(ctx, "b", "c", "never-set"))
	_, err = s.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorage(t *testing.T) {
	exerciseStorage(t, NewMemoryStorage())
}

func TestFileStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.bin")

	s, err := NewFileStorage(path, []byte("device-secret"))
	require.NoError(t, err)
	exerciseStorage(t, s)

	require.NoError(t, s.Set(context.Background(), "accessToken", "t1"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "t1")

	reopened, err := NewFileStorage(path, []byte("device-secret"))
	require.NoError(t, err)
	v, err := reopened.Get(context.Background(), "accessToken")
	require.NoError(t, err)
	assert.Equal(t, "t1", v)
}

func TestFileStorageWrongSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.bin")

	s, err := NewFileStorage(path, []byte("device-a"))
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), "k", "v"))

	_, err = NewFileStorage(path, []byte("device-b"))
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestMachineSecretIsStable(t *testing.T) {
	assert.Equal(t, MachineSecret("p1"), MachineSecret("p1"))
	assert.NotEqual(t, MachineSecret("p1"), MachineSecret("p2"))
}
