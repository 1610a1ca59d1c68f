package versionedkv

import (
	"path/filepath"
	"testing"

	"github.com/mezonai/sidechainnode/db"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	provider, err := db.NewLevelDBProvider(filepath.Join(dir, "kv"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })

	s, err := Open(provider.(db.IterableProvider))
	require.NoError(t, err)
	return s
}

func mustVersion(t *testing.T) Version {
	t.Helper()
	v, err := RandomVersion()
	require.NoError(t, err)
	return v
}

func TestUpdateAndGet(t *testing.T) {
	s := newTestStore(t)
	v1 := mustVersion(t)

	require.True(t, s.IsEmpty())
	err := s.Update(v1, map[string][]byte{"a": []byte("1")}, nil)
	require.NoError(t, err)
	require.False(t, s.IsEmpty())

	val, ok := s.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), val)

	last, ok := s.LastVersionID()
	require.True(t, ok)
	require.Equal(t, v1, last)
}

func TestUpdateRejectsKeyInPutsAndDeletes(t *testing.T) {
	s := newTestStore(t)
	v1 := mustVersion(t)
	err := s.Update(v1, map[string][]byte{"a": []byte("1")}, [][]byte{[]byte("a")})
	require.Error(t, err)
	require.True(t, s.IsEmpty())
}

func TestRollbackRestoresExactState(t *testing.T) {
	s := newTestStore(t)
	v1 := mustVersion(t)
	v2 := mustVersion(t)

	require.NoError(t, s.Update(v1, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, nil))
	require.NoError(t, s.Update(v2, map[string][]byte{"a": []byte("99")}, [][]byte{[]byte("b")}))

	val, ok := s.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("99"), val)
	_, ok = s.Get([]byte("b"))
	require.False(t, ok)

	require.NoError(t, s.Rollback(v1))

	val, ok = s.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), val)
	val, ok = s.Get([]byte("b"))
	require.True(t, ok)
	require.Equal(t, []byte("2"), val)

	last, ok := s.LastVersionID()
	require.True(t, ok)
	require.Equal(t, v1, last)
	require.Equal(t, 1, s.NumberOfVersions())
}

func TestRollbackToAbsentVersionFails(t *testing.T) {
	s := newTestStore(t)
	v1 := mustVersion(t)
	require.NoError(t, s.Update(v1, map[string][]byte{"a": []byte("1")}, nil))

	unknown := mustVersion(t)
	err := s.Rollback(unknown)
	require.Error(t, err)
}

func TestRollbackVersionsMostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	v1, v2, v3 := mustVersion(t), mustVersion(t), mustVersion(t)
	require.NoError(t, s.Update(v1, map[string][]byte{"a": []byte("1")}, nil))
	require.NoError(t, s.Update(v2, map[string][]byte{"a": []byte("2")}, nil))
	require.NoError(t, s.Update(v3, map[string][]byte{"a": []byte("3")}, nil))

	versions := s.RollbackVersions(2)
	require.Equal(t, []Version{v3, v2}, versions)
}

func TestReopenRebuildsVersionIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kv")

	provider, err := db.NewLevelDBProvider(path)
	require.NoError(t, err)

	s, err := Open(provider.(db.IterableProvider))
	require.NoError(t, err)
	v1 := mustVersion(t)
	require.NoError(t, s.Update(v1, map[string][]byte{"a": []byte("1")}, nil))
	require.NoError(t, provider.Close())

	provider2, err := db.NewLevelDBProvider(path)
	require.NoError(t, err)
	defer provider2.Close()

	s2, err := Open(provider2.(db.IterableProvider))
	require.NoError(t, err)
	last, ok := s2.LastVersionID()
	require.True(t, ok)
	require.Equal(t, v1, last)
	val, ok := s2.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), val)
}

