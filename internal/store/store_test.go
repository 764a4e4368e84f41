package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	s, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_GetSet(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Set("ledger:2026-01", []byte(`{"records":{}}`)))

	val, err := s.Get("ledger:2026-01")
	require.NoError(t, err)
	assert.Equal(t, `{"records":{}}`, string(val))
}

func TestStore_GetMissingKey(t *testing.T) {
	s := setupStore(t)

	val, err := s.Get("ledger:1999-01")
	require.NoError(t, err, "missing key must not be an error")
	assert.Nil(t, val)
}

func TestStore_Overwrite(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Set("k", []byte("one")))
	require.NoError(t, s.Set("k", []byte("two")))

	val, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "two", string(val))
}

func TestStore_DeletePrefix(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Set("ledger:2026-01", []byte("a")))
	require.NoError(t, s.Set("ledger:2026-02", []byte("b")))
	require.NoError(t, s.Set("other:x", []byte("c")))

	require.NoError(t, s.DeletePrefix("ledger:"))

	val, err := s.Get("ledger:2026-01")
	require.NoError(t, err)
	assert.Nil(t, val)

	val, err = s.Get("other:x")
	require.NoError(t, err)
	assert.Equal(t, "c", string(val))
}

func TestStore_ListKeys(t *testing.T) {
	s := setupStore(t)

	require.NoError(t, s.Set("ledger:2026-01", []byte("a")))
	require.NoError(t, s.Set("ledger:2026-02", []byte("b")))
	require.NoError(t, s.Set("other:x", []byte("c")))

	keys, err := s.ListKeys("ledger:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ledger:2026-01", "ledger:2026-02"}, keys)
}
