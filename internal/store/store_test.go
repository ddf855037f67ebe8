package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPersistentCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPersistent(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer p.Close()

	cache := p.Cache("pump_calibrations")
	require.NoError(t, cache.Set("media", []byte("v1")))

	v, ok, err := cache.Get("media")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	_, ok, err = cache.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPersistentCacheDelete(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPersistent(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	defer p.Close()

	cache := p.Cache("pio_jobs_running")
	require.NoError(t, cache.Set("stirring", []byte("1")))
	require.NoError(t, cache.Delete("stirring"))

	_, ok, err := cache.Get("stirring")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIntermittentCacheIsolatedByName(t *testing.T) {
	s := NewIntermittent()
	a := s.Cache("a")
	b := s.Cache("b")

	a.Set("k", []byte("1"))
	_, ok := b.Get("k")
	require.False(t, ok)

	v, ok := a.Get("k")
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}
