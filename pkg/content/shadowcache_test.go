package content

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShadowCacheRoundTrip(t *testing.T) {
	cache, err := OpenShadowCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	_, found, err := cache.Lookup("unseen-cas-id")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, cache.Record("cas-abc", 42))

	id, found, err := cache.Lookup("cas-abc")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 42, id)
}

func TestShadowCacheOverwrite(t *testing.T) {
	cache, err := OpenShadowCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.Record("cas-xyz", 1))
	require.NoError(t, cache.Record("cas-xyz", 2))

	id, found, err := cache.Lookup("cas-xyz")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 2, id)
}
