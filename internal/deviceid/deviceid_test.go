package deviceid

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateGeneratesThenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device-id")

	first, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "device-id")
	id, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
