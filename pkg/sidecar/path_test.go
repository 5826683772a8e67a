package sidecar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelffs/shelf/pkg/catalog"
)

func TestContentPathShardsByPrefix(t *testing.T) {
	path, err := ContentPath("ab12cd34-0000-0000-0000-000000000000", catalog.SidecarKindThumb, "256", "jpg")
	require.NoError(t, err)
	assert.Equal(t, "sidecars/content/ab/12/ab12cd34-0000-0000-0000-000000000000/thumb/256.jpg", path)
}

func TestContentPathRejectsShortUUID(t *testing.T) {
	_, err := ContentPath("a", catalog.SidecarKindThumb, "256", "jpg")
	assert.Error(t, err)
}
