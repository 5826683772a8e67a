package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSBackendWriteExistsReadDelete(t *testing.T) {
	ctx := context.Background()
	b := NewFSBackend(t.TempDir())

	exists, err := b.Exists(ctx, "content/ab/cd/uuid/thumb/256.jpg")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, b.Write(ctx, "content/ab/cd/uuid/thumb/256.jpg", []byte("jpeg bytes")))

	exists, err = b.Exists(ctx, "content/ab/cd/uuid/thumb/256.jpg")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := b.Read(ctx, "content/ab/cd/uuid/thumb/256.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	require.NoError(t, b.Delete(ctx, "content/ab/cd/uuid/thumb/256.jpg"))
	exists, err = b.Exists(ctx, "content/ab/cd/uuid/thumb/256.jpg")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFSBackendReadMissingIsNotFound(t *testing.T) {
	b := NewFSBackend(t.TempDir())
	_, err := b.Read(context.Background(), "nope")
	assert.Error(t, err)
}

func TestFSBackendWalkVisitsAllFiles(t *testing.T) {
	ctx := context.Background()
	b := NewFSBackend(t.TempDir())

	require.NoError(t, b.Write(ctx, "content/ab/cd/uuid1/thumb/256.jpg", []byte("a")))
	require.NoError(t, b.Write(ctx, "content/ef/01/uuid2/proxy/1080.mp4", []byte("b")))

	var seen []string
	require.NoError(t, b.Walk(ctx, "content", func(relPath string) error {
		seen = append(seen, relPath)
		return nil
	}))
	assert.ElementsMatch(t, []string{"content/ab/cd/uuid1/thumb/256.jpg", "content/ef/01/uuid2/proxy/1080.mp4"}, seen)
}

func TestFSBackendWalkOnMissingRootIsNotAnError(t *testing.T) {
	b := NewFSBackend(t.TempDir())
	var seen []string
	err := b.Walk(context.Background(), "content", func(relPath string) error {
		seen = append(seen, relPath)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, seen)
}
