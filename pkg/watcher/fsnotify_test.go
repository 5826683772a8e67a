package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForEvent(t *testing.T, events <-chan Event, kind EventKind, path string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind && (path == "" || ev.Path == path) {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event on %s", kind, path)
		}
	}
}

func TestFSNotifyDetectsCreateAndUpdate(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFSNotify()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Add(dir))

	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))
	waitForEvent(t, w.Events(), EventCreate, file)

	require.NoError(t, os.WriteFile(file, []byte("hello world"), 0o644))
	waitForEvent(t, w.Events(), EventUpdate, file)
}

func TestFSNotifyDetectsDelete(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "gone.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	w, err := NewFSNotify()
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Add(dir))

	require.NoError(t, os.Remove(file))
	waitForEvent(t, w.Events(), EventDelete, file)
}

func TestFSNotifyWatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFSNotify()
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Add(dir))

	sub := filepath.Join(dir, "newdir")
	require.NoError(t, os.Mkdir(sub, 0o755))
	waitForEvent(t, w.Events(), EventCreate, sub)

	nested := filepath.Join(sub, "nested.txt")
	require.NoError(t, os.WriteFile(nested, []byte("y"), 0o644))
	waitForEvent(t, w.Events(), EventCreate, nested)
}

func TestFSNotifyCloseStopsEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFSNotify()
	require.NoError(t, err)
	require.NoError(t, w.Add(dir))

	require.NoError(t, w.Close())

	_, ok := <-w.Events()
	assert.False(t, ok)
}
