package blobstore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/shelffs/shelf/pkg/shelferr"
)

// FSBackend is the required filesystem backend (§4.H: "a filesystem
// contract"): every sidecar is a regular file under RootPath, written via a
// temp-file-then-rename so a crash mid-write never leaves a partial file at
// its final name for the bootstrap scan to trip over.
type FSBackend struct {
	RootPath string
}

func NewFSBackend(rootPath string) *FSBackend {
	return &FSBackend{RootPath: rootPath}
}

func (b *FSBackend) abs(relPath string) string {
	return filepath.Join(b.RootPath, filepath.FromSlash(relPath))
}

func (b *FSBackend) Write(ctx context.Context, relPath string, data []byte) error {
	path := b.abs(relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return shelferr.Wrap(shelferr.Fatal, "create sidecar directory", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return shelferr.Wrap(shelferr.Fatal, "write sidecar temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return shelferr.Wrap(shelferr.Fatal, "rename sidecar into place", err)
	}
	return nil
}

func (b *FSBackend) Exists(ctx context.Context, relPath string) (bool, error) {
	_, err := os.Stat(b.abs(relPath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, shelferr.Wrap(shelferr.Fatal, "stat sidecar", err)
}

func (b *FSBackend) Read(ctx context.Context, relPath string) ([]byte, error) {
	data, err := os.ReadFile(b.abs(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, shelferr.NotFoundf("sidecar %q not found", relPath)
		}
		return nil, shelferr.Wrap(shelferr.Fatal, "read sidecar", err)
	}
	return data, nil
}

func (b *FSBackend) Delete(ctx context.Context, relPath string) error {
	if err := os.Remove(b.abs(relPath)); err != nil && !os.IsNotExist(err) {
		return shelferr.Wrap(shelferr.Fatal, "delete sidecar", err)
	}
	return nil
}

func (b *FSBackend) Walk(ctx context.Context, root string, fn func(relPath string) error) error {
	start := b.abs(root)
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == start {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.RootPath, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel))
	})
	if err != nil {
		return shelferr.Wrap(shelferr.Fatal, "walk sidecar tree", err)
	}
	return nil
}
