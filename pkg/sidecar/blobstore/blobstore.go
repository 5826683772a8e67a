// Package blobstore provides the filesystem contract §4.H requires plus an
// optional S3-compatible replica backend, both addressed by the sharded
// relative path pkg/sidecar computes for every artifact.
package blobstore

import "context"

// Backend stores and retrieves sidecar artifact bytes by relative path
// (the value pkg/sidecar.ContentPath computes).
type Backend interface {
	// Write stores data at relPath, creating any needed parent structure.
	Write(ctx context.Context, relPath string, data []byte) error
	// Exists reports whether relPath is present.
	Exists(ctx context.Context, relPath string) (bool, error)
	// Read returns the bytes stored at relPath.
	Read(ctx context.Context, relPath string) ([]byte, error)
	// Delete removes relPath; deleting an absent path is not an error.
	Delete(ctx context.Context, relPath string) error
	// Walk visits every stored relative path under root (used by the
	// bootstrap scan to reconcile filesystem truth with the database).
	Walk(ctx context.Context, root string, fn func(relPath string) error) error
}
