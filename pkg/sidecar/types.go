// Package sidecar implements the Sidecar Manager (§4.H): addressing,
// existence checks, generate-on-demand job enqueueing, and a bootstrap scan
// reconciling filesystem truth with the database, for artifacts derived
// from a ContentIdentity (thumbnails, proxies, embeddings, OCR text,
// transcripts, live-photo companion video).
package sidecar

import "github.com/shelffs/shelf/pkg/catalog"

// GenerationRequest describes one artifact to produce.
type GenerationRequest struct {
	ContentUUID string
	Kind        catalog.SidecarKind
	Variant     string
	Format      string
	// SourcePath is the absolute path of a source Entry backing ContentUUID,
	// supplied by the caller since the manager itself has no opinion on
	// which of possibly several Entries sharing this content to read from.
	SourcePath string
}

// key identifies the concurrency-invariant slot this request occupies:
// "at most one generation job in flight per (content_uuid, kind, variant)".
func (r GenerationRequest) key() string {
	return r.ContentUUID + "\x00" + string(r.Kind) + "\x00" + r.Variant
}

// Outcome is what GetOrEnqueue reports back to the caller.
type Outcome string

const (
	OutcomeReady   Outcome = "ready"
	OutcomePending Outcome = "pending"
)

// LookupResult is GetOrEnqueue's return value.
type LookupResult struct {
	Outcome Outcome
	// Path is the relative sidecar path (valid only when Outcome == Ready).
	Path string
}
