package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for shelf's own domain operations. Protocol-agnostic
// keys use no prefix beyond their concern; component-specific keys are
// prefixed with that component's name.
const (
	// ========================================================================
	// Device/connection attributes
	// ========================================================================
	AttrDeviceID   = "device.id"
	AttrPeerDevice = "device.peer_id"
	AttrTrustLevel = "device.trust_level"

	// ========================================================================
	// Catalog/indexing attributes
	// ========================================================================
	AttrLocationID = "catalog.location_id"
	AttrEntryID    = "catalog.entry_id"
	AttrEntryPath  = "catalog.entry_path"
	AttrIndexPhase = "indexer.phase"
	AttrIndexMode  = "catalog.index_mode"

	// ========================================================================
	// Content store attributes
	// ========================================================================
	AttrContentID  = "content.id"
	AttrStoreName  = "store.name"
	AttrStoreType  = "store.type"
	AttrCacheHit   = "cache.hit"
	AttrCacheState = "cache.state"

	// ========================================================================
	// Transfer attributes
	// ========================================================================
	AttrTransferID    = "transfer.id"
	AttrChunkIndex    = "transfer.chunk_index"
	AttrChunkCount    = "transfer.chunk_count"
	AttrBytesSent     = "transfer.bytes_sent"
	AttrBytesReceived = "transfer.bytes_received"

	// ========================================================================
	// Sidecar/volume/storage backend attributes
	// ========================================================================
	AttrSidecarKind = "sidecar.kind"
	AttrVolumeID    = "volume.id"
	AttrBucket      = "storage.bucket"
	AttrKey         = "storage.key"
	AttrRegion      = "storage.region"
)

// Span names for shelf's own operations, following
// <component>.<operation>.
const (
	// ========================================================================
	// Indexer spans (§4.C)
	// ========================================================================
	SpanIndexDiscovery  = "indexer.discovery"
	SpanIndexProcessing = "indexer.processing"
	SpanIndexContentID  = "indexer.content_identification"

	// ========================================================================
	// Pairing/connection spans (§4.E, §4.F)
	// ========================================================================
	SpanPairingChallenge = "pairing.challenge"
	SpanPairingConfirm   = "pairing.confirm"
	SpanConnectionDial   = "connection.dial"
	SpanConnectionAccept = "connection.accept"

	// ========================================================================
	// Transfer spans (§4.G)
	// ========================================================================
	SpanTransferChunk    = "transfer.chunk"
	SpanTransferComplete = "transfer.complete"

	// ========================================================================
	// Content/cache/sidecar spans
	// ========================================================================
	SpanContentResolve = "content.resolve"
	SpanCacheLookup    = "cache.lookup"
	SpanCacheWrite     = "cache.write"
	SpanSidecarWrite   = "sidecar.write"
	SpanSidecarRead    = "sidecar.read"
)

// DeviceID returns an attribute for the local device id.
func DeviceID(id string) attribute.KeyValue {
	return attribute.String(AttrDeviceID, id)
}

// PeerDevice returns an attribute for a remote peer's device id.
func PeerDevice(id string) attribute.KeyValue {
	return attribute.String(AttrPeerDevice, id)
}

// TrustLevel returns an attribute for a paired device's trust level.
func TrustLevel(level string) attribute.KeyValue {
	return attribute.String(AttrTrustLevel, level)
}

// LocationID returns an attribute for a catalog Location id.
func LocationID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrLocationID, int64(id))
}

// EntryID returns an attribute for a catalog Entry id.
func EntryID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrEntryID, int64(id))
}

// EntryPath returns an attribute for an entry's filesystem path.
func EntryPath(path string) attribute.KeyValue {
	return attribute.String(AttrEntryPath, path)
}

// IndexPhase returns an attribute for the indexer's current phase.
func IndexPhase(phase string) attribute.KeyValue {
	return attribute.String(AttrIndexPhase, phase)
}

// IndexMode returns an attribute for a location's index mode.
func IndexMode(mode string) attribute.KeyValue {
	return attribute.String(AttrIndexMode, mode)
}

// ContentID returns an attribute for a content-addressed identity.
func ContentID(id string) attribute.KeyValue {
	return attribute.String(AttrContentID, id)
}

// StoreName returns an attribute for a backing store's name.
func StoreName(name string) attribute.KeyValue {
	return attribute.String(AttrStoreName, name)
}

// StoreType returns an attribute for a backing store's type.
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// CacheHit returns an attribute for a shadow-cache hit indicator.
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// CacheState returns an attribute for cache entry state.
func CacheState(state string) attribute.KeyValue {
	return attribute.String(AttrCacheState, state)
}

// TransferID returns an attribute for a chunked transfer's id.
func TransferID(id string) attribute.KeyValue {
	return attribute.String(AttrTransferID, id)
}

// ChunkIndex returns an attribute for a transfer chunk's index.
func ChunkIndex(idx int) attribute.KeyValue {
	return attribute.Int(AttrChunkIndex, idx)
}

// ChunkCount returns an attribute for a transfer's total chunk count.
func ChunkCount(count int) attribute.KeyValue {
	return attribute.Int(AttrChunkCount, count)
}

// BytesSent returns an attribute for bytes sent in a transfer.
func BytesSent(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrBytesSent, int64(n))
}

// BytesReceived returns an attribute for bytes received in a transfer.
func BytesReceived(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrBytesReceived, int64(n))
}

// SidecarKind returns an attribute for a sidecar artifact's kind.
func SidecarKind(kind string) attribute.KeyValue {
	return attribute.String(AttrSidecarKind, kind)
}

// VolumeID returns an attribute for a mounted volume's id.
func VolumeID(id string) attribute.KeyValue {
	return attribute.String(AttrVolumeID, id)
}

// Bucket returns an attribute for an S3 bucket name.
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for an S3 object key.
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for a cloud region.
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartIndexSpan starts a span for one indexer phase step.
func StartIndexSpan(ctx context.Context, phase string, locationID uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{IndexPhase(phase), LocationID(locationID)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, "indexer."+phase, trace.WithAttributes(allAttrs...))
}

// StartTransferSpan starts a span for one chunk of a file transfer.
func StartTransferSpan(ctx context.Context, transferID string, chunkIndex int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{TransferID(transferID), ChunkIndex(chunkIndex)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, SpanTransferChunk, trace.WithAttributes(allAttrs...))
}

// StartConnectionSpan starts a span for a pairing or connection handshake
// step with a remote peer device.
func StartConnectionSpan(ctx context.Context, name, peerDeviceID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{PeerDevice(peerDeviceID)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartContentSpan starts a span for a content store operation.
func StartContentSpan(ctx context.Context, operation string, contentID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{ContentID(contentID)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, "content."+operation, trace.WithAttributes(allAttrs...))
}

// StartCacheSpan starts a span for a shadow-cache operation.
func StartCacheSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "cache."+operation, trace.WithAttributes(attrs...))
}

// StartSidecarSpan starts a span for a sidecar artifact read/write.
func StartSidecarSpan(ctx context.Context, operation, kind string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{SidecarKind(kind)}
	allAttrs = append(allAttrs, attrs...)
	return StartSpan(ctx, "sidecar."+operation, trace.WithAttributes(allAttrs...))
}
