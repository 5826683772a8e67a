package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "shelfd", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// Should be able to call shutdown without error
	err = shutdown(ctx)
	assert.NoError(t, err)

	// Should not be enabled
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	// Reset state
	tracer = nil
	enabled = false

	// Without initialization, should return no-op tracer
	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// Even without initialization, StartSpan should work (no-op)
	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	// Should be able to end the span
	span.End()
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()

	// Should return a span even without active span
	span := SpanFromContext(ctx)
	require.NotNil(t, span)
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()

	// Should not panic with no active span
	require.NotPanics(t, func() {
		AddEvent(ctx, "test.event")
	})
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()

	// Should not panic with nil error
	require.NotPanics(t, func() {
		RecordError(ctx, nil)
	})

	// Should not panic with error
	require.NotPanics(t, func() {
		RecordError(ctx, errors.New("test error"))
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Ok, "success")
	})

	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Error, "failed")
	})
}

func TestSetAttributes(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetAttributes(ctx, DeviceID("device-a"))
	})
}

func TestTraceID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	traceID := TraceID(ctx)
	assert.Equal(t, "", traceID)
}

func TestSpanID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	spanID := SpanID(ctx)
	assert.Equal(t, "", spanID)
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("DeviceID", func(t *testing.T) {
		attr := DeviceID("device-a")
		assert.Equal(t, AttrDeviceID, string(attr.Key))
		assert.Equal(t, "device-a", attr.Value.AsString())
	})

	t.Run("PeerDevice", func(t *testing.T) {
		attr := PeerDevice("device-b")
		assert.Equal(t, AttrPeerDevice, string(attr.Key))
		assert.Equal(t, "device-b", attr.Value.AsString())
	})

	t.Run("LocationID", func(t *testing.T) {
		attr := LocationID(0x12345678)
		assert.Equal(t, AttrLocationID, string(attr.Key))
		assert.Equal(t, int64(0x12345678), attr.Value.AsInt64())
	})

	t.Run("IndexPhase", func(t *testing.T) {
		attr := IndexPhase("discovery")
		assert.Equal(t, AttrIndexPhase, string(attr.Key))
		assert.Equal(t, "discovery", attr.Value.AsString())
	})

	t.Run("TrustLevel", func(t *testing.T) {
		attr := TrustLevel("trusted")
		assert.Equal(t, AttrTrustLevel, string(attr.Key))
		assert.Equal(t, "trusted", attr.Value.AsString())
	})

	t.Run("IndexMode", func(t *testing.T) {
		attr := IndexMode("deep")
		assert.Equal(t, AttrIndexMode, string(attr.Key))
		assert.Equal(t, "deep", attr.Value.AsString())
	})

	t.Run("EntryPath", func(t *testing.T) {
		attr := EntryPath("/export/photos")
		assert.Equal(t, AttrEntryPath, string(attr.Key))
		assert.Equal(t, "/export/photos", attr.Value.AsString())
	})

	t.Run("ChunkIndex", func(t *testing.T) {
		attr := ChunkIndex(1024)
		assert.Equal(t, AttrChunkIndex, string(attr.Key))
		assert.Equal(t, int64(1024), attr.Value.AsInt64())
	})

	t.Run("ChunkCount", func(t *testing.T) {
		attr := ChunkCount(4096)
		assert.Equal(t, AttrChunkCount, string(attr.Key))
		assert.Equal(t, int64(4096), attr.Value.AsInt64())
	})

	t.Run("BytesSent", func(t *testing.T) {
		attr := BytesSent(1048576)
		assert.Equal(t, AttrBytesSent, string(attr.Key))
		assert.Equal(t, int64(1048576), attr.Value.AsInt64())
	})

	t.Run("EntryID", func(t *testing.T) {
		attr := EntryID(0)
		assert.Equal(t, AttrEntryID, string(attr.Key))
		assert.Equal(t, int64(0), attr.Value.AsInt64())
	})

	t.Run("TransferID", func(t *testing.T) {
		attr := TransferID("transfer-1")
		assert.Equal(t, AttrTransferID, string(attr.Key))
		assert.Equal(t, "transfer-1", attr.Value.AsString())
	})

	t.Run("BytesReceived", func(t *testing.T) {
		attr := BytesReceived(1000)
		assert.Equal(t, AttrBytesReceived, string(attr.Key))
		assert.Equal(t, int64(1000), attr.Value.AsInt64())
	})

	t.Run("VolumeID", func(t *testing.T) {
		attr := VolumeID("volume-1")
		assert.Equal(t, AttrVolumeID, string(attr.Key))
		assert.Equal(t, "volume-1", attr.Value.AsString())
	})

	t.Run("CacheHit", func(t *testing.T) {
		attr := CacheHit(true)
		assert.Equal(t, AttrCacheHit, string(attr.Key))
		assert.True(t, attr.Value.AsBool())
	})

	t.Run("CacheState", func(t *testing.T) {
		attr := CacheState("dirty")
		assert.Equal(t, AttrCacheState, string(attr.Key))
		assert.Equal(t, "dirty", attr.Value.AsString())
	})

	t.Run("ContentID", func(t *testing.T) {
		attr := ContentID("abc123")
		assert.Equal(t, AttrContentID, string(attr.Key))
		assert.Equal(t, "abc123", attr.Value.AsString())
	})

	t.Run("Bucket", func(t *testing.T) {
		attr := Bucket("my-bucket")
		assert.Equal(t, AttrBucket, string(attr.Key))
		assert.Equal(t, "my-bucket", attr.Value.AsString())
	})

	t.Run("StorageKey", func(t *testing.T) {
		attr := StorageKey("path/to/object")
		assert.Equal(t, AttrKey, string(attr.Key))
		assert.Equal(t, "path/to/object", attr.Value.AsString())
	})
}

func TestStartIndexSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartIndexSpan(ctx, "discovery", 1)
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// With zero location id
	newCtx2, span2 := StartIndexSpan(ctx, "processing", 0)
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()

	// With additional attributes
	newCtx3, span3 := StartIndexSpan(ctx, "content_identification", 1, EntryID(0), ChunkCount(4096))
	require.NotNil(t, newCtx3)
	require.NotNil(t, span3)
	span3.End()
}

func TestStartContentSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartContentSpan(ctx, "read", "content-123")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// With additional attributes
	newCtx2, span2 := StartContentSpan(ctx, "write", "content-456", StoreName("badger"), BytesSent(1024))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartCacheSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartCacheSpan(ctx, "lookup")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// With additional attributes
	newCtx2, span2 := StartCacheSpan(ctx, "write", CacheHit(false))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}
