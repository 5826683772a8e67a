package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shelffs/shelf/internal/telemetry"
	"github.com/shelffs/shelf/pkg/crypto"
	"github.com/shelffs/shelf/pkg/shelferr"
	"github.com/shelffs/shelf/pkg/wire"
)

// AcceptFunc decides whether an incoming transfer request should proceed.
// TrustedCopy transfers are auto-accepted when AcceptFunc is nil (the
// device is already paired, so §4.G's trust requirement is satisfied by
// the connection itself); EphemeralShare always requires an explicit
// AcceptFunc, since it has no prior pairing relationship to lean on.
type AcceptFunc func(req wire.TransferRequest) (accept bool, reason string)

// ReceiveOptions configures one Receive call.
type ReceiveOptions struct {
	// DestinationRoot is the directory every incoming DestinationPath is
	// joined against. Receive refuses any request whose resolved path
	// escapes this root.
	DestinationRoot string
	Accept          AcceptFunc
	// Shares verifies EphemeralShareParams.ConsentToken when Accept is nil.
	// Required for any TransferModeEphemeralShare request to be accepted
	// without a custom AcceptFunc.
	Shares *ShareRegistry
}

// Receiver drives the receiver side of one transfer.
type Receiver struct {
	keys *crypto.SessionKeys
}

func NewReceiver(keys *crypto.SessionKeys) *Receiver {
	return &Receiver{keys: keys}
}

// Receive runs the full receiver-side sequence from §4.G over conn: accept
// or reject, then (if accepted) write chunks to disk, verify the whole-file
// hash, and ack completion.
func (r *Receiver) Receive(ctx context.Context, conn io.ReadWriter, opts ReceiveOptions) (Result, error) {
	var req wire.TransferRequest
	if err := readExpected(conn, r.keys.ReceiveKey, wire.TypeTransferRequest, &req); err != nil {
		return Result{}, err
	}
	result := Result{TransferID: req.TransferID, State: StatePending, StartedAt: time.Now()}

	destPath, pathErr := resolveDestination(opts.DestinationRoot, req.DestinationPath)

	accepted, reason := r.accept(req, opts, pathErr)
	if err := writeSealed(conn, r.keys.SendKey, wire.TypeTransferResponse, wire.TransferResponse{
		TransferID:      req.TransferID,
		Accepted:        accepted,
		Reason:          reason,
		SupportedResume: false,
	}); err != nil {
		return result, err
	}
	if !accepted {
		result.State = StateCancelled
		result.Reason = reason
		return result, nil
	}
	result.State = StateActive

	if req.FileMetadata.IsDir {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return r.fail(conn, result, req.TransferID, "create directory", err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return r.fail(conn, result, req.TransferID, "create destination directory", err)
		}
		file, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return r.fail(conn, result, req.TransferID, "open destination file", err)
		}
		defer file.Close()

		if err := r.receiveChunks(ctx, conn, req, file); err != nil {
			result.State = StateFailed
			return result, err
		}
	}

	return r.finalize(conn, req, destPath, result)
}

func (r *Receiver) accept(req wire.TransferRequest, opts ReceiveOptions, pathErr error) (bool, string) {
	if pathErr != nil {
		return false, pathErr.Error()
	}
	if opts.Accept != nil {
		return opts.Accept(req)
	}
	if req.Mode == wire.TransferModeEphemeralShare {
		if opts.Shares == nil {
			return false, "ephemeral share requires explicit consent"
		}
		if err := opts.Shares.Verify(req.EphemeralShare.ConsentToken, req.EphemeralShare.Name); err != nil {
			return false, err.Error()
		}
		return true, ""
	}
	return true, ""
}

func (r *Receiver) receiveChunks(ctx context.Context, conn io.ReadWriter, req wire.TransferRequest, file *os.File) error {
	received := make(map[uint32]struct{}, req.TotalChunks)
	nextExpected := uint32(0)

	for nextExpected < req.TotalChunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := r.receiveChunk(ctx, conn, req, file, received, &nextExpected); err != nil {
			return err
		}
	}
	return nil
}

// receiveChunk reads, decrypts, and writes a single chunk under its own
// transfer span, then acks it. A checksum mismatch is reported back to the
// sender as a recoverable TransferError rather than returned as an error,
// since the sender resends that same chunk.
func (r *Receiver) receiveChunk(ctx context.Context, conn io.ReadWriter, req wire.TransferRequest, file *os.File, received map[uint32]struct{}, nextExpected *uint32) error {
	t, plain, err := readAny(conn, r.keys.ReceiveKey)
	if err != nil {
		return err
	}
	if t != wire.TypeFileChunk {
		return shelferr.Invalidf("expected file chunk, got %s", t)
	}
	var chunk wire.FileChunk
	if err := wire.Decode(wire.Frame{Type: t, Payload: plain}, &chunk); err != nil {
		return shelferr.Wrap(shelferr.Input, "decode file chunk", err)
	}

	spanCtx, span := telemetry.StartTransferSpan(ctx, req.TransferID, int(chunk.ChunkIndex))
	defer span.End()

	// The per-chunk key is derived from whichever side called it the
	// "send key" at pairing time; the receiver's ReceiveKey is that same
	// key by the DeriveSessionKeys swap convention, so chunk keys agree
	// on both ends without a separate exchange.
	chunkKey, err := crypto.ChunkKey(r.keys.ReceiveKey, req.TransferID, chunk.ChunkIndex)
	if err != nil {
		telemetry.RecordError(spanCtx, err)
		return shelferr.Wrap(shelferr.Fatal, "derive chunk key", err)
	}
	plaintext, err := crypto.OpenChunk(chunkKey, chunk.Nonce, chunk.Data, chunkAAD(req.TransferID, chunk.ChunkIndex))
	if err != nil || crypto.ContentHash(plaintext) != chunk.ChunkChecksum {
		span.AddEvent("checksum mismatch")
		if werr := writeSealed(conn, r.keys.SendKey, wire.TypeTransferError, wire.TransferError{
			TransferID:  req.TransferID,
			Kind:        wire.TransferErrorChecksumMismatch,
			Recoverable: true,
			Message:     "chunk checksum mismatch",
		}); werr != nil {
			telemetry.RecordError(spanCtx, werr)
			return werr
		}
		return nil
	}

	offset := int64(chunk.ChunkIndex) * int64(req.ChunkSize)
	if _, err := file.WriteAt(plaintext, offset); err != nil {
		telemetry.RecordError(spanCtx, err)
		return shelferr.Wrap(shelferr.Fatal, "write chunk to disk", err)
	}
	span.SetAttributes(telemetry.BytesReceived(uint64(len(plaintext))))
	received[chunk.ChunkIndex] = struct{}{}
	for {
		if _, ok := received[*nextExpected]; !ok {
			break
		}
		*nextExpected++
	}

	if err := writeSealed(conn, r.keys.SendKey, wire.TypeChunkAck, wire.ChunkAck{
		TransferID:   req.TransferID,
		ChunkIndex:   chunk.ChunkIndex,
		NextExpected: *nextExpected,
	}); err != nil {
		telemetry.RecordError(spanCtx, err)
		return err
	}
	return nil
}

func (r *Receiver) finalize(conn io.ReadWriter, req wire.TransferRequest, destPath string, result Result) (Result, error) {
	t, plain, err := readAny(conn, r.keys.ReceiveKey)
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	if t != wire.TypeTransferComplete {
		result.State = StateFailed
		return result, shelferr.Invalidf("expected transfer complete, got %s", t)
	}
	var complete wire.TransferComplete
	if err := wire.Decode(wire.Frame{Type: t, Payload: plain}, &complete); err != nil {
		result.State = StateFailed
		return result, shelferr.Wrap(shelferr.Input, "decode transfer complete", err)
	}

	if !req.FileMetadata.IsDir && complete.TotalBytes > 0 {
		file, err := os.Open(destPath)
		if err != nil {
			return r.fail(conn, result, req.TransferID, "reopen file for verification", err)
		}
		defer file.Close()
		info, err := file.Stat()
		if err != nil {
			return r.fail(conn, result, req.TransferID, "stat file for verification", err)
		}
		actual, err := hashReaderAt(file, info.Size())
		if err != nil {
			return r.fail(conn, result, req.TransferID, "hash file for verification", err)
		}
		if actual != complete.FinalChecksum {
			_ = writeSealed(conn, r.keys.SendKey, wire.TypeTransferError, wire.TransferError{
				TransferID:  req.TransferID,
				Kind:        wire.TransferErrorChecksumMismatch,
				Recoverable: false,
				Message:     "final file checksum mismatch",
			})
			result.State = StateFailed
			result.Reason = "final checksum mismatch"
			return result, shelferr.Integrityf("transfer %s: final checksum mismatch", req.TransferID)
		}
	}

	if err := writeSealed(conn, r.keys.SendKey, wire.TypeTransferFinalAck, wire.TransferFinalAck{TransferID: req.TransferID}); err != nil {
		result.State = StateFailed
		return result, err
	}
	result.State = StateCompleted
	result.BytesSent = complete.TotalBytes
	result.FinishedAt = time.Now()
	return result, nil
}

func (r *Receiver) fail(conn io.ReadWriter, result Result, transferID, step string, cause error) (Result, error) {
	_ = writeSealed(conn, r.keys.SendKey, wire.TypeTransferError, wire.TransferError{
		TransferID:  transferID,
		Kind:        wire.TransferErrorIO,
		Recoverable: false,
		Message:     step,
	})
	result.State = StateFailed
	result.Reason = step
	return result, shelferr.Wrap(shelferr.Fatal, step, cause)
}

// resolveDestination joins relative against root and rejects any result
// that escapes root (path traversal via "../" segments).
func resolveDestination(root, relative string) (string, error) {
	joined := filepath.Join(root, relative)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", shelferr.Invalidf("destination path %q escapes transfer root", relative)
	}
	return joined, nil
}
