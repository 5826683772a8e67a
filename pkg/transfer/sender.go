package transfer

import (
	"context"
	"crypto/sha256"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/shelffs/shelf/internal/telemetry"
	"github.com/shelffs/shelf/pkg/crypto"
	"github.com/shelffs/shelf/pkg/shelferr"
	"github.com/shelffs/shelf/pkg/wire"
)

// SendRequest describes one file to push to a paired device.
type SendRequest struct {
	TransferID      string
	Meta            wire.FileMetadata
	Mode            wire.TransferMode
	Ephemeral       wire.EphemeralShareParams
	DestinationPath string
	Data            io.ReaderAt
	Size            int64
	ChunkSize       uint32
}

// Sender drives the sender side of one transfer. It is not safe for
// concurrent use across multiple calls to Send on the same conn, since the
// protocol is a strict request/response sequence on that stream.
type Sender struct {
	keys *crypto.SessionKeys
}

func NewSender(keys *crypto.SessionKeys) *Sender {
	return &Sender{keys: keys}
}

// Send runs the full sender-side sequence from §4.G over conn: request,
// wait for accept, stream chunks stop-and-wait per chunk (the spec defines
// correctness properties — sequence integrity, resend-on-recoverable-error
// — but no throughput invariant, so pipelining multiple chunks in flight
// was not worth the added bookkeeping here), then complete and wait for
// the final ack.
func (s *Sender) Send(ctx context.Context, conn io.ReadWriter, req SendRequest) (Result, error) {
	result := Result{TransferID: req.TransferID, State: StatePending, StartedAt: time.Now()}

	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	totalChunks := computeTotalChunks(req.Size, chunkSize)

	request := wire.TransferRequest{
		TransferID:      req.TransferID,
		FileMetadata:    req.Meta,
		Mode:            req.Mode,
		EphemeralShare:  req.Ephemeral,
		ChunkSize:       chunkSize,
		TotalChunks:     totalChunks,
		DestinationPath: req.DestinationPath,
	}
	if err := writeSealed(conn, s.keys.SendKey, wire.TypeTransferRequest, request); err != nil {
		return result, err
	}

	var resp wire.TransferResponse
	if err := readExpected(conn, s.keys.ReceiveKey, wire.TypeTransferResponse, &resp); err != nil {
		return result, err
	}
	if !resp.Accepted {
		result.State = StateCancelled
		result.Reason = resp.Reason
		return result, shelferr.Invalidf("transfer %s rejected: %s", req.TransferID, resp.Reason)
	}

	result.State = StateActive
	buf := make([]byte, chunkSize)

	for chunkIndex := uint32(0); chunkIndex < totalChunks; {
		select {
		case <-ctx.Done():
			result.State = StateFailed
			return result, ctx.Err()
		default:
		}

		next, err := sendChunk(ctx, conn, s.keys, req, buf, chunkIndex, chunkSize, req.Size, &result)
		if err != nil {
			return result, err
		}
		chunkIndex = next
	}

	finalChecksum, err := hashReaderAt(req.Data, req.Size)
	if err != nil {
		result.State = StateFailed
		return result, shelferr.Wrap(shelferr.Fatal, "hash file for completion", err)
	}
	complete := wire.TransferComplete{
		TransferID:    req.TransferID,
		FinalChecksum: finalChecksum,
		TotalBytes:    uint64(req.Size),
	}
	if err := writeSealed(conn, s.keys.SendKey, wire.TypeTransferComplete, complete); err != nil {
		result.State = StateFailed
		return result, err
	}

	t, plain, err := readAny(conn, s.keys.ReceiveKey)
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	if t == wire.TypeTransferError {
		var terr wire.TransferError
		_ = wire.Decode(wire.Frame{Type: t, Payload: plain}, &terr)
		result.State = StateFailed
		result.Reason = terr.Message
		return result, shelferr.Integrityf("transfer %s failed final verification: %s", req.TransferID, terr.Message)
	}
	if t != wire.TypeTransferFinalAck {
		result.State = StateFailed
		return result, shelferr.Invalidf("expected final ack, got %s", t)
	}

	result.State = StateCompleted
	result.FinishedAt = time.Now()
	return result, nil
}

// sendChunk encrypts and sends one chunk under its own transfer span, then
// waits for the receiver's ack. It returns the next chunk index to send: the
// receiver's next_expected on a ChunkAck, or the same index again on a
// recoverable TransferError so the caller resends it.
func sendChunk(ctx context.Context, conn io.ReadWriter, keys *crypto.SessionKeys, req SendRequest, buf []byte, chunkIndex, chunkSize uint32, size int64, result *Result) (uint32, error) {
	spanCtx, span := telemetry.StartTransferSpan(ctx, req.TransferID, int(chunkIndex))
	defer span.End()

	plaintext, err := readChunkAt(req.Data, buf, chunkIndex, chunkSize, size)
	if err != nil {
		result.State = StateFailed
		telemetry.RecordError(spanCtx, err)
		return 0, shelferr.Wrap(shelferr.Fatal, "read chunk for send", err)
	}

	chunkKey, err := crypto.ChunkKey(keys.SendKey, req.TransferID, chunkIndex)
	if err != nil {
		result.State = StateFailed
		telemetry.RecordError(spanCtx, err)
		return 0, shelferr.Wrap(shelferr.Fatal, "derive chunk key", err)
	}
	ciphertext, nonce, err := crypto.SealChunk(chunkKey, plaintext, chunkAAD(req.TransferID, chunkIndex))
	if err != nil {
		result.State = StateFailed
		telemetry.RecordError(spanCtx, err)
		return 0, shelferr.Wrap(shelferr.Fatal, "seal chunk", err)
	}

	chunk := wire.FileChunk{
		TransferID:    req.TransferID,
		ChunkIndex:    chunkIndex,
		Data:          ciphertext,
		Nonce:         nonce,
		ChunkChecksum: crypto.ContentHash(plaintext),
	}
	if err := writeSealed(conn, keys.SendKey, wire.TypeFileChunk, chunk); err != nil {
		result.State = StateFailed
		telemetry.RecordError(spanCtx, err)
		return 0, err
	}
	result.BytesSent += uint64(len(plaintext))
	span.SetAttributes(telemetry.BytesSent(uint64(len(plaintext))))

	t, plain, err := readAny(conn, keys.ReceiveKey)
	if err != nil {
		result.State = StateFailed
		telemetry.RecordError(spanCtx, err)
		return 0, err
	}
	switch t {
	case wire.TypeChunkAck:
		var ack wire.ChunkAck
		if err := wire.Decode(wire.Frame{Type: t, Payload: plain}, &ack); err != nil {
			result.State = StateFailed
			telemetry.RecordError(spanCtx, err)
			return 0, shelferr.Wrap(shelferr.Input, "decode chunk ack", err)
		}
		// next_expected may equal chunkIndex again if the receiver is
		// still stalled on an earlier gap; advancing to it is always
		// safe since it can never exceed chunkIndex+1 in a stop-and-wait
		// exchange over a reliable stream.
		return ack.NextExpected, nil
	case wire.TypeTransferError:
		var terr wire.TransferError
		if err := wire.Decode(wire.Frame{Type: t, Payload: plain}, &terr); err != nil {
			result.State = StateFailed
			telemetry.RecordError(spanCtx, err)
			return 0, shelferr.Wrap(shelferr.Input, "decode transfer error", err)
		}
		if !terr.Recoverable {
			result.State = StateFailed
			result.Reason = terr.Message
			finalErr := shelferr.Integrityf("transfer %s: %s", req.TransferID, terr.Message)
			telemetry.RecordError(spanCtx, finalErr)
			return 0, finalErr
		}
		// Recoverable: resend the same chunk, the receiver's ack for it
		// never arrived.
		return chunkIndex, nil
	default:
		result.State = StateFailed
		return 0, shelferr.Invalidf("unexpected frame type %s while sending chunks", t)
	}
}

// FilePlan is one file within a directory transfer plan.
type FilePlan struct {
	RelativePath string
	AbsolutePath string
	Size         int64
	ModTime      time.Time
}

// PlanDirectory flattens a directory into an ordered list of file
// transfers with destination paths relative to root (§4.G: "a directory is
// enumerated by the sender into a flat list of file transfers with
// relative destination paths; the ordering is lexicographic and is not a
// correctness requirement, only a UX one").
func PlanDirectory(root string) ([]FilePlan, error) {
	var plans []FilePlan
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		plans = append(plans, FilePlan{
			RelativePath: filepath.ToSlash(rel),
			AbsolutePath: path,
			Size:         info.Size(),
			ModTime:      info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, shelferr.Wrap(shelferr.Fatal, "plan directory transfer", err)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].RelativePath < plans[j].RelativePath })
	return plans, nil
}

func readChunkAt(data io.ReaderAt, buf []byte, index uint32, chunkSize uint32, size int64) ([]byte, error) {
	offset := int64(index) * int64(chunkSize)
	want := int64(chunkSize)
	if remaining := size - offset; remaining < want {
		want = remaining
	}
	if want <= 0 {
		return nil, shelferr.Invalidf("chunk index %d out of range for size %d", index, size)
	}
	n, err := data.ReadAt(buf[:want], offset)
	if err != nil && !(err == io.EOF && int64(n) == want) {
		return nil, err
	}
	return buf[:n], nil
}

func hashReaderAt(data io.ReaderAt, size int64) ([32]byte, error) {
	h := sha256.New()
	buf := make([]byte, 64*1024)
	var offset int64
	for offset < size {
		want := int64(len(buf))
		if remaining := size - offset; remaining < want {
			want = remaining
		}
		n, err := data.ReadAt(buf[:want], offset)
		if err != nil && !(err == io.EOF && int64(n) == want) {
			return [32]byte{}, err
		}
		h.Write(buf[:n])
		offset += int64(n)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
