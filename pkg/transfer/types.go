// Package transfer implements the chunked, per-chunk-encrypted file
// transfer protocol described in §4.G: a sender streams a file to a
// receiver over an already-established connection, each chunk individually
// AEAD-sealed under a key derived from the session's send key, with
// checksum verification and a final whole-file hash before either side
// considers the transfer done.
package transfer

import (
	"fmt"
	"time"
)

// State is the per-side transfer state machine (§4.G: "Pending → Active →
// Completed | Failed(reason) | Cancelled. Receiver creates its session upon
// accepting.").
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// DefaultChunkSize is the chunk size a transfer uses when
// SendRequest.ChunkSize is zero.
const DefaultChunkSize = 4 << 20 // 4 MiB

// Result summarizes a finished (or aborted) transfer.
type Result struct {
	TransferID string
	State      State
	Reason     string
	BytesSent  uint64
	StartedAt  time.Time
	FinishedAt time.Time
}

// computeTotalChunks returns how many chunks a file of size bytes splits
// into under chunkSize, per §4.G's `total_chunks` field. An empty file is
// zero chunks: it has nothing to stream, only the request/response and
// complete/final-ack control messages.
func computeTotalChunks(size int64, chunkSize uint32) uint32 {
	if size <= 0 {
		return 0
	}
	total := size / int64(chunkSize)
	if size%int64(chunkSize) != 0 {
		total++
	}
	return uint32(total)
}

// chunkAAD is the associated data bound to every per-chunk AEAD seal, so a
// chunk ciphertext from one transfer can never be replayed into another.
func chunkAAD(transferID string, chunkIndex uint32) []byte {
	return []byte(fmt.Sprintf("chunk-%s-%d", transferID, chunkIndex))
}
