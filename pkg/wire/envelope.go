// Package wire defines the on-the-stream framing and message catalog shared
// by the pairing (§4.E), connection (§4.F), and transfer (§4.G) protocols.
//
// Framing is `u8 type || u32 length || bytes`: a one-byte message type tag,
// a big-endian length prefix, and a JSON-encoded, field-named payload. JSON
// was chosen over MessagePack because every message type here is small and
// infrequent (protocol control messages, not chunk payloads) and because it
// keeps the wire self-describing without a schema registry, per §6 ("all
// party-to-party encodings carry field names").
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Type tags the payload carried by a Frame. Values are stable across
// releases; never renumber an existing tag.
type Type uint8

const (
	TypeUnknown Type = iota

	// Pairing (§4.E)
	TypePairingRequest
	TypeChallenge
	TypeResponse
	TypeChallengeConfirmation
	TypePairingComplete

	// Connection (§4.F)
	TypeKeepalive
	TypeKeepaliveResponse
	TypeRequest
	TypeReply

	// Transfer (§4.G)
	TypeTransferRequest
	TypeTransferResponse
	TypeFileChunk
	TypeChunkAck
	TypeTransferComplete
	TypeTransferFinalAck
	TypeTransferError
)

func (t Type) String() string {
	switch t {
	case TypePairingRequest:
		return "pairing_request"
	case TypeChallenge:
		return "challenge"
	case TypeResponse:
		return "response"
	case TypeChallengeConfirmation:
		return "challenge_confirmation"
	case TypePairingComplete:
		return "pairing_complete"
	case TypeKeepalive:
		return "keepalive"
	case TypeKeepaliveResponse:
		return "keepalive_response"
	case TypeRequest:
		return "request"
	case TypeReply:
		return "reply"
	case TypeTransferRequest:
		return "transfer_request"
	case TypeTransferResponse:
		return "transfer_response"
	case TypeFileChunk:
		return "file_chunk"
	case TypeChunkAck:
		return "chunk_ack"
	case TypeTransferComplete:
		return "transfer_complete"
	case TypeTransferFinalAck:
		return "transfer_final_ack"
	case TypeTransferError:
		return "transfer_error"
	default:
		return "unknown"
	}
}

// MaxFrameLength bounds a single frame's payload to guard against a
// corrupted or hostile length prefix causing an unbounded allocation.
const MaxFrameLength = 64 << 20 // 64MiB, comfortably above the largest chunk_size

// Frame is one length-prefixed record on the wire: a type tag plus its raw
// JSON payload bytes (still encoded; callers decode into the concrete
// message type that Type names).
type Frame struct {
	Type    Type
	Payload []byte
}

// Encode marshals v as JSON and wraps it in a Frame with the given type.
func Encode(t Type, v any) (Frame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Frame{Type: t, Payload: payload}, nil
}

// Decode unmarshals f's payload into v. Callers dispatch on f.Type first.
func Decode(f Frame, v any) error {
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return nil
}

// WriteFrame writes f to w as `u8 type || u32 length || bytes`.
func WriteFrame(w io.Writer, f Frame) error {
	header := make([]byte, 5)
	header[0] = byte(f.Type)
	binary.BigEndian.PutUint32(header[1:], uint32(len(f.Payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(f.Payload) == 0 {
		return nil
	}
	if _, err := w.Write(f.Payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r, rejecting a length prefix beyond
// MaxFrameLength.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[1:])
	if length > MaxFrameLength {
		return Frame{}, fmt.Errorf("frame length %d exceeds max %d", length, MaxFrameLength)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("read frame payload: %w", err)
		}
	}

	return Frame{Type: Type(header[0]), Payload: payload}, nil
}
