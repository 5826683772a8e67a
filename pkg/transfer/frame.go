package transfer

import (
	"io"

	"github.com/shelffs/shelf/pkg/crypto"
	"github.com/shelffs/shelf/pkg/shelferr"
	"github.com/shelffs/shelf/pkg/wire"
)

// writeSealed serializes payload, seals it under key with the wire type's
// string form as associated data (matching pkg/connection's framing), and
// writes the resulting frame to w.
func writeSealed(w io.Writer, key [crypto.KeySize]byte, t wire.Type, payload any) error {
	f, err := wire.Encode(t, payload)
	if err != nil {
		return shelferr.Wrap(shelferr.Input, "encode frame", err)
	}
	sealed, err := crypto.Seal(key, f.Payload, []byte(t.String()))
	if err != nil {
		return shelferr.Wrap(shelferr.Fatal, "seal frame", err)
	}
	return wire.WriteFrame(w, wire.Frame{Type: t, Payload: sealed})
}

// readAny reads one frame from r and opens it under key, returning its type
// and plaintext bytes for the caller to decode and switch on.
func readAny(r io.Reader, key [crypto.KeySize]byte) (wire.Type, []byte, error) {
	f, err := wire.ReadFrame(r)
	if err != nil {
		return wire.TypeUnknown, nil, shelferr.Wrap(shelferr.Transient, "read frame", err)
	}
	plain, err := crypto.Open(key, f.Payload, []byte(f.Type.String()))
	if err != nil {
		return wire.TypeUnknown, nil, shelferr.Wrap(shelferr.Integrity, "open frame", err)
	}
	return f.Type, plain, nil
}

// readExpected reads one frame and requires it to be of type want.
func readExpected(r io.Reader, key [crypto.KeySize]byte, want wire.Type, out any) error {
	t, plain, err := readAny(r, key)
	if err != nil {
		return err
	}
	if t != want {
		return shelferr.Invalidf("expected frame type %s, got %s", want, t)
	}
	return wire.Decode(wire.Frame{Type: t, Payload: plain}, out)
}
