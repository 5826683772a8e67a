package transfer

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shelffs/shelf/pkg/wire"
)

func TestShareRegistryGrantVerifyRoundTrip(t *testing.T) {
	reg := NewShareRegistry()

	token, err := reg.Grant("photo.raw", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, reg.Verify(token, "photo.raw"))
}

func TestShareRegistryVerifyRejectsWrongFile(t *testing.T) {
	reg := NewShareRegistry()

	token, err := reg.Grant("photo.raw", time.Minute)
	require.NoError(t, err)

	err = reg.Verify(token, "other.raw")
	require.Error(t, err)
}

func TestShareRegistryVerifyRejectsExpiredToken(t *testing.T) {
	reg := NewShareRegistry()

	token, err := reg.Grant("photo.raw", -time.Minute)
	require.NoError(t, err)

	err = reg.Verify(token, "photo.raw")
	require.Error(t, err)
}

func TestShareRegistryVerifyRejectsAfterRevoke(t *testing.T) {
	reg := NewShareRegistry()

	token, err := reg.Grant("photo.raw", time.Minute)
	require.NoError(t, err)
	reg.Revoke(token)

	err = reg.Verify(token, "photo.raw")
	require.Error(t, err)
}

func TestShareRegistryVerifyRejectsUnknownToken(t *testing.T) {
	reg := NewShareRegistry()
	other := NewShareRegistry()

	token, err := other.Grant("photo.raw", time.Minute)
	require.NoError(t, err)

	err = reg.Verify(token, "photo.raw")
	require.Error(t, err)
}

func TestReceiveAcceptsEphemeralShareWithValidConsentToken(t *testing.T) {
	reg := NewShareRegistry()
	token, err := reg.Grant("note.txt", time.Minute)
	require.NoError(t, err)

	senderKeys, receiverKeys := pairedKeys(t)
	connSender, connReceiver := net.Pipe()

	content := []byte("small ephemeral payload")
	dir := t.TempDir()
	sendReq := SendRequest{
		TransferID:      "transfer-3",
		Meta:            wire.FileMetadata{Name: "note.txt", Size: uint64(len(content))},
		Mode:            wire.TransferModeEphemeralShare,
		Ephemeral:       wire.EphemeralShareParams{ConsentToken: token, Name: "note.txt"},
		DestinationPath: "note.txt",
		Data:            bytes.NewReader(content),
		Size:            int64(len(content)),
		ChunkSize:       4096,
	}

	sendErr := make(chan error, 1)
	go func() {
		sender := NewSender(&senderKeys)
		_, err := sender.Send(context.Background(), connSender, sendReq)
		sendErr <- err
	}()

	receiver := NewReceiver(&receiverKeys)
	result, err := receiver.Receive(context.Background(), connReceiver, ReceiveOptions{DestinationRoot: dir, Shares: reg})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, result.State)
	require.NoError(t, <-sendErr)
}
