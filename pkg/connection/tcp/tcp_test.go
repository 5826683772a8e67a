package tcp

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticAddressBookSetForget(t *testing.T) {
	book := NewStaticAddressBook()
	_, ok := book.Address("device-a")
	assert.False(t, ok)

	book.Set("device-a", "127.0.0.1:9000")
	addr, ok := book.Address("device-a")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:9000", addr)

	book.Forget("device-a")
	_, ok = book.Address("device-a")
	assert.False(t, ok)
}

// rawHandshakeServer accepts one connection, answers the handshake as
// serverID, and echoes whatever it reads afterward -- just enough to prove
// Transport.Dial leaves the connection usable for the caller's own protocol
// once the handshake completes.
func rawHandshakeServer(t *testing.T, serverID string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		if _, err := readHandshake(conn); err != nil {
			return
		}
		if err := writeHandshake(conn, serverID); err != nil {
			return
		}

		io.Copy(conn, conn)
	}()

	return ln.Addr().String()
}

func TestTransportDialHandshakeSucceeds(t *testing.T) {
	addr := rawHandshakeServer(t, "device-b")

	book := NewStaticAddressBook()
	book.Set("device-b", addr)
	transport := New("device-a", book)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx, "device-b")
	require.NoError(t, err)
	defer conn.Close()
}

func TestTransportDialRejectsMismatchedDeviceID(t *testing.T) {
	addr := rawHandshakeServer(t, "device-impostor")

	book := NewStaticAddressBook()
	book.Set("device-b", addr)
	transport := New("device-a", book)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := transport.Dial(ctx, "device-b")
	require.Error(t, err)
}

func TestTransportDialUnknownDeviceFails(t *testing.T) {
	transport := New("device-a", NewStaticAddressBook())
	_, err := transport.Dial(context.Background(), "nowhere")
	require.Error(t, err)
}

type fakeAdopter struct {
	mu      sync.Mutex
	adopted map[string]io.ReadWriteCloser
}

func newFakeAdopter() *fakeAdopter {
	return &fakeAdopter{adopted: make(map[string]io.ReadWriteCloser)}
}

func (a *fakeAdopter) AdoptIncoming(ctx context.Context, deviceID string, rwc io.ReadWriteCloser) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adopted[deviceID] = rwc
	return nil
}

func (a *fakeAdopter) get(deviceID string) (io.ReadWriteCloser, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rwc, ok := a.adopted[deviceID]
	return rwc, ok
}

func TestListenerAdoptsIncomingConnection(t *testing.T) {
	adopter := newFakeAdopter()
	listener := NewListener("127.0.0.1:0", "device-server", adopter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	go func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listener.mu.Lock()
		listener.listener = ln
		listener.mu.Unlock()
		ready <- ln.Addr().String()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go listener.handle(ctx, conn)
		}
	}()
	addr := <-ready
	t.Cleanup(func() { listener.Close() })

	book := NewStaticAddressBook()
	book.Set("device-server", addr)
	clientTransport := New("device-client", book)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	conn, err := clientTransport.Dial(dialCtx, "device-server")
	require.NoError(t, err)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := adopter.get("device-client"); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("listener never adopted the incoming connection")
}

func TestListenerServeAcceptsThroughRealLoop(t *testing.T) {
	adopter := newFakeAdopter()
	listener := NewListener("127.0.0.1:0", "device-server", adopter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- listener.Serve(ctx) }()

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		listener.mu.Lock()
		ln := listener.listener
		listener.mu.Unlock()
		if ln != nil {
			addr = ln.Addr().String()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotEmpty(t, addr, "listener never bound")

	book := NewStaticAddressBook()
	book.Set("device-server", addr)
	clientTransport := New("device-client", book)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	conn, err := clientTransport.Dial(dialCtx, "device-server")
	require.NoError(t, err)
	defer conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := adopter.get("device-client"); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, ok := adopter.get("device-client")
	require.True(t, ok)

	require.NoError(t, listener.Close())
	select {
	case <-serveErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestListenerRejectsBadHandshake(t *testing.T) {
	adopter := newFakeAdopter()
	listener := NewListener("127.0.0.1:0", "device-server", adopter)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	listener.listener = ln
	defer ln.Close()

	ctx := context.Background()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		listener.handle(ctx, conn)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Write garbage instead of a well-formed handshake.
	_, err = conn.Write([]byte{0xff, 0xff})
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, err = reader.ReadByte()
	assert.Error(t, err) // connection should be closed, not answered
}
