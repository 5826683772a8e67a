// Package tcp implements connection.Transport over plain TCP: it resolves a
// paired device id to a network address, dials it, and exchanges a short
// handshake so each side can confirm which device it just connected to
// before handing the raw socket back to the connection manager.
package tcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/shelffs/shelf/internal/logger"
)

const (
	handshakeTimeout  = 5 * time.Second
	maxDeviceIDLength = 256
)

// AddressBook resolves a paired device id to a dialable "host:port".
// Devices normally learn each other's address during pairing (§4.F) or from
// operator-supplied static configuration; Transport only consumes the
// mapping, it does not populate it.
type AddressBook interface {
	Address(deviceID string) (string, bool)
}

// StaticAddressBook is an AddressBook backed by an in-memory map, suitable
// for fixed deployments or tests.
type StaticAddressBook struct {
	mu        sync.RWMutex
	addresses map[string]string
}

// NewStaticAddressBook builds an empty StaticAddressBook.
func NewStaticAddressBook() *StaticAddressBook {
	return &StaticAddressBook{addresses: make(map[string]string)}
}

// Set records the dial address for a device id, overwriting any prior entry.
func (b *StaticAddressBook) Set(deviceID, addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addresses[deviceID] = addr
}

// Forget removes a device id's address, e.g. once it has been revoked.
func (b *StaticAddressBook) Forget(deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.addresses, deviceID)
}

// Address implements AddressBook.
func (b *StaticAddressBook) Address(deviceID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	addr, ok := b.addresses[deviceID]
	return addr, ok
}

// Transport dials paired devices over TCP. It satisfies connection.Transport.
type Transport struct {
	localDeviceID string
	addresses     AddressBook
	dialer        net.Dialer
}

// New builds a Transport that identifies itself as localDeviceID during the
// handshake and resolves peers through addresses.
func New(localDeviceID string, addresses AddressBook) *Transport {
	return &Transport{localDeviceID: localDeviceID, addresses: addresses}
}

// Dial opens a TCP connection to deviceID's known address and exchanges
// device ids so both ends can confirm they reached who they expected.
func (t *Transport) Dial(ctx context.Context, deviceID string) (io.ReadWriteCloser, error) {
	addr, ok := t.addresses.Address(deviceID)
	if !ok {
		return nil, fmt.Errorf("no known address for device %s", deviceID)
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s (%s): %w", deviceID, addr, err)
	}

	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}

	if err := writeHandshake(conn, t.localDeviceID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send handshake to %s: %w", deviceID, err)
	}
	remoteID, err := readHandshake(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read handshake from %s: %w", deviceID, err)
	}
	if remoteID != deviceID {
		conn.Close()
		return nil, fmt.Errorf("handshake mismatch: dialed %s, answered %s", deviceID, remoteID)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}

	logger.Debug("tcp transport: dial succeeded", "device_id", deviceID, "address", addr)
	return conn, nil
}

func writeHandshake(w io.Writer, deviceID string) error {
	if len(deviceID) > maxDeviceIDLength {
		return fmt.Errorf("device id too long: %d bytes", len(deviceID))
	}
	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(deviceID)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, deviceID)
	return err
}

// readHandshake reads directly off r rather than through a bufio.Reader:
// buffering ahead here would risk swallowing bytes that belong to the wire
// protocol frames that follow the handshake on the same connection.
func readHandshake(r io.Reader) (string, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", err
	}
	length := binary.BigEndian.Uint16(header[:])
	if length == 0 || int(length) > maxDeviceIDLength {
		return "", fmt.Errorf("invalid handshake device id length %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
