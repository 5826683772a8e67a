package tcp

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/shelffs/shelf/internal/logger"
)

// Adopter is the subset of connection.Manager a Listener needs: a way to
// hand it a connection someone else already accepted. connection.Manager
// satisfies this directly via its AdoptIncoming method.
type Adopter interface {
	AdoptIncoming(ctx context.Context, deviceID string, rwc io.ReadWriteCloser) error
}

// Listener accepts inbound TCP dials from paired devices, performs the
// server side of the handshake Transport.Dial expects, and hands each
// accepted connection to an Adopter keyed by the peer's claimed device id.
//
// Modeled on the accept-loop shape of a plain RPC server: listen once,
// spawn a handler goroutine per accepted connection, and stop cleanly when
// either the context is cancelled or Close is called.
type Listener struct {
	addr          string
	localDeviceID string
	adopter       Adopter

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closed   chan struct{}
	once     sync.Once
}

// NewListener builds a Listener that will bind addr once Serve is called,
// identifying itself as localDeviceID during each inbound handshake.
func NewListener(addr, localDeviceID string, adopter Adopter) *Listener {
	return &Listener{addr: addr, localDeviceID: localDeviceID, adopter: adopter, closed: make(chan struct{})}
}

// Serve binds addr and accepts connections until ctx is cancelled or Close
// is called. It blocks; callers run it in its own goroutine.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-l.closed:
		}
	}()

	logger.Info("tcp listener: accepting connections", "address", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-l.closed:
				l.wg.Wait()
				return nil
			default:
				logger.Debug("tcp listener: accept error", "error", err)
				l.wg.Wait()
				return err
			}
		}

		l.wg.Add(1)
		go func(c net.Conn) {
			defer l.wg.Done()
			l.handle(ctx, c)
		}(conn)
	}
}

// Close stops accepting new connections. Already-accepted connections run
// their handshake to completion before Serve returns.
func (l *Listener) Close() error {
	l.once.Do(func() { close(l.closed) })
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		logger.Debug("tcp listener: set handshake deadline failed", "error", err)
		conn.Close()
		return
	}

	remoteID, err := readHandshake(conn)
	if err != nil {
		logger.Debug("tcp listener: read handshake failed", "error", err, "remote_addr", conn.RemoteAddr().String())
		conn.Close()
		return
	}

	if err := writeHandshake(conn, l.localDeviceID); err != nil {
		logger.Debug("tcp listener: write handshake reply failed", "error", err, "device_id", remoteID)
		conn.Close()
		return
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		logger.Debug("tcp listener: clear handshake deadline failed", "error", err)
		conn.Close()
		return
	}

	if err := l.adopter.AdoptIncoming(ctx, remoteID, conn); err != nil {
		logger.Debug("tcp listener: adopt incoming connection failed", "error", err, "device_id", remoteID)
		conn.Close()
	}
}
