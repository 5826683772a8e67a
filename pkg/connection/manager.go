package connection

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shelffs/shelf/internal/logger"
	"github.com/shelffs/shelf/internal/telemetry"
	"github.com/shelffs/shelf/pkg/crypto"
	"github.com/shelffs/shelf/pkg/eventbus"
	"github.com/shelffs/shelf/pkg/wire"
)

// Transport dials a fresh stream to a paired device. Production code backs
// this with whatever network substrate a deployment chooses (TCP, QUIC,
// Bluetooth RFCOMM); tests back it with net.Pipe.
type Transport interface {
	Dial(ctx context.Context, deviceID string) (io.ReadWriteCloser, error)
}

// Config tunes the manager's timers. Zero values are replaced by defaults
// matching §4.F exactly.
type Config struct {
	KeepaliveInterval  time.Duration
	KeepaliveMissLimit int
	RequestTTL         time.Duration
	MaintenanceTick    time.Duration
	RetryTick          time.Duration
	KeyRotationAge     time.Duration
	MaxRetryAttempts   int
}

func (c *Config) applyDefaults() {
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.KeepaliveMissLimit == 0 {
		c.KeepaliveMissLimit = 3
	}
	if c.RequestTTL == 0 {
		c.RequestTTL = 30 * time.Second
	}
	if c.MaintenanceTick == 0 {
		c.MaintenanceTick = 30 * time.Second
	}
	if c.RetryTick == 0 {
		c.RetryTick = 250 * time.Millisecond
	}
	if c.KeyRotationAge == 0 {
		c.KeyRotationAge = 24 * time.Hour
	}
	if c.MaxRetryAttempts == 0 {
		c.MaxRetryAttempts = DefaultMaxAttempts
	}
}

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdDisconnect
	cmdRevoke
	cmdSend
	cmdStatus
	cmdAdopt
)

type command struct {
	kind     commandKind
	deviceID string
	priority Priority
	msgType  wire.Type
	payload  any
	done     chan error
	result   chan State
}

type incomingFrame struct {
	deviceID string
	frame    wire.Frame
	readErr  error
}

type dialResult struct {
	deviceID  string
	transport io.ReadWriteCloser
	err       error
}

// RequestHandler answers an incoming Request frame from a peer device. It
// runs outside the run loop (in its own goroutine per request), so it may
// block or call back into the manager via Send/SendRequest without
// deadlocking the single actor.
type RequestHandler func(ctx context.Context, deviceID, method string, body []byte) ([]byte, error)

// Manager is the single owning task for every paired device's connection
// (§4.F concurrency contract). All Connection state is mutated only inside
// Run's loop; every other method communicates with it over channels.
type Manager struct {
	localDeviceID string
	transport     Transport
	keys          KeyStore
	bus           *eventbus.Bus
	cfg           Config

	connections map[string]*Connection
	retries     map[string]*retryState
	revoked     map[string]struct{}
	handler     RequestHandler

	cmdCh      chan command
	incomingCh chan incomingFrame
	dialCh     chan dialResult

	wg sync.WaitGroup
}

func NewManager(localDeviceID string, transport Transport, keys KeyStore, bus *eventbus.Bus, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		localDeviceID: localDeviceID,
		transport:     transport,
		keys:          keys,
		bus:           bus,
		cfg:           cfg,
		connections:   make(map[string]*Connection),
		retries:       make(map[string]*retryState),
		revoked:       make(map[string]struct{}),
		cmdCh:         make(chan command, 32),
		incomingCh:    make(chan incomingFrame, 32),
		dialCh:        make(chan dialResult, 8),
	}
}

// Run drives the manager's event loop until ctx is cancelled. It blocks;
// callers run it in its own goroutine.
func (m *Manager) Run(ctx context.Context) {
	maintenance := time.NewTicker(m.cfg.MaintenanceTick)
	defer maintenance.Stop()
	retryTick := time.NewTicker(m.cfg.RetryTick)
	defer retryTick.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			m.wg.Wait()
			return
		case cmd := <-m.cmdCh:
			m.handleCommand(ctx, cmd)
		case res := <-m.dialCh:
			m.handleDialResult(res)
		case in := <-m.incomingCh:
			m.handleIncoming(ctx, in)
		case <-maintenance.C:
			m.runMaintenance(ctx)
		case <-retryTick.C:
			m.runRetries(ctx)
		}
	}
}

// Connect requests a connection to deviceID; it blocks until the command
// has been accepted by the run loop (not until the connection is live —
// that happens asynchronously and is observable via the event bus).
func (m *Manager) Connect(ctx context.Context, deviceID string) error {
	return m.submit(ctx, command{kind: cmdConnect, deviceID: deviceID})
}

func (m *Manager) Disconnect(ctx context.Context, deviceID string) error {
	return m.submit(ctx, command{kind: cmdDisconnect, deviceID: deviceID})
}

// Revoke disconnects deviceID and removes it from the retry queue
// immediately (§4.F: "a revoked device is removed from the queue
// immediately").
func (m *Manager) Revoke(ctx context.Context, deviceID string) error {
	return m.submit(ctx, command{kind: cmdRevoke, deviceID: deviceID})
}

// Send enqueues payload for deviceID at the given priority. Delivery is
// asynchronous; the outbound queue is flushed on the next maintenance tick
// or immediately if the connection is idle.
func (m *Manager) Send(ctx context.Context, deviceID string, priority Priority, msgType wire.Type, payload any) error {
	return m.submit(ctx, command{kind: cmdSend, deviceID: deviceID, priority: priority, msgType: msgType, payload: payload})
}

// SendRequest sends method/body as a correlated Request and blocks for the
// matching Reply, up to cfg.RequestTTL (default 30s, §4.F: "pending
// requests expire after 30s and are reaped during maintenance ticks").
func (m *Manager) SendRequest(ctx context.Context, deviceID string, priority Priority, method string, body []byte) (wire.Reply, error) {
	requestID := generateRequestID()
	replyCh := make(chan wire.Reply, 1)

	registerErr := make(chan error, 1)
	req := command{
		kind:     cmdSend,
		deviceID: deviceID,
		priority: priority,
		msgType:  wire.TypeRequest,
		payload: registerRequest{
			id:      requestID,
			method:  method,
			body:    body,
			replyCh: replyCh,
		},
		done: registerErr,
	}

	select {
	case m.cmdCh <- req:
	case <-ctx.Done():
		return wire.Reply{}, ctx.Err()
	}
	select {
	case err := <-registerErr:
		if err != nil {
			return wire.Reply{}, err
		}
	case <-ctx.Done():
		return wire.Reply{}, ctx.Err()
	}

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return wire.Reply{}, fmt.Errorf("request %s to %s expired", requestID, deviceID)
		}
		return reply, nil
	case <-ctx.Done():
		return wire.Reply{}, ctx.Err()
	}
}

// registerRequest is the cmdSend payload used by SendRequest to both enqueue
// the outbound Request frame and register the pending-reply entry in one
// run-loop turn, so no reply can race ahead of its bookkeeping.
type registerRequest struct {
	id      string
	method  string
	body    []byte
	replyCh chan wire.Reply
}

// AdoptIncoming registers a connection a Transport's listener side already
// accepted, rather than one this manager dialed itself -- the counterpart
// to Connect for transports (like tcp.Transport) where both paired devices
// also listen for inbound dials. If deviceID already has a live or
// in-progress connection, rwc is closed and discarded instead of replacing
// it, the same idempotency rule Connect applies to outbound dials.
func (m *Manager) AdoptIncoming(ctx context.Context, deviceID string, rwc io.ReadWriteCloser) error {
	return m.submit(ctx, command{kind: cmdAdopt, deviceID: deviceID, payload: rwc})
}

// SetHandler registers the callback used to answer Requests from peers.
// Must be called before Run starts processing incoming frames; typically
// set once at construction time by the caller wiring the manager up.
func (m *Manager) SetHandler(h RequestHandler) {
	m.handler = h
}

// Status returns deviceID's current connection state, or StateClosed if no
// connection has ever been attempted.
func (m *Manager) Status(ctx context.Context, deviceID string) (State, error) {
	cmd := command{kind: cmdStatus, deviceID: deviceID, done: make(chan error, 1), result: make(chan State, 1)}
	select {
	case m.cmdCh <- cmd:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case <-cmd.done:
		return <-cmd.result, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) submit(ctx context.Context, cmd command) error {
	cmd.done = make(chan error, 1)
	select {
	case m.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) handleCommand(ctx context.Context, cmd command) {
	var err error
	switch cmd.kind {
	case cmdConnect:
		err = m.connect(ctx, cmd.deviceID)
	case cmdDisconnect:
		m.disconnect(cmd.deviceID, "disconnect requested")
	case cmdRevoke:
		delete(m.revoked, cmd.deviceID)
		m.revoked[cmd.deviceID] = struct{}{}
		delete(m.retries, cmd.deviceID)
		m.disconnect(cmd.deviceID, "revoked")
	case cmdSend:
		err = m.enqueueSend(cmd.deviceID, cmd.priority, cmd.msgType, cmd.payload)
	case cmdAdopt:
		err = m.adoptIncoming(cmd.deviceID, cmd.payload.(io.ReadWriteCloser))
	case cmdStatus:
		state := StateClosed
		if c, ok := m.connections[cmd.deviceID]; ok {
			state = c.State
		}
		cmd.done <- nil
		cmd.result <- state
		return
	}
	cmd.done <- err
}

func (m *Manager) connect(ctx context.Context, deviceID string) error {
	spanCtx, span := telemetry.StartConnectionSpan(ctx, telemetry.SpanConnectionDial, deviceID)
	defer span.End()

	if _, revoked := m.revoked[deviceID]; revoked {
		err := fmt.Errorf("device %s is revoked", deviceID)
		telemetry.RecordError(spanCtx, err)
		return err
	}
	if c, ok := m.connections[deviceID]; ok && (c.State == StateConnected || c.State == StateConnecting || c.State == StateAuthenticating) {
		return nil
	}

	keys, err := m.keys.Load(deviceID)
	if err != nil {
		wrapped := fmt.Errorf("load session keys for %s: %w", deviceID, err)
		telemetry.RecordError(spanCtx, wrapped)
		return wrapped
	}

	c := newConnection(deviceID)
	c.Keys = keys
	c.KeysRotatedAt = time.Now()
	m.connections[deviceID] = c
	m.publishState(deviceID, "", string(StateConnecting), "")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		transport, dialErr := m.transport.Dial(ctx, deviceID)
		select {
		case m.dialCh <- dialResult{deviceID: deviceID, transport: transport, err: dialErr}:
		case <-ctx.Done():
		}
	}()

	return nil
}

func (m *Manager) adoptIncoming(deviceID string, rwc io.ReadWriteCloser) error {
	spanCtx, span := telemetry.StartConnectionSpan(context.Background(), telemetry.SpanConnectionAccept, deviceID)
	defer span.End()

	if _, revoked := m.revoked[deviceID]; revoked {
		rwc.Close()
		err := fmt.Errorf("device %s is revoked", deviceID)
		telemetry.RecordError(spanCtx, err)
		return err
	}
	if c, ok := m.connections[deviceID]; ok && (c.State == StateConnected || c.State == StateConnecting || c.State == StateAuthenticating) {
		rwc.Close()
		return nil
	}

	keys, err := m.keys.Load(deviceID)
	if err != nil {
		rwc.Close()
		wrapped := fmt.Errorf("load session keys for %s: %w", deviceID, err)
		telemetry.RecordError(spanCtx, wrapped)
		return wrapped
	}

	c := newConnection(deviceID)
	c.Keys = keys
	c.KeysRotatedAt = time.Now()
	c.transport = rwc
	m.connections[deviceID] = c
	m.publishState(deviceID, "", string(StateConnecting), "")

	c.State = StateAuthenticating
	m.publishState(deviceID, string(StateConnecting), string(StateAuthenticating), "")

	c.State = StateConnected
	now := time.Now()
	c.LastActivity = now
	c.LastKeepalive = now
	c.Metrics.ConnectedAt = now
	c.MissedKeepalives = 0
	delete(m.retries, deviceID)
	m.publishState(deviceID, string(StateAuthenticating), string(StateConnected), "")

	m.wg.Add(1)
	go m.readLoop(c)
	return nil
}

func (m *Manager) handleDialResult(res dialResult) {
	c, ok := m.connections[res.deviceID]
	if !ok {
		if res.transport != nil {
			_ = res.transport.Close()
		}
		return
	}
	if res.err != nil {
		m.scheduleRetry(res.deviceID, res.err)
		return
	}

	c.transport = res.transport
	c.State = StateAuthenticating
	m.publishState(res.deviceID, string(StateConnecting), string(StateAuthenticating), "")

	c.State = StateConnected
	now := time.Now()
	c.LastActivity = now
	c.LastKeepalive = now
	c.Metrics.ConnectedAt = now
	c.MissedKeepalives = 0
	delete(m.retries, res.deviceID)
	m.publishState(res.deviceID, string(StateAuthenticating), string(StateConnected), "")

	m.wg.Add(1)
	go m.readLoop(c)
}

func (m *Manager) readLoop(c *Connection) {
	defer m.wg.Done()
	for {
		f, err := wire.ReadFrame(c.transport)
		m.incomingCh <- incomingFrame{deviceID: c.DeviceID, frame: f, readErr: err}
		if err != nil {
			return
		}
	}
}

func (m *Manager) handleIncoming(ctx context.Context, in incomingFrame) {
	c, ok := m.connections[in.deviceID]
	if !ok {
		return
	}
	if in.readErr != nil {
		m.markDead(in.deviceID, in.readErr.Error())
		return
	}

	c.LastActivity = time.Now()
	c.Metrics.MessagesReceived++
	c.Metrics.BytesReceived += uint64(len(in.frame.Payload))

	switch in.frame.Type {
	case wire.TypeKeepalive:
		c.MissedKeepalives = 0
		m.sendSealed(c, PriorityHigh, wire.TypeKeepaliveResponse, wire.KeepaliveResponse{EchoedAt: time.Now()})
	case wire.TypeKeepaliveResponse:
		c.MissedKeepalives = 0
	case wire.TypeReply:
		m.resolveReply(c, in.frame)
	case wire.TypeRequest:
		m.handleRequest(ctx, c, in.frame)
	default:
		logger.Warn("connection: unhandled frame type", "device", in.deviceID, "type", in.frame.Type.String())
	}
}

// handleRequest answers an incoming Request by delegating to the registered
// RequestHandler in its own goroutine, so a slow or blocking handler never
// stalls the run loop. With no handler registered, every request gets an
// immediate error Reply rather than silently hanging the caller.
func (m *Manager) handleRequest(ctx context.Context, c *Connection, f wire.Frame) {
	var req wire.Request
	if err := m.openFrame(c, f, &req); err != nil {
		logger.Warn("connection: failed to open request", "device", c.DeviceID, "error", err)
		return
	}
	if m.handler == nil {
		m.sendSealed(c, PriorityNormal, wire.TypeReply, wire.Reply{RequestID: req.RequestID, OK: false, Error: "no request handler registered"})
		return
	}

	deviceID := c.DeviceID
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		body, err := m.handler(ctx, deviceID, req.Method, req.Body)
		reply := wire.Reply{RequestID: req.RequestID, OK: err == nil, Body: body}
		if err != nil {
			reply.Error = err.Error()
		}
		_ = m.Send(ctx, deviceID, PriorityNormal, wire.TypeReply, reply)
	}()
}

func (m *Manager) resolveReply(c *Connection, f wire.Frame) {
	var plain wire.Reply
	if err := m.openFrame(c, f, &plain); err != nil {
		logger.Warn("connection: failed to open reply", "device", c.DeviceID, "error", err)
		return
	}
	pending, ok := c.Pending[plain.RequestID]
	if !ok {
		logger.Warn("connection: reply with no pending request dropped", "device", c.DeviceID, "request_id", plain.RequestID)
		return
	}
	delete(c.Pending, plain.RequestID)
	c.Metrics.addRTTSample(time.Since(pending.sentAt))
	pending.reply <- plain
}

func (m *Manager) enqueueSend(deviceID string, priority Priority, msgType wire.Type, payload any) error {
	c, ok := m.connections[deviceID]
	if !ok {
		return fmt.Errorf("no connection to device %s", deviceID)
	}

	if req, isRequest := payload.(registerRequest); isRequest {
		now := time.Now()
		c.Pending[req.id] = &pendingRequest{
			sentAt:  now,
			expires: now.Add(m.cfg.RequestTTL),
			reply:   req.replyCh,
		}
		sealed, err := m.sealFrame(c, msgType, wire.Request{RequestID: req.id, Method: req.method, Body: req.body})
		if err != nil {
			delete(c.Pending, req.id)
			return err
		}
		c.enqueue(priority, sealed)
		if c.State == StateConnected {
			m.flushOutbound(c)
		}
		return nil
	}

	sealed, err := m.sealFrame(c, msgType, payload)
	if err != nil {
		return err
	}
	c.enqueue(priority, sealed)
	if c.State == StateConnected {
		m.flushOutbound(c)
	}
	return nil
}

func (m *Manager) sendSealed(c *Connection, priority Priority, msgType wire.Type, payload any) {
	sealed, err := m.sealFrame(c, msgType, payload)
	if err != nil {
		logger.Warn("connection: failed to seal frame", "device", c.DeviceID, "error", err)
		return
	}
	c.enqueue(priority, sealed)
	if c.State == StateConnected {
		m.flushOutbound(c)
	}
}

func (m *Manager) sealFrame(c *Connection, t wire.Type, payload any) (wire.Frame, error) {
	f, err := wire.Encode(t, payload)
	if err != nil {
		return wire.Frame{}, err
	}
	sealed, err := crypto.Seal(c.Keys.SendKey, f.Payload, []byte(t.String()))
	if err != nil {
		return wire.Frame{}, fmt.Errorf("seal %s frame: %w", t, err)
	}
	return wire.Frame{Type: t, Payload: sealed}, nil
}

func (m *Manager) openFrame(c *Connection, f wire.Frame, out any) error {
	plain, err := crypto.Open(c.Keys.ReceiveKey, f.Payload, []byte(f.Type.String()))
	if err != nil {
		return fmt.Errorf("open %s frame: %w", f.Type, err)
	}
	return wire.Decode(wire.Frame{Type: f.Type, Payload: plain}, out)
}

func (m *Manager) flushOutbound(c *Connection) {
	for _, qm := range c.dequeueAll() {
		if err := wire.WriteFrame(c.transport, qm.frame); err != nil {
			m.markDead(c.DeviceID, err.Error())
			return
		}
		c.Metrics.MessagesSent++
		c.Metrics.BytesSent += uint64(len(qm.frame.Payload))
		c.LastActivity = time.Now()
	}
}

func (m *Manager) disconnect(deviceID, reason string) {
	c, ok := m.connections[deviceID]
	if !ok {
		return
	}
	from := string(c.State)
	if c.transport != nil {
		_ = c.transport.Close()
	}
	c.State = StateClosed
	c.FailReason = reason
	m.publishState(deviceID, from, string(StateClosed), reason)
}

func (m *Manager) markDead(deviceID, reason string) {
	c, ok := m.connections[deviceID]
	if !ok {
		return
	}
	from := string(c.State)
	if c.transport != nil {
		_ = c.transport.Close()
	}
	c.transport = nil
	c.State = StateDisconnected
	c.FailReason = reason
	m.publishState(deviceID, from, string(StateDisconnected), reason)

	if _, revoked := m.revoked[deviceID]; revoked {
		return
	}
	m.scheduleRetry(deviceID, fmt.Errorf("%s", reason))
}

func (m *Manager) scheduleRetry(deviceID string, cause error) {
	if _, revoked := m.revoked[deviceID]; revoked {
		return
	}
	state, ok := m.retries[deviceID]
	if !ok {
		state = newRetryState()
		m.retries[deviceID] = state
	}
	delay, ok := state.next(m.cfg.MaxRetryAttempts)
	if !ok {
		delete(m.retries, deviceID)
		if c, exists := m.connections[deviceID]; exists {
			from := string(c.State)
			c.State = StateFailed
			c.FailReason = fmt.Sprintf("retry ceiling reached: %v", cause)
			m.publishState(deviceID, from, string(StateFailed), c.FailReason)
		}
		return
	}
	c, exists := m.connections[deviceID]
	if exists {
		from := string(c.State)
		c.State = StateReconnecting
		m.publishState(deviceID, from, string(StateReconnecting), cause.Error())
	}
	state.nextAt(delay)
}

// nextAt is set on retryState via a small wrapper to keep the due time next
// to the backoff schedule it was computed from.
func (r *retryState) nextAt(delay time.Duration) {
	r.dueAt = time.Now().Add(delay)
}

func (m *Manager) runRetries(ctx context.Context) {
	now := time.Now()
	for deviceID, state := range m.retries {
		if state.dueAt.IsZero() || now.Before(state.dueAt) {
			continue
		}
		if err := m.connect(ctx, deviceID); err != nil {
			logger.Warn("connection: retry dial failed to enqueue", "device", deviceID, "error", err)
		}
	}
}

func (m *Manager) runMaintenance(ctx context.Context) {
	now := time.Now()
	for deviceID, c := range m.connections {
		if c.State != StateConnected {
			continue
		}

		m.reapExpiredRequests(c, now)

		if now.Sub(c.LastActivity) >= m.cfg.KeepaliveInterval {
			c.MissedKeepalives++
			if c.MissedKeepalives > m.cfg.KeepaliveMissLimit {
				m.markDead(deviceID, "keepalive timeout")
				continue
			}
			m.sendSealed(c, PriorityHigh, wire.TypeKeepalive, wire.Keepalive{SentAt: now})
			c.LastKeepalive = now
		}

		if c.keysStale(now, m.cfg.KeyRotationAge) {
			logger.Info("connection: session keys stale, rotation required out-of-band", "device", deviceID)
		}

		m.flushOutbound(c)
		m.publishMetrics(deviceID, c)
	}
}

func (m *Manager) reapExpiredRequests(c *Connection, now time.Time) {
	for id, p := range c.Pending {
		if now.After(p.expires) {
			delete(c.Pending, id)
			close(p.reply)
		}
	}
}

func (m *Manager) closeAll() {
	for deviceID := range m.connections {
		m.disconnect(deviceID, "shutdown")
	}
}

func (m *Manager) publishState(deviceID, from, to, reason string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.KindConnection, eventbus.ConnectionStateChanged{
		DeviceID: deviceID,
		From:     from,
		To:       to,
		Reason:   reason,
	})
}

// publishMetrics logs the rolling counters at debug level on each tick.
// The counters are not published on the event bus, and pkg/httpapi's
// prometheus collector does not export them.
func (m *Manager) publishMetrics(deviceID string, c *Connection) {
	logger.Debug("connection: tick",
		"device", deviceID,
		"bytes_sent", c.Metrics.BytesSent,
		"bytes_received", c.Metrics.BytesReceived,
		"messages_sent", c.Metrics.MessagesSent,
		"messages_received", c.Metrics.MessagesReceived,
	)
}

// generateRequestID returns a locally unique id for request/reply
// correlation (§9: "not a security boundary, only a local correlation
// key").
func generateRequestID() string {
	return uuid.NewString()
}
