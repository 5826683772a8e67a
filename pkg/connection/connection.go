package connection

import (
	"io"
	"time"

	"github.com/shelffs/shelf/pkg/crypto"
	"github.com/shelffs/shelf/pkg/wire"
)

// Metrics are the rolling counters a Connection reports on each maintenance
// tick (§4.F: "rolling metrics (bytes, messages, RTT samples, uptime)").
type Metrics struct {
	BytesSent       uint64
	BytesReceived   uint64
	MessagesSent    uint64
	MessagesReceived uint64
	RTTSamples      []time.Duration
	ConnectedAt     time.Time
}

const maxRTTSamples = 32

func (m *Metrics) addRTTSample(d time.Duration) {
	m.RTTSamples = append(m.RTTSamples, d)
	if len(m.RTTSamples) > maxRTTSamples {
		m.RTTSamples = m.RTTSamples[len(m.RTTSamples)-maxRTTSamples:]
	}
}

// pendingRequest is one outstanding Request awaiting a Reply.
type pendingRequest struct {
	sentAt  time.Time
	expires time.Time
	reply   chan wire.Reply
}

// queuedMessage is one outbound frame waiting to be written to the
// transport, tagged with the priority bucket it was submitted under.
type queuedMessage struct {
	priority Priority
	frame    wire.Frame
}

// Connection owns everything the spec attributes to one paired device's
// channel: remote identity, session keys, the keepalive clock, pending
// requests, the priority outbound queue, and metrics. All of it is mutated
// only from Manager's single run loop (§4.F concurrency contract) — there
// is no internal locking here by design.
type Connection struct {
	DeviceID string
	State    State
	FailReason string

	Keys         *crypto.SessionKeys
	KeysRotatedAt time.Time

	LastActivity  time.Time
	LastKeepalive time.Time
	MissedKeepalives int

	Pending map[string]*pendingRequest
	Outbound map[Priority][]queuedMessage

	Metrics Metrics

	transport io.ReadWriteCloser
}

func newConnection(deviceID string) *Connection {
	return &Connection{
		DeviceID: deviceID,
		State:    StateConnecting,
		Pending:  make(map[string]*pendingRequest),
		Outbound: make(map[Priority][]queuedMessage),
	}
}

// enqueue appends a frame to its priority bucket.
func (c *Connection) enqueue(priority Priority, f wire.Frame) {
	c.Outbound[priority] = append(c.Outbound[priority], queuedMessage{priority: priority, frame: f})
}

// dequeueAll drains the outbound queue highest-priority-first, emptying it.
func (c *Connection) dequeueAll() []queuedMessage {
	var out []queuedMessage
	for _, p := range priorityOrder {
		out = append(out, c.Outbound[p]...)
		c.Outbound[p] = nil
	}
	return out
}

func (c *Connection) keysStale(now time.Time, maxAge time.Duration) bool {
	return !c.KeysRotatedAt.IsZero() && now.Sub(c.KeysRotatedAt) > maxAge
}
