// Package connection implements the Persistent Connection Manager (§4.F):
// one encrypted, authenticated channel per paired device with automatic
// keepalive, retry, and request/response correlation.
package connection

// State is a Connection's position in the per-device state machine.
type State string

const (
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateConnected      State = "connected"
	StateDisconnected   State = "disconnected"
	StateReconnecting   State = "reconnecting"
	StateFailed         State = "failed"
	StateClosed         State = "closed"
)

// Priority buckets the outbound queue. Higher-priority messages are sent
// before lower-priority ones queued at the same moment (§5 ordering
// guarantees).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// priorityOrder lists buckets from highest to lowest for queue draining.
var priorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}
