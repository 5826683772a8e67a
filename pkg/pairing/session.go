// Package pairing implements the Pairing Protocol (§4.E): two devices that
// share a short one-time code agree on SessionKeys and mutually authenticate
// their long-term device identities.
package pairing

import (
	"time"

	"github.com/shelffs/shelf/pkg/crypto"
)

// Role identifies which side of a pairing a Session represents.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleJoiner    Role = "joiner"
)

// State is one of the pairing state machine's states (§4.E).
type State string

const (
	StateIdle                 State = "idle"
	StateWaitingForConnection State = "waiting_for_connection"
	StateScanning             State = "scanning"
	StateChallenge            State = "challenge"
	StateResponse             State = "response"
	StateComplete             State = "complete"
	StateFailed               State = "failed"
)

// challengeDomain and confirmationDomain separate the two keyed-hash
// directions so a response hash can never be replayed as a confirmation
// hash (§4.E: "both sides must independently compute both directions").
const (
	challengeDomain    = "shelf-pairing-v1-response"
	confirmationDomain = "shelf-pairing-v1-confirmation"
)

// Session is one in-progress (or finished) pairing attempt.
type Session struct {
	ID           string
	Role         Role
	State        State
	PairingCode  string
	LocalDevice  DeviceInfo
	RemoteDevice DeviceInfo

	LocalPublicKey  [crypto.KeySize]byte
	LocalPrivateKey [crypto.KeySize]byte
	RemotePublicKey [crypto.KeySize]byte

	LocalNonce  [16]byte
	RemoteNonce [16]byte

	CreatedAt         time.Time
	ChallengeIssuedAt time.Time

	SessionKeys *crypto.SessionKeys
	FailReason  string
}

// DeviceInfo is the minimal identity carried in pairing messages.
type DeviceInfo struct {
	DeviceID string
	Name     string
	Platform string
}

// expired reports whether s has exceeded the overall session TTL measured
// from CreatedAt (§4.E: "a session that does not complete within 10
// minutes MUST be garbage-collected").
func (s *Session) expired(now time.Time, sessionTTL time.Duration) bool {
	return now.Sub(s.CreatedAt) > sessionTTL
}

// challengeStale reports whether the challenge nonce has aged past the
// TTL (§4.E: "a challenge older than 30 seconds MUST be rejected").
func (s *Session) challengeStale(now time.Time, challengeTTL time.Duration) bool {
	return now.Sub(s.ChallengeIssuedAt) > challengeTTL
}

func (s *Session) fail(reason string) {
	s.State = StateFailed
	s.FailReason = reason
}
