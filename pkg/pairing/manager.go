package pairing

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shelffs/shelf/internal/telemetry"
	"github.com/shelffs/shelf/pkg/crypto"
	"github.com/shelffs/shelf/pkg/eventbus"
	"github.com/shelffs/shelf/pkg/wire"
)

// Manager owns every in-progress pairing session for one device and
// enforces the security rules in §4.E: challenge freshness, session TTL,
// and single-use codes.
type Manager struct {
	mu            sync.Mutex
	sessions      map[string]*Session
	usedCodes     map[string]struct{}
	challengeTTL  time.Duration
	sessionTTL    time.Duration
	bus           *eventbus.Bus
	localDeviceID string
}

// NewManager builds a Manager for localDeviceID. challengeTTL/sessionTTL
// come from pkg/config.NetworkConfig (defaults 30s/10m per §4.E).
func NewManager(localDeviceID string, challengeTTL, sessionTTL time.Duration, bus *eventbus.Bus) *Manager {
	return &Manager{
		sessions:      make(map[string]*Session),
		usedCodes:     make(map[string]struct{}),
		challengeTTL:  challengeTTL,
		sessionTTL:    sessionTTL,
		bus:           bus,
		localDeviceID: localDeviceID,
	}
}

// BeginInitiator starts a new session as the Initiator: Idle ->
// WaitingForConnection. Returns the session and the one-time pairing code
// to be shown out-of-band.
func (m *Manager) BeginInitiator(localName, localPlatform string) (*Session, error) {
	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}

	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	s := &Session{
		ID:              uuid.NewString(),
		Role:            RoleInitiator,
		State:           StateWaitingForConnection,
		PairingCode:     code,
		LocalDevice:     DeviceInfo{DeviceID: m.localDeviceID, Name: localName, Platform: localPlatform},
		LocalPublicKey:  pub,
		LocalPrivateKey: priv,
		CreatedAt:       time.Now(),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return s, nil
}

// BeginJoiner starts a new session as the Joiner after reading a pairing
// code out-of-band: Idle -> Scanning. Returns the PairingRequest message to
// send to the initiator.
func (m *Manager) BeginJoiner(code, localName, localPlatform string) (*Session, wire.PairingRequest, error) {
	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, wire.PairingRequest{}, fmt.Errorf("generate keypair: %w", err)
	}

	s := &Session{
		ID:              uuid.NewString(),
		Role:            RoleJoiner,
		State:           StateScanning,
		PairingCode:     code,
		LocalDevice:     DeviceInfo{DeviceID: m.localDeviceID, Name: localName, Platform: localPlatform},
		LocalPublicKey:  pub,
		LocalPrivateKey: priv,
		CreatedAt:       time.Now(),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	req := wire.PairingRequest{
		SessionID:       s.ID,
		JoinerDevice:    wire.DeviceInfo{DeviceID: s.LocalDevice.DeviceID, Name: localName, Platform: localPlatform},
		JoinerPublicKey: pub[:],
	}
	return s, req, nil
}

// HandlePairingRequest is called on the Initiator side on receipt of a
// PairingRequest. The joiner mints its own session id (it has no way to
// know the initiator's internal id ahead of time — only the pairing code,
// read out-of-band), so the initiator adopts req.SessionID as the shared
// id for the remainder of the exchange, re-keying its pending
// WaitingForConnection session. Transitions WaitingForConnection -> Challenge.
func (m *Manager) HandlePairingRequest(req wire.PairingRequest) (wire.Challenge, error) {
	spanCtx, span := telemetry.StartConnectionSpan(context.Background(), telemetry.SpanPairingChallenge, req.JoinerDevice.DeviceID)
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.findWaitingLocked()
	if s == nil {
		err := fmt.Errorf("no pairing session awaiting a connection")
		telemetry.RecordError(spanCtx, err)
		return wire.Challenge{}, err
	}
	if _, used := m.usedCodes[s.PairingCode]; used {
		s.fail("pairing code already used")
		err := fmt.Errorf("pairing code already used")
		telemetry.RecordError(spanCtx, err)
		return wire.Challenge{}, err
	}

	delete(m.sessions, s.ID)
	s.ID = req.SessionID
	m.sessions[s.ID] = s

	s.RemoteDevice = DeviceInfo{DeviceID: req.JoinerDevice.DeviceID, Name: req.JoinerDevice.Name, Platform: req.JoinerDevice.Platform}
	copy(s.RemotePublicKey[:], req.JoinerPublicKey)

	if err := randomBytes(s.LocalNonce[:]); err != nil {
		s.fail(err.Error())
		return wire.Challenge{}, err
	}

	s.State = StateChallenge
	s.ChallengeIssuedAt = time.Now()

	return wire.Challenge{
		SessionID:          s.ID,
		InitiatorNonce:     s.LocalNonce,
		InitiatorDevice:    wire.DeviceInfo{DeviceID: s.LocalDevice.DeviceID, Name: s.LocalDevice.Name, Platform: s.LocalDevice.Platform},
		InitiatorPublicKey: s.LocalPublicKey[:],
	}, nil
}

// findWaitingLocked returns the (at most one, in the common case) session
// still in WaitingForConnection. Callers must hold m.mu.
func (m *Manager) findWaitingLocked() *Session {
	for _, s := range m.sessions {
		if s.State == StateWaitingForConnection && !s.expired(time.Now(), m.sessionTTL) {
			return s
		}
	}
	return nil
}

// HandleChallenge is called on the Joiner side on receipt of a Challenge.
// Transitions Scanning -> Response.
func (m *Manager) HandleChallenge(sessionID string, ch wire.Challenge) (wire.Response, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return wire.Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s.State != StateScanning {
		s.fail("unexpected Challenge in state " + string(s.State))
		return wire.Response{}, fmt.Errorf("session %s: unexpected Challenge in state %s", sessionID, s.State)
	}

	s.RemoteDevice = DeviceInfo{DeviceID: ch.InitiatorDevice.DeviceID, Name: ch.InitiatorDevice.Name, Platform: ch.InitiatorDevice.Platform}
	copy(s.RemotePublicKey[:], ch.InitiatorPublicKey)
	s.RemoteNonce = ch.InitiatorNonce
	s.ChallengeIssuedAt = time.Now()

	if err := randomBytes(s.LocalNonce[:]); err != nil {
		s.fail(err.Error())
		return wire.Response{}, err
	}

	responseHash := crypto.KeyedHash(challengeDomain, []byte(s.PairingCode), ch.InitiatorNonce[:], s.LocalNonce[:], timestampBytes(s.ChallengeIssuedAt))

	s.State = StateResponse

	return wire.Response{
		SessionID:    s.ID,
		ResponseHash: responseHash,
		JoinerNonce:  s.LocalNonce,
	}, nil
}

// HandleResponse is called on the Initiator side on receipt of a Response.
// It verifies the keyed hash, rejects stale challenges, and on success
// returns a ChallengeConfirmation proving the initiator also knows the
// code. Transitions Challenge -> Response (the initiator's own Response
// step, per §4.E's shared-diagram convention) and derives SessionKeys.
func (m *Manager) HandleResponse(sessionID string, resp wire.Response) (wire.ChallengeConfirmation, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return wire.ChallengeConfirmation{}, err
	}

	spanCtx, span := telemetry.StartConnectionSpan(context.Background(), telemetry.SpanPairingConfirm, s.RemoteDevice.DeviceID)
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if s.State != StateChallenge {
		s.fail("unexpected Response in state " + string(s.State))
		err := fmt.Errorf("session %s: unexpected Response in state %s", sessionID, s.State)
		telemetry.RecordError(spanCtx, err)
		return wire.ChallengeConfirmation{}, err
	}
	if s.challengeStale(time.Now(), m.challengeTTL) {
		s.fail("challenge expired")
		err := fmt.Errorf("session %s: challenge expired", sessionID)
		telemetry.RecordError(spanCtx, err)
		return wire.ChallengeConfirmation{}, err
	}

	expected := crypto.KeyedHash(challengeDomain, []byte(s.PairingCode), s.LocalNonce[:], resp.JoinerNonce[:], timestampBytes(s.ChallengeIssuedAt))
	if expected != resp.ResponseHash {
		s.fail("response hash mismatch")
		err := fmt.Errorf("session %s: response hash mismatch", sessionID)
		telemetry.RecordError(spanCtx, err)
		return wire.ChallengeConfirmation{}, err
	}

	s.RemoteNonce = resp.JoinerNonce

	confirmationHash := crypto.KeyedHash(confirmationDomain, []byte(s.PairingCode), resp.JoinerNonce[:], s.LocalNonce[:], timestampBytes(s.ChallengeIssuedAt))

	if err := m.deriveKeysLocked(s); err != nil {
		s.fail(err.Error())
		telemetry.RecordError(spanCtx, err)
		return wire.ChallengeConfirmation{}, err
	}

	s.State = StateResponse

	return wire.ChallengeConfirmation{
		SessionID:        s.ID,
		ConfirmationHash: confirmationHash,
	}, nil
}

// HandleChallengeConfirmation is called on the Joiner side. It verifies the
// initiator also proved knowledge of the code, derives SessionKeys, and
// returns the final PairingComplete message. Transitions Response -> Complete.
func (m *Manager) HandleChallengeConfirmation(sessionID string, conf wire.ChallengeConfirmation) (wire.PairingComplete, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return wire.PairingComplete{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s.State != StateResponse {
		s.fail("unexpected ChallengeConfirmation in state " + string(s.State))
		return wire.PairingComplete{}, fmt.Errorf("session %s: unexpected ChallengeConfirmation in state %s", sessionID, s.State)
	}

	expected := crypto.KeyedHash(confirmationDomain, []byte(s.PairingCode), s.LocalNonce[:], s.RemoteNonce[:], timestampBytes(s.ChallengeIssuedAt))
	if expected != conf.ConfirmationHash {
		s.fail("confirmation hash mismatch")
		return wire.PairingComplete{Accepted: false, Reason: "confirmation hash mismatch"}, fmt.Errorf("session %s: confirmation hash mismatch", sessionID)
	}

	if err := m.deriveKeysLocked(s); err != nil {
		s.fail(err.Error())
		return wire.PairingComplete{Accepted: false, Reason: err.Error()}, err
	}

	m.finishLocked(s)

	return wire.PairingComplete{SessionID: s.ID, Accepted: true}, nil
}

// HandlePairingComplete is called on the Initiator side on receipt of the
// joiner's final PairingComplete. Only on receipt does the initiator's
// session itself transition to Complete.
func (m *Manager) HandlePairingComplete(sessionID string, complete wire.PairingComplete) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !complete.Accepted {
		s.fail(complete.Reason)
		return fmt.Errorf("session %s: joiner rejected pairing: %s", sessionID, complete.Reason)
	}
	if s.State != StateResponse {
		s.fail("unexpected PairingComplete in state " + string(s.State))
		return fmt.Errorf("session %s: unexpected PairingComplete in state %s", sessionID, s.State)
	}

	m.finishLocked(s)
	return nil
}

func (m *Manager) deriveKeysLocked(s *Session) error {
	if s.SessionKeys != nil {
		return nil
	}
	secret, err := crypto.SharedSecret(s.LocalPrivateKey, s.RemotePublicKey)
	if err != nil {
		return fmt.Errorf("compute shared secret: %w", err)
	}
	keys, err := crypto.DeriveSessionKeys(secret, s.LocalDevice.DeviceID, s.RemoteDevice.DeviceID)
	if err != nil {
		return fmt.Errorf("derive session keys: %w", err)
	}
	s.SessionKeys = &keys
	return nil
}

func (m *Manager) finishLocked(s *Session) {
	s.State = StateComplete
	m.usedCodes[s.PairingCode] = struct{}{}

	if m.bus != nil {
		m.bus.Publish(eventbus.KindDevice, eventbus.DeviceStateChanged{
			DeviceID:   s.RemoteDevice.DeviceID,
			TrustLevel: "trusted",
		})
	}
}

// Get returns the session by id, or an error if it's missing or expired.
func (m *Manager) Get(sessionID string) (*Session, error) {
	return m.get(sessionID)
}

func (m *Manager) get(sessionID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("pairing session %s not found", sessionID)
	}
	if s.expired(time.Now(), m.sessionTTL) {
		m.mu.Lock()
		s.fail("session expired")
		m.mu.Unlock()
		return nil, fmt.Errorf("pairing session %s expired", sessionID)
	}
	return s, nil
}

// GC drops sessions that have exceeded the session TTL, freeing their
// memory once Complete/Failed sessions have been observed (§4.E: "a failed
// session is retained briefly for observability then dropped").
func (m *Manager) GC() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, s := range m.sessions {
		if s.expired(now, m.sessionTTL) {
			delete(m.sessions, id)
		}
	}
}

func randomBytes(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

func timestampBytes(t time.Time) []byte {
	unix := t.Unix()
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(unix >> (8 * (7 - i)))
	}
	return buf
}
