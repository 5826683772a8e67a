package pairing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shelffs/shelf/pkg/eventbus"
	"github.com/shelffs/shelf/pkg/wire"
)

func runHandshake(t *testing.T, initMgr, joinMgr *Manager) (*Session, *Session) {
	t.Helper()

	initSession, err := initMgr.BeginInitiator("initiator-laptop", "linux")
	require.NoError(t, err)

	joinSession, req, err := joinMgr.BeginJoiner(initSession.PairingCode, "joiner-phone", "android")
	require.NoError(t, err)

	challenge, err := initMgr.HandlePairingRequest(req)
	require.NoError(t, err)
	require.Equal(t, joinSession.ID, challenge.SessionID)

	response, err := joinMgr.HandleChallenge(joinSession.ID, challenge)
	require.NoError(t, err)

	confirmation, err := initMgr.HandleResponse(challenge.SessionID, response)
	require.NoError(t, err)

	complete, err := joinMgr.HandleChallengeConfirmation(joinSession.ID, confirmation)
	require.NoError(t, err)
	require.True(t, complete.Accepted)

	require.NoError(t, initMgr.HandlePairingComplete(challenge.SessionID, complete))

	finishedInit, err := initMgr.Get(challenge.SessionID)
	require.NoError(t, err)
	finishedJoin, err := joinMgr.Get(joinSession.ID)
	require.NoError(t, err)

	return finishedInit, finishedJoin
}

func TestHandshakeDerivesIdenticalSessionKeys(t *testing.T) {
	bus := eventbus.New(4)
	initMgr := NewManager("device-initiator", 30*time.Second, 10*time.Minute, bus)
	joinMgr := NewManager("device-joiner", 30*time.Second, 10*time.Minute, bus)

	initSession, joinSession := runHandshake(t, initMgr, joinMgr)

	require.Equal(t, StateComplete, initSession.State)
	require.Equal(t, StateComplete, joinSession.State)
	require.NotNil(t, initSession.SessionKeys)
	require.NotNil(t, joinSession.SessionKeys)

	// Both sides must derive symmetric keys: what one side sends the other
	// receives with, and vice versa.
	require.Equal(t, initSession.SessionKeys.SendKey, joinSession.SessionKeys.ReceiveKey)
	require.Equal(t, initSession.SessionKeys.ReceiveKey, joinSession.SessionKeys.SendKey)
	require.Equal(t, initSession.SessionKeys.MACKey, joinSession.SessionKeys.MACKey)
}

func TestPairingCodeIsSingleUse(t *testing.T) {
	bus := eventbus.New(4)
	initMgr := NewManager("device-initiator", 30*time.Second, 10*time.Minute, bus)
	joinMgr := NewManager("device-joiner", 30*time.Second, 10*time.Minute, bus)

	runHandshake(t, initMgr, joinMgr)

	// A second initiator session reusing the exact same code must be
	// rejected once the code has been consumed.
	initMgr.mu.Lock()
	var usedCode string
	for code := range initMgr.usedCodes {
		usedCode = code
	}
	initMgr.mu.Unlock()
	require.NotEmpty(t, usedCode)

	_, err := initMgr.BeginInitiator("initiator-laptop", "linux")
	require.NoError(t, err)

	initMgr.mu.Lock()
	for _, s := range initMgr.sessions {
		if s.State == StateWaitingForConnection {
			s.PairingCode = usedCode
		}
	}
	initMgr.mu.Unlock()

	_, req, err := joinMgr.BeginJoiner(usedCode, "joiner-phone", "android")
	require.NoError(t, err)

	_, err = initMgr.HandlePairingRequest(req)
	require.Error(t, err)
}

func TestTamperedResponseHashFailsPairing(t *testing.T) {
	bus := eventbus.New(4)
	initMgr := NewManager("device-initiator", 30*time.Second, 10*time.Minute, bus)
	joinMgr := NewManager("device-joiner", 30*time.Second, 10*time.Minute, bus)

	initSession, err := initMgr.BeginInitiator("initiator-laptop", "linux")
	require.NoError(t, err)

	joinSession, req, err := joinMgr.BeginJoiner(initSession.PairingCode, "joiner-phone", "android")
	require.NoError(t, err)

	challenge, err := initMgr.HandlePairingRequest(req)
	require.NoError(t, err)

	response, err := joinMgr.HandleChallenge(joinSession.ID, challenge)
	require.NoError(t, err)

	response.ResponseHash[0] ^= 0xFF

	_, err = initMgr.HandleResponse(challenge.SessionID, response)
	require.Error(t, err)

	failed, err := initMgr.Get(challenge.SessionID)
	require.NoError(t, err)
	require.Equal(t, StateFailed, failed.State)
	require.Equal(t, "response hash mismatch", failed.FailReason)
}

func TestStaleChallengeIsRejected(t *testing.T) {
	bus := eventbus.New(4)
	initMgr := NewManager("device-initiator", 1*time.Millisecond, 10*time.Minute, bus)
	joinMgr := NewManager("device-joiner", 1*time.Millisecond, 10*time.Minute, bus)

	initSession, err := initMgr.BeginInitiator("initiator-laptop", "linux")
	require.NoError(t, err)

	joinSession, req, err := joinMgr.BeginJoiner(initSession.PairingCode, "joiner-phone", "android")
	require.NoError(t, err)

	challenge, err := initMgr.HandlePairingRequest(req)
	require.NoError(t, err)

	response, err := joinMgr.HandleChallenge(joinSession.ID, challenge)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = initMgr.HandleResponse(challenge.SessionID, response)
	require.Error(t, err)
	require.Contains(t, err.Error(), "challenge expired")
}

func TestWrongStateTransitionIsRejected(t *testing.T) {
	bus := eventbus.New(4)
	initMgr := NewManager("device-initiator", 30*time.Second, 10*time.Minute, bus)

	initSession, err := initMgr.BeginInitiator("initiator-laptop", "linux")
	require.NoError(t, err)

	// No PairingRequest has arrived yet, so a Response can't be valid.
	_, err = initMgr.HandleResponse(initSession.ID, wire.Response{SessionID: initSession.ID})
	require.Error(t, err)
}
