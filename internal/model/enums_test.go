package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionStatusTerminal(t *testing.T) {
	terminal := []ConnectionStatus{StatusDisconnected, StatusAuthFailed, StatusError, StatusLoggedOut}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}

	live := []ConnectionStatus{StatusUninitialized, StatusInitializing, StatusPairingReady, StatusAuthenticated, StatusConnected}
	for _, s := range live {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestConnectionStatusActive(t *testing.T) {
	assert.True(t, StatusConnected.Active())

	for _, s := range []ConnectionStatus{StatusInitializing, StatusPairingReady, StatusAuthenticated, StatusDisconnected} {
		assert.False(t, s.Active(), "%s should not be active", s)
	}
}

func TestPairingCodeExpired(t *testing.T) {
	now := time.Now()
	code := PairingCode{UserID: "user-1", Code: "ABCD-1234", ExpiresAt: now.Add(5 * time.Minute)}

	assert.False(t, code.Expired(now))
	assert.False(t, code.Expired(now.Add(5*time.Minute-time.Second)))
	assert.True(t, code.Expired(now.Add(5*time.Minute+time.Second)))
}

func TestRetentionStatusesExcludeInFlight(t *testing.T) {
	assert.ElementsMatch(t,
		[]MessageStatus{MessageStatusDelivered, MessageStatusRead, MessageStatusFailed},
		RetentionStatuses)
	assert.NotContains(t, RetentionStatuses, MessageStatusQueued)
	assert.NotContains(t, RetentionStatuses, MessageStatusReceived)
}
