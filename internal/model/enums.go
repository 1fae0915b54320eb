package model

// ConnectionStatus is the single source of truth for the lifecycle of a
// user's chat-network session.
type ConnectionStatus string

const (
	StatusUninitialized ConnectionStatus = "uninitialized"
	StatusInitializing  ConnectionStatus = "initializing"
	StatusPairingReady  ConnectionStatus = "pairing_ready"
	StatusAuthenticated ConnectionStatus = "authenticated"
	StatusConnected     ConnectionStatus = "connected"
	StatusDisconnected  ConnectionStatus = "disconnected"
	StatusAuthFailed    ConnectionStatus = "auth_failed"
	StatusError         ConnectionStatus = "error"
	StatusLoggedOut     ConnectionStatus = "logged_out"
)

// Terminal reports whether the status ends a handle's lifecycle. A new
// create request may replace a handle in a terminal state.
func (s ConnectionStatus) Terminal() bool {
	switch s {
	case StatusDisconnected, StatusAuthFailed, StatusError, StatusLoggedOut:
		return true
	}
	return false
}

// Active reports whether the session can send messages. Only a fully
// connected session counts; intermediate readiness signals do not.
func (s ConnectionStatus) Active() bool {
	return s == StatusConnected
}

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusReceived  MessageStatus = "received"
	MessageStatusFailed    MessageStatus = "failed"
)

// RetentionStatuses are the terminal statuses eligible for retention
// cleanup. Records in any other status are kept regardless of age.
var RetentionStatuses = []MessageStatus{
	MessageStatusDelivered,
	MessageStatusRead,
	MessageStatusFailed,
}
