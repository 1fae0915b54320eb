// Package chat defines the capability surface of the remote
// chat-network automation client. The session manager consumes this
// interface only; the transport behind it is an implementation detail.
package chat

import (
	"context"
	"time"
)

// EventKind enumerates every signal the remote client can raise. Event
// is a closed variant: adding a kind here forces the dispatch switch in
// the session package to handle it.
type EventKind int

const (
	EventPairingCode EventKind = iota
	EventAuthenticated
	EventReady
	EventMessage
	EventDisconnected
	EventAuthFailure
	EventError
	EventLoggedOut
)

func (k EventKind) String() string {
	switch k {
	case EventPairingCode:
		return "pairing_code"
	case EventAuthenticated:
		return "authenticated"
	case EventReady:
		return "ready"
	case EventMessage:
		return "message"
	case EventDisconnected:
		return "disconnected"
	case EventAuthFailure:
		return "auth_failure"
	case EventError:
		return "error"
	case EventLoggedOut:
		return "logged_out"
	}
	return "unknown"
}

// Event carries one client signal. Exactly one payload field is
// meaningful per kind: Code for EventPairingCode, Message for
// EventMessage, Reason for EventDisconnected/EventAuthFailure and Err
// for EventError.
type Event struct {
	Kind    EventKind
	Code    string
	Message *IncomingMessage
	Reason  string
	Err     error
}

type IncomingMessage struct {
	ProviderMessageID string
	FromAddress       string
	FromName          string
	Text              string
	ReceivedAt        time.Time
}

// Identity describes the remote account once the client is connected.
type Identity struct {
	AccountID   string
	DisplayName string
}

// Receipt is the provider's acknowledgement of an outbound send.
type Receipt struct {
	ProviderMessageID string
	Status            string
}

// Client is one user's automated connection to the chat network.
//
// Initialize starts bring-up and returns once the event stream is
// established; pairing and connection progress arrive on Events.
// The channel is closed when the client shuts down.
type Client interface {
	Initialize(ctx context.Context) error
	Events() <-chan Event
	SendMessage(ctx context.Context, target, text string) (Receipt, error)
	Identity() (Identity, bool)
	Destroy() error
}

// Factory builds a client for one user's session. resume is true when a
// persisted session exists and the client should reattach to stored
// credentials instead of starting a fresh pairing.
type Factory func(userID string, resume bool) (Client, error)
