package session

import (
	"context"
	"sync"
	"time"

	"github.com/chatlink/bridge-server-go/internal/chat"
	"github.com/chatlink/bridge-server-go/internal/model"
)

// handle is the live in-process representation of one user's chat
// connection. Its fields are mutated only by the owning goroutine and
// by Disconnect; the mutex covers the snapshot reads everyone else
// does.
type handle struct {
	userID string
	client chat.Client
	cancel context.CancelFunc

	mu          sync.Mutex
	status      model.ConnectionStatus
	pairingCode *model.PairingCode
	identity    *model.Identity
	connectedAt *time.Time
}

func newHandle(userID string, client chat.Client, cancel context.CancelFunc) *handle {
	return &handle{
		userID: userID,
		client: client,
		cancel: cancel,
		status: model.StatusInitializing,
	}
}

func (h *handle) Status() model.ConnectionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *handle) setStatus(status model.ConnectionStatus) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
}

func (h *handle) setPairingCode(code *model.PairingCode) {
	h.mu.Lock()
	h.pairingCode = code
	h.mu.Unlock()
}

func (h *handle) connect(identity *model.Identity, at time.Time) {
	h.mu.Lock()
	h.status = model.StatusConnected
	h.identity = identity
	h.connectedAt = &at
	h.pairingCode = nil
	h.mu.Unlock()
}

type handleSnapshot struct {
	status      model.ConnectionStatus
	pairingCode *model.PairingCode
	identity    *model.Identity
	connectedAt *time.Time
}

func (h *handle) snapshot() handleSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return handleSnapshot{
		status:      h.status,
		pairingCode: h.pairingCode,
		identity:    h.identity,
		connectedAt: h.connectedAt,
	}
}
