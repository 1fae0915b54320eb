// Package session owns the registry of live per-user chat connection
// handles and their lifecycle state machine. Each handle runs as one
// goroutine supervised by the manager; a handle's failures become
// status transitions, never process faults.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatlink/bridge-server-go/internal/audit"
	"github.com/chatlink/bridge-server-go/internal/broker"
	"github.com/chatlink/bridge-server-go/internal/chat"
	apperrors "github.com/chatlink/bridge-server-go/internal/errors"
	"github.com/chatlink/bridge-server-go/internal/model"
	"github.com/chatlink/bridge-server-go/internal/store"
)

type Config struct {
	PairingTTL time.Duration
}

// Status is the caller-facing view of one user's connection.
type Status struct {
	UserID      string                 `json:"userId"`
	Status      model.ConnectionStatus `json:"status"`
	HasSession  bool                   `json:"hasSession"`
	Connected   bool                   `json:"connected"`
	PairingCode string                 `json:"pairingCode,omitempty"`
	Identity    *model.Identity        `json:"identity,omitempty"`
	ConnectedAt *time.Time             `json:"connectedAt,omitempty"`
}

// CreateResult acknowledges a create or restore request. Existing is
// set when a non-terminal handle was already present and the request
// returned its current state instead of starting a second bring-up.
type CreateResult struct {
	UserID   string                 `json:"userId"`
	Status   model.ConnectionStatus `json:"status"`
	Existing bool                   `json:"existing"`
}

// InboundHandler receives messages raised by a user's live handle. It
// runs on the handle's goroutine, so per-user ordering is preserved.
type InboundHandler func(ctx context.Context, userID string, msg chat.IncomingMessage)

type Manager struct {
	mu      sync.Mutex
	handles map[string]*handle

	store   *store.Store
	broker  *broker.Broker
	factory chat.Factory
	cfg     Config

	inbound InboundHandler
}

func NewManager(st *store.Store, b *broker.Broker, factory chat.Factory, cfg Config) *Manager {
	return &Manager{
		handles: make(map[string]*handle),
		store:   st,
		broker:  b,
		factory: factory,
		cfg:     cfg,
	}
}

// SetInboundHandler wires the consumer of incoming messages. It must be
// called before any session is created.
func (m *Manager) SetInboundHandler(h InboundHandler) {
	m.inbound = h
}

// Create starts a fresh session for userID. If a non-terminal handle
// already exists the call returns its current status and starts
// nothing. Bring-up runs in the background; the caller polls Status or
// watches broadcast events for progress.
func (m *Manager) Create(ctx context.Context, userID string) (*CreateResult, error) {
	return m.start(ctx, userID, false)
}

// Restore resumes a persisted session without generating a new pairing
// code. When nothing is persisted it behaves exactly like Create.
func (m *Manager) Restore(ctx context.Context, userID string) (*CreateResult, error) {
	persisted, err := m.store.GetSession(ctx, userID)
	if err != nil {
		// Store trouble never blocks a restore; it degrades to a fresh create.
		log.Warn().Err(err).Str("userId", userID).Msg("failed to read persisted session, treating as fresh create")
	}
	if persisted == nil {
		log.Info().Str("userId", userID).Msg("no persisted session, creating fresh")
	}
	return m.start(ctx, userID, persisted != nil)
}

func (m *Manager) start(ctx context.Context, userID string, resume bool) (*CreateResult, error) {
	m.mu.Lock()
	if existing, ok := m.handles[userID]; ok {
		status := existing.Status()
		if !status.Terminal() {
			m.mu.Unlock()
			log.Info().
				Str("userId", userID).
				Str("status", string(status)).
				Msg("session already exists, returning current status")
			return &CreateResult{UserID: userID, Status: status, Existing: true}, nil
		}
		// A terminal handle is replaced; make sure its resources are gone.
		delete(m.handles, userID)
		existing.cancel()
	}

	client, err := m.factory(userID, resume)
	if err != nil {
		m.mu.Unlock()
		return nil, apperrors.Internal("failed to allocate chat client").WithCause(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := newHandle(userID, client, cancel)
	m.handles[userID] = h
	m.mu.Unlock()

	m.persistStatus(ctx, userID, model.StatusInitializing)
	m.broadcastStatus(userID, model.StatusInitializing, "")

	log.Info().Str("userId", userID).Bool("resume", resume).Msg("session bring-up started")
	go m.run(runCtx, h)

	return &CreateResult{UserID: userID, Status: model.StatusInitializing}, nil
}

// run is the per-user unit of concurrency: it drives bring-up and then
// pumps client events until a terminal signal, cancellation, or stream
// close. Panics inside the handle are converted to an error status so
// one user's crash never takes down the manager.
func (m *Manager) run(ctx context.Context, h *handle) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("userId", h.userID).
				Interface("panic", r).
				Msg("session handle panicked")
			m.fail(h, fmt.Sprintf("session handle panicked: %v", r))
		}
	}()

	if err := h.client.Initialize(ctx); err != nil {
		if ctx.Err() != nil {
			// Bring-up was cancelled by Disconnect; it already cleaned up.
			return
		}
		log.Error().Err(err).Str("userId", h.userID).Msg("chat client initialization failed")
		m.fail(h, err.Error())
		return
	}

	// Pairing is bounded only by the code's TTL: if the code expires
	// before it is scanned, the handle ends with a pairing timeout
	// instead of waiting forever.
	var pairingTimer *time.Timer
	var pairingExpiry <-chan time.Time
	defer func() {
		if pairingTimer != nil {
			pairingTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pairingExpiry:
			if h.Status() == model.StatusPairingReady {
				m.expirePairing(ctx, h)
				return
			}
			pairingExpiry = nil
		case ev, ok := <-h.client.Events():
			if !ok {
				// Stream ended without a terminal signal.
				if !h.Status().Terminal() {
					m.finish(h, model.StatusDisconnected, "event stream closed")
				}
				return
			}
			if terminal := m.dispatch(ctx, h, ev); terminal {
				return
			}
			switch ev.Kind {
			case chat.EventPairingCode:
				if pairingTimer != nil {
					pairingTimer.Stop()
				}
				pairingTimer = time.NewTimer(m.cfg.PairingTTL)
				pairingExpiry = pairingTimer.C
			case chat.EventAuthenticated, chat.EventReady:
				if pairingTimer != nil {
					pairingTimer.Stop()
					pairingTimer = nil
					pairingExpiry = nil
				}
			}
		}
	}
}

// expirePairing ends a handle whose pairing code ran out unscanned. The
// user has to restart pairing with a fresh create.
func (m *Manager) expirePairing(ctx context.Context, h *handle) {
	if err := m.store.DeletePairingCode(ctx, h.userID); err != nil {
		log.Warn().Err(err).Str("userId", h.userID).Msg("failed to delete expired pairing code")
	}
	timeoutErr := apperrors.PairingTimeout()
	m.broker.Publish(h.userID, broker.NewEvent(broker.EventErrorOccurred, map[string]any{
		"code":    string(timeoutErr.Code),
		"message": timeoutErr.Message,
	}))
	m.finish(h, model.StatusDisconnected, timeoutErr.Message)
}

// dispatch applies one client event to the state machine and reports
// whether it ended the handle's lifecycle. The switch is exhaustive
// over chat.EventKind.
func (m *Manager) dispatch(ctx context.Context, h *handle, ev chat.Event) bool {
	switch ev.Kind {
	case chat.EventPairingCode:
		code := &model.PairingCode{
			UserID:    h.userID,
			Code:      ev.Code,
			ExpiresAt: time.Now().Add(m.cfg.PairingTTL),
		}
		h.setPairingCode(code)
		h.setStatus(model.StatusPairingReady)
		if err := m.store.SavePairingCode(ctx, code); err != nil {
			log.Warn().Err(err).Str("userId", h.userID).Msg("failed to persist pairing code")
		}
		m.persistStatus(ctx, h.userID, model.StatusPairingReady)
		m.broker.Publish(h.userID, broker.NewEvent(broker.EventPairingCodeReady, map[string]any{
			"code":      code.Code,
			"expiresAt": code.ExpiresAt,
		}))
		m.broadcastStatus(h.userID, model.StatusPairingReady, "")
		log.Info().Str("userId", h.userID).Time("expiresAt", code.ExpiresAt).Msg("pairing code ready")
		return false

	case chat.EventAuthenticated:
		h.setStatus(model.StatusAuthenticated)
		m.persistStatus(ctx, h.userID, model.StatusAuthenticated)
		m.broadcastStatus(h.userID, model.StatusAuthenticated, "")
		return false

	case chat.EventReady:
		now := time.Now()
		var identity *model.Identity
		if id, ok := h.client.Identity(); ok {
			identity = &model.Identity{AccountID: id.AccountID, DisplayName: id.DisplayName}
		}
		h.connect(identity, now)

		sess := &model.UserSession{
			UserID:      h.userID,
			Status:      model.StatusConnected,
			Identity:    identity,
			ConnectedAt: &now,
		}
		if err := m.store.SaveSession(ctx, sess); err != nil {
			log.Warn().Err(err).Str("userId", h.userID).Msg("failed to persist session")
		}
		if err := m.store.DeletePairingCode(ctx, h.userID); err != nil {
			log.Warn().Err(err).Str("userId", h.userID).Msg("failed to delete pairing code")
		}
		m.persistStatus(ctx, h.userID, model.StatusConnected)
		m.broadcastStatus(h.userID, model.StatusConnected, "")
		log.Info().Str("userId", h.userID).Msg("session connected")
		return false

	case chat.EventMessage:
		if ev.Message != nil && m.inbound != nil {
			m.inbound(ctx, h.userID, *ev.Message)
		}
		return false

	case chat.EventDisconnected:
		m.finish(h, model.StatusDisconnected, ev.Reason)
		return true

	case chat.EventAuthFailure:
		m.broker.Publish(h.userID, broker.NewEvent(broker.EventErrorOccurred, map[string]any{
			"code":    string(apperrors.ErrCodeAuthFailure),
			"message": ev.Reason,
		}))
		m.finish(h, model.StatusAuthFailed, ev.Reason)
		return true

	case chat.EventError:
		msg := "unknown client error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		m.fail(h, msg)
		return true

	case chat.EventLoggedOut:
		if err := m.store.DeleteSession(ctx, h.userID); err != nil {
			log.Warn().Err(err).Str("userId", h.userID).Msg("failed to delete persisted session")
		}
		audit.Log(audit.EventSessionLoggedOut, h.userID, nil)
		m.finish(h, model.StatusLoggedOut, "")
		return true
	}

	log.Warn().Str("userId", h.userID).Str("kind", ev.Kind.String()).Msg("unhandled chat event kind")
	return false
}

// finish records a terminal status and releases the handle.
func (m *Manager) finish(h *handle, status model.ConnectionStatus, reason string) {
	h.setStatus(status)
	m.persistStatus(context.Background(), h.userID, status)
	m.broadcastStatus(h.userID, status, reason)
	m.release(h)
	log.Info().
		Str("userId", h.userID).
		Str("status", string(status)).
		Str("reason", reason).
		Msg("session ended")
}

// fail is finish plus an errorOccurred broadcast.
func (m *Manager) fail(h *handle, message string) {
	h.setStatus(model.StatusError)
	m.persistStatus(context.Background(), h.userID, model.StatusError)
	m.broker.Publish(h.userID, broker.NewEvent(broker.EventErrorOccurred, map[string]any{
		"message": message,
	}))
	m.broadcastStatus(h.userID, model.StatusError, message)
	m.release(h)
	log.Error().Str("userId", h.userID).Str("error", message).Msg("session failed")
}

// release removes the handle from the registry (if it is still the
// registered one) and tears down its client.
func (m *Manager) release(h *handle) {
	m.mu.Lock()
	if current, ok := m.handles[h.userID]; ok && current == h {
		delete(m.handles, h.userID)
	}
	m.mu.Unlock()

	h.cancel()
	if err := h.client.Destroy(); err != nil {
		log.Debug().Err(err).Str("userId", h.userID).Msg("client destroy failed")
	}
}

// Disconnect tears down the user's handle, cancelling any in-flight
// bring-up, and clears every store entry for the user. It is
// idempotent: with no live handle it still reports disconnected.
func (m *Manager) Disconnect(ctx context.Context, userID string) (*Status, error) {
	m.mu.Lock()
	h, hadHandle := m.handles[userID]
	if hadHandle {
		delete(m.handles, userID)
	}
	m.mu.Unlock()

	if hadHandle {
		h.cancel()
		if err := h.client.Destroy(); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("client destroy failed during disconnect")
		}
	}

	if err := m.store.DeleteSession(ctx, userID); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to delete persisted session")
	}
	if err := m.store.DeletePairingCode(ctx, userID); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to delete pairing code")
	}
	m.persistStatus(ctx, userID, model.StatusDisconnected)

	if hadHandle {
		m.broadcastStatus(userID, model.StatusDisconnected, "disconnect requested")
		log.Info().Str("userId", userID).Msg("session disconnected")
	}

	return &Status{
		UserID: userID,
		Status: model.StatusDisconnected,
	}, nil
}

// Status reports the connection state, preferring the live registry and
// falling back to the store for cross-restart visibility. A session is
// only ever reported connected when this process owns its live handle.
func (m *Manager) Status(ctx context.Context, userID string) (*Status, error) {
	m.mu.Lock()
	h, ok := m.handles[userID]
	m.mu.Unlock()

	if ok {
		snap := h.snapshot()
		result := &Status{
			UserID:      userID,
			Status:      snap.status,
			HasSession:  true,
			Connected:   snap.status.Active(),
			Identity:    snap.identity,
			ConnectedAt: snap.connectedAt,
		}
		if snap.pairingCode != nil && !snap.pairingCode.Expired(time.Now()) {
			result.PairingCode = snap.pairingCode.Code
		}
		return result, nil
	}

	persisted, err := m.store.GetSession(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to read persisted session")
	}

	status := model.StatusUninitialized
	if stored, found, err := m.store.GetStatus(ctx, userID); err == nil && found {
		status = stored
	} else if persisted != nil {
		status = persisted.Status
	}

	result := &Status{
		UserID:     userID,
		Status:     status,
		HasSession: persisted != nil,
	}
	if persisted != nil {
		result.Identity = persisted.Identity
	}

	if code, err := m.store.GetPairingCode(ctx, userID); err == nil && code != nil {
		result.PairingCode = code.Code
	}

	return result, nil
}

// Send delivers one outbound message through the user's live handle.
// The session must be connected; intermediate bring-up states reject
// the send.
func (m *Manager) Send(ctx context.Context, userID, target, text string) (chat.Receipt, error) {
	m.mu.Lock()
	h, ok := m.handles[userID]
	m.mu.Unlock()

	if !ok || !h.Status().Active() {
		return chat.Receipt{}, apperrors.SessionNotActive()
	}

	receipt, err := h.client.SendMessage(ctx, target, text)
	if err != nil {
		if _, isApp := apperrors.AsAppError(err); isApp {
			return chat.Receipt{}, err
		}
		return chat.Receipt{}, apperrors.SendFailure(err)
	}
	return receipt, nil
}

// Close tears down every live handle. Used at process shutdown; store
// entries are left in place so sessions can be restored on restart.
func (m *Manager) Close() {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.handles = make(map[string]*handle)
	m.mu.Unlock()

	for _, h := range handles {
		h.cancel()
		if err := h.client.Destroy(); err != nil {
			log.Debug().Err(err).Str("userId", h.userID).Msg("client destroy failed during shutdown")
		}
	}

	if len(handles) > 0 {
		log.Info().Int("count", len(handles)).Msg("live session handles released")
	}
}

func (m *Manager) persistStatus(ctx context.Context, userID string, status model.ConnectionStatus) {
	if err := m.store.SaveStatus(ctx, userID, status); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to persist connection status")
	}
}

func (m *Manager) broadcastStatus(userID string, status model.ConnectionStatus, reason string) {
	data := map[string]any{"status": status}
	if reason != "" {
		data["reason"] = reason
	}
	m.broker.Publish(userID, broker.NewEvent(broker.EventStatusChange, data))
}
