// Package store persists session state, pairing codes and connection
// statuses in a TTL key/value backend. A shared redis instance is used
// when configured; otherwise, and whenever redis I/O fails, a
// process-local in-memory map takes over transparently.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/chatlink/bridge-server-go/internal/errors"
	"github.com/chatlink/bridge-server-go/internal/model"
)

type Config struct {
	SessionTTL time.Duration
	PairingTTL time.Duration
	StatusTTL  time.Duration
}

type Store struct {
	backend Backend
	// fallback serves calls when the primary backend errors. It is nil
	// when the primary is already the in-memory backend.
	fallback *MemoryBackend
	cfg      Config
	now      func() time.Time
}

// New selects the backend exactly once. Writes that succeed against
// redis are mirrored into the fallback so a later redis outage can
// still serve reads for this process's own sessions.
func New(backend Backend, cfg Config) *Store {
	s := &Store{backend: backend, cfg: cfg, now: time.Now}
	if _, ok := backend.(*MemoryBackend); !ok {
		s.fallback = NewMemoryBackend()
	}
	return s
}

func sessionKey(userID string) string { return "chat_session:" + userID }
func pairingKey(userID string) string { return "chat_pairing:" + userID }
func statusKey(userID string) string  { return "chat_status:" + userID }

func (s *Store) set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := s.backend.Set(ctx, key, value, ttl)
	if err == nil {
		if s.fallback != nil {
			_ = s.fallback.Set(ctx, key, value, ttl)
		}
		return nil
	}
	if s.fallback == nil {
		return apperrors.StoreUnavailable(err)
	}
	log.Warn().Err(err).Str("key", key).Msg("store backend write failed, using in-memory fallback")
	return s.fallback.Set(ctx, key, value, ttl)
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	val, found, err := s.backend.Get(ctx, key)
	if err == nil {
		return val, found, nil
	}
	if s.fallback == nil {
		return "", false, apperrors.StoreUnavailable(err)
	}
	log.Warn().Err(err).Str("key", key).Msg("store backend read failed, using in-memory fallback")
	return s.fallback.Get(ctx, key)
}

func (s *Store) delete(ctx context.Context, key string) error {
	err := s.backend.Delete(ctx, key)
	if s.fallback != nil {
		_ = s.fallback.Delete(ctx, key)
	}
	if err == nil {
		return nil
	}
	if s.fallback == nil {
		return apperrors.StoreUnavailable(err)
	}
	log.Warn().Err(err).Str("key", key).Msg("store backend delete failed, entry removed from fallback only")
	return nil
}

func (s *Store) SaveSession(ctx context.Context, sess *model.UserSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return apperrors.Internal("failed to encode session").WithCause(err)
	}
	return s.set(ctx, sessionKey(sess.UserID), string(data), s.cfg.SessionTTL)
}

func (s *Store) GetSession(ctx context.Context, userID string) (*model.UserSession, error) {
	val, found, err := s.get(ctx, sessionKey(userID))
	if err != nil || !found {
		return nil, err
	}
	var sess model.UserSession
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, apperrors.Internal("failed to decode session").WithCause(err)
	}
	return &sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, userID string) error {
	return s.delete(ctx, sessionKey(userID))
}

func (s *Store) SavePairingCode(ctx context.Context, code *model.PairingCode) error {
	data, err := json.Marshal(code)
	if err != nil {
		return apperrors.Internal("failed to encode pairing code").WithCause(err)
	}
	return s.set(ctx, pairingKey(code.UserID), string(data), s.cfg.PairingTTL)
}

// GetPairingCode applies the logical expiry check in addition to the
// backend TTL: a code past ExpiresAt reads as absent even if the
// backend has not evicted it yet.
func (s *Store) GetPairingCode(ctx context.Context, userID string) (*model.PairingCode, error) {
	val, found, err := s.get(ctx, pairingKey(userID))
	if err != nil || !found {
		return nil, err
	}
	var code model.PairingCode
	if err := json.Unmarshal([]byte(val), &code); err != nil {
		return nil, apperrors.Internal("failed to decode pairing code").WithCause(err)
	}
	if code.Expired(s.now()) {
		_ = s.delete(ctx, pairingKey(userID))
		return nil, nil
	}
	return &code, nil
}

func (s *Store) DeletePairingCode(ctx context.Context, userID string) error {
	return s.delete(ctx, pairingKey(userID))
}

func (s *Store) SaveStatus(ctx context.Context, userID string, status model.ConnectionStatus) error {
	return s.set(ctx, statusKey(userID), string(status), s.cfg.StatusTTL)
}

func (s *Store) GetStatus(ctx context.Context, userID string) (model.ConnectionStatus, bool, error) {
	val, found, err := s.get(ctx, statusKey(userID))
	if err != nil || !found {
		return "", false, err
	}
	return model.ConnectionStatus(val), true, nil
}
