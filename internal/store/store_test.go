package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chatlink/bridge-server-go/internal/errors"
	"github.com/chatlink/bridge-server-go/internal/model"
)

func testConfig() Config {
	return Config{
		SessionTTL: time.Hour,
		PairingTTL: 5 * time.Minute,
		StatusTTL:  time.Hour,
	}
}

// failingBackend simulates an unreachable redis instance.
type failingBackend struct{}

func (f *failingBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errors.New("dial tcp: connection refused")
}

func (f *failingBackend) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errors.New("dial tcp: connection refused")
}

func (f *failingBackend) Delete(ctx context.Context, key string) error {
	return errors.New("dial tcp: connection refused")
}

func TestStatusRoundTrip(t *testing.T) {
	ctx := context.Background()

	t.Run("memory backend", func(t *testing.T) {
		s := New(NewMemoryBackend(), testConfig())

		require.NoError(t, s.SaveStatus(ctx, "u1", model.StatusConnected))

		status, found, err := s.GetStatus(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, model.StatusConnected, status)
	})

	t.Run("fallback when backend unavailable", func(t *testing.T) {
		s := New(&failingBackend{}, testConfig())

		require.NoError(t, s.SaveStatus(ctx, "u1", model.StatusPairingReady))

		status, found, err := s.GetStatus(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, model.StatusPairingReady, status)
	})

	t.Run("missing status reads as not found", func(t *testing.T) {
		s := New(NewMemoryBackend(), testConfig())

		_, found, err := s.GetStatus(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), testConfig())

	connectedAt := time.Now().UTC().Truncate(time.Second)
	sess := &model.UserSession{
		UserID:      "u1",
		Status:      model.StatusConnected,
		Identity:    &model.Identity{AccountID: "15551234567", DisplayName: "Ada"},
		ConnectedAt: &connectedAt,
	}

	require.NoError(t, s.SaveSession(ctx, sess))

	got, err := s.GetSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, model.StatusConnected, got.Status)
	require.NotNil(t, got.Identity)
	assert.Equal(t, "15551234567", got.Identity.AccountID)

	require.NoError(t, s.DeleteSession(ctx, "u1"))

	got, err = s.GetSession(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPairingCodeLogicalExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("valid code is returned", func(t *testing.T) {
		s := New(NewMemoryBackend(), testConfig())

		code := &model.PairingCode{
			UserID:    "u1",
			Code:      "ABCD-2345",
			ExpiresAt: time.Now().Add(5 * time.Minute),
		}
		require.NoError(t, s.SavePairingCode(ctx, code))

		got, err := s.GetPairingCode(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "ABCD-2345", got.Code)
	})

	t.Run("code past ExpiresAt reads as absent even before backend eviction", func(t *testing.T) {
		s := New(NewMemoryBackend(), testConfig())

		code := &model.PairingCode{
			UserID:    "u1",
			Code:      "ABCD-2345",
			ExpiresAt: time.Now().Add(300 * time.Second),
		}
		require.NoError(t, s.SavePairingCode(ctx, code))

		// Advance the store's clock past the TTL; the memory backend
		// keeps its own clock, so the entry is still physically there.
		s.now = func() time.Time { return time.Now().Add(301 * time.Second) }

		got, err := s.GetPairingCode(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestMemoryBackendSweep(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	require.NoError(t, b.Set(ctx, "k", "v", time.Minute))

	b.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, found, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	// The expired entry was deleted on read.
	b.mu.Lock()
	_, stillThere := b.entries["k"]
	b.mu.Unlock()
	assert.False(t, stillThere)
}

func TestUnrecoverableWhenMemoryPrimaryFails(t *testing.T) {
	// A store built directly on the memory backend has no further
	// fallback; backend errors must surface as StoreUnavailable. The
	// memory backend itself never errors, so exercise the wiring with
	// the failing backend posing as primary without a fallback.
	s := &Store{backend: &failingBackend{}, cfg: testConfig(), now: time.Now}

	err := s.SaveStatus(context.Background(), "u1", model.StatusConnected)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeStoreUnavailable, apperrors.GetCode(err))
}
