package broker

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chatlink/bridge-server-go/internal/errors"
)

const testSecret = "test-secret-for-token-verification"

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestTokenVerifier(t *testing.T) {
	v := NewTokenVerifier(testSecret)

	t.Run("accepts token with userId claim", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{
			"userId": "u1",
			"exp":    time.Now().Add(time.Hour).Unix(),
		}, testSecret)

		userID, err := v.UserID(tok)
		require.NoError(t, err)
		assert.Equal(t, "u1", userID)
	})

	t.Run("falls back to subject claim", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{
			"sub": "u2",
			"exp": time.Now().Add(time.Hour).Unix(),
		}, testSecret)

		userID, err := v.UserID(tok)
		require.NoError(t, err)
		assert.Equal(t, "u2", userID)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{
			"userId": "u1",
			"exp":    time.Now().Add(-time.Minute).Unix(),
		}, testSecret)

		_, err := v.UserID(tok)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidToken, apperrors.GetCode(err))
	})

	t.Run("rejects token signed with another secret", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"userId": "u1"}, "some-other-secret")

		_, err := v.UserID(tok)
		assert.Error(t, err)
	})

	t.Run("rejects token without user identity", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}, testSecret)

		_, err := v.UserID(tok)
		assert.Error(t, err)
	})

	t.Run("rejects unsigned token", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"userId": "u1"})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = v.UserID(signed)
		assert.Error(t, err)
	})
}
