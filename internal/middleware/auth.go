package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/chatlink/bridge-server-go/internal/audit"
	"github.com/chatlink/bridge-server-go/internal/broker"
	apperrors "github.com/chatlink/bridge-server-go/internal/errors"
	"github.com/chatlink/bridge-server-go/internal/httputil"
)

type contextKey string

const UserContextKey contextKey = "userId"

// GetUserID returns the authenticated user id, or "" when the request
// never passed the auth middleware.
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserContextKey).(string); ok {
		return userID
	}
	return ""
}

type AuthMiddleware struct {
	verifier *broker.TokenVerifier
}

func NewAuthMiddleware(verifier *broker.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		userID, err := m.verifier.UserID(token)
		if err != nil {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("auth middleware: token rejected")
			audit.LogRequest(audit.EventAuthFailure, "", r)
			httputil.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads the bearer token from the Authorization header or,
// for EventSource clients that cannot set headers, a token query
// parameter.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return r.URL.Query().Get("token")
}
