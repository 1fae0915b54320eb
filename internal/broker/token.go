package broker

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/chatlink/bridge-server-go/internal/errors"
)

// TokenVerifier validates the credential handshake a subscriber must
// complete before being bound to a user channel.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// UserID decodes and validates a handshake token, returning the user it
// identifies. The user id is read from the "userId" claim, falling back
// to the standard subject claim.
func (v *TokenVerifier) UserID(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", apperrors.InvalidToken("Token is invalid or expired").WithCause(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", apperrors.InvalidToken("Unexpected token claims")
	}

	if userID, ok := claims["userId"].(string); ok && userID != "" {
		return userID, nil
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", apperrors.InvalidToken("Token carries no user identity")
	}
	return sub, nil
}
