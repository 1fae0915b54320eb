// Package audit emits a dedicated log stream for security-relevant
// events, separate from request logging so it can be shipped and
// retained independently.
package audit

import (
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventAuthFailure       EventType = "auth_failure"
	EventSessionCreate     EventType = "session_create"
	EventSessionRestore    EventType = "session_restore"
	EventSessionDisconnect EventType = "session_disconnect"
	EventSessionLoggedOut  EventType = "session_logged_out"
)

// Log writes one audit entry. userID may be empty for failed
// authentication attempts.
func Log(event EventType, userID string, fields map[string]string) {
	var e *zerolog.Event
	if event == EventAuthFailure {
		e = log.Warn()
	} else {
		e = log.Info()
	}

	e = e.Str("audit", string(event))
	if userID != "" {
		e = e.Str("userId", userID)
	}
	for k, v := range fields {
		e = e.Str(k, v)
	}
	e.Msg("audit event")
}

// LogRequest is Log plus the request's remote address and path.
func LogRequest(event EventType, userID string, r *http.Request) {
	Log(event, userID, map[string]string{
		"remoteAddr": r.RemoteAddr,
		"path":       r.URL.Path,
	})
}
