package audit

import (
	"context"
	"net"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventRegister          EventType = "register"
	EventLoginSuccess      EventType = "login_success"
	EventLoginFailure      EventType = "login_failure"
	EventPasswordChange    EventType = "password_change"
	EventPasswordFailure   EventType = "password_change_failure"
	EventAccountDeactivate EventType = "account_deactivate"
	EventAuthFailure       EventType = "auth_failure"
	EventSocketAuthFailure EventType = "socket_auth_failure"
)

type Event struct {
	Type      EventType
	UserID    string
	Email     string
	IP        string
	UserAgent string
	RequestID string
	Details   map[string]any
}

func Log(ctx context.Context, event Event) {
	logCtx := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now())

	if event.UserID != "" {
		logCtx = logCtx.Str("user_id", event.UserID)
	}
	if event.Email != "" {
		logCtx = logCtx.Str("email", event.Email)
	}
	if event.IP != "" {
		logCtx = logCtx.Str("ip", event.IP)
	}
	if event.UserAgent != "" {
		logCtx = logCtx.Str("user_agent", event.UserAgent)
	}
	if event.RequestID != "" {
		logCtx = logCtx.Str("request_id", event.RequestID)
	}
	l := logCtx.Logger()

	logEvent := l.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

// LogFromRequest fills client details from r. RemoteAddr is trusted as the
// client address; chi's RealIP middleware resolves proxy headers before it.
func LogFromRequest(r *http.Request, event Event) {
	event.IP = clientIP(r)
	event.UserAgent = r.UserAgent()
	event.RequestID = chimiddleware.GetReqID(r.Context())
	Log(r.Context(), event)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
