package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/psicoconnect/server-go/internal/audit"
	apperrors "github.com/psicoconnect/server-go/internal/errors"
	"github.com/psicoconnect/server-go/internal/httputil"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Handler upgrades authenticated requests to websocket connections. The token
// travels in the "token" query parameter because browsers cannot set headers
// on a websocket handshake.
type Handler struct {
	hub      *Hub
	tokens   TokenVerifier
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, tokens TokenVerifier, allowedOrigin string) *Handler {
	return &Handler{
		hub:    hub,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.refuse(w, r, apperrors.NoToken())
		return
	}
	userID, err := h.tokens.Verify(token)
	if err != nil {
		h.refuse(w, r, apperrors.InvalidToken().WithCause(err))
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Warn().Err(err).Str("userId", userID).Msg("websocket upgrade failed")
		return
	}

	// Request timeouts must not cut the socket; the pumps decide its lifetime.
	ctx := context.WithoutCancel(r.Context())
	c := h.hub.Connect(ctx, userID)
	log.Info().Str("userId", userID).Str("connId", c.ID).Msg("realtime client connected")

	go writePump(ws, c)
	h.readPump(ctx, ws, c)

	h.hub.Disconnect(ctx, c)
	ws.Close()
	log.Info().Str("userId", userID).Str("connId", c.ID).
		Int("remainingConnections", h.hub.UserConnectionCount(userID)).
		Msg("realtime client disconnected")
}

func (h *Handler) refuse(w http.ResponseWriter, r *http.Request, err *apperrors.AppError) {
	h.hub.recorder.RecordHandshakeFailure()
	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventSocketAuthFailure,
		Details: map[string]any{"code": string(err.Code)},
	})
	httputil.WriteError(w, err)
}

func (h *Handler) readPump(ctx context.Context, ws *websocket.Conn, c *Conn) {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("connId", c.ID).Msg("websocket read ended")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.hub.HandleClientMessage(ctx, c, data)
	}
}

// writePump is the only writer on ws, which keeps per-connection order.
func writePump(ws *websocket.Conn, c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("connId", c.ID).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
