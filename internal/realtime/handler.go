// AngelaMos | 2026
// handler.go

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/middleware"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxInboundMessage   = 4096
)

type HandlerConfig struct {
	Hub            *Hub
	Verifier       middleware.TokenVerifier
	Admins         middleware.AdminChecker
	AllowedOrigins []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	Logger         *slog.Logger
}

type Handler struct {
	hub          *Hub
	verifier     middleware.TokenVerifier
	admins       middleware.AdminChecker
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		hub:          cfg.Hub,
		verifier:     cfg.Verifier,
		admins:       cfg.Admins,
		pingInterval: cfg.PingInterval,
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger,
	}
	if h.pingInterval <= 0 {
		h.pingInterval = defaultPingInterval
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = defaultWriteTimeout
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}

	origins := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = struct{}{}
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := origins[origin]
			return ok
		},
	}

	return h
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/realtime", h.Subscribe)
}

// Subscribe upgrades to a websocket that streams the events of one topic.
// Browsers cannot set headers on websocket requests, so the access token
// may also arrive as the access_token query parameter.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	topic, err := ParseTopic(r.URL.Query().Get("topic"))
	if err != nil {
		core.BadRequest(w, err.Error())
		return
	}

	token := middleware.ExtractToken(r)
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		core.Unauthorized(w, "missing authorization token")
		return
	}

	claims, err := h.verifier.VerifyAccessToken(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrTokenExpired):
			core.JSONError(w, core.TokenExpiredError())
		case errors.Is(err, core.ErrTokenRevoked):
			core.JSONError(w, core.TokenRevokedError())
		default:
			core.JSONError(w, core.TokenInvalidError())
		}
		return
	}

	if err := h.authorize(r.Context(), claims.UserID, topic); err != nil {
		if errors.Is(err, core.ErrForbidden) {
			core.Forbidden(w, "topic belongs to another user")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := h.hub.Subscribe(ctx, topic.String())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		h.logger.Warn("websocket upgrade failed",
			"topic", topic.String(),
			"error", err,
		)
		return
	}

	h.logger.Debug("realtime subscriber connected",
		"topic", topic.String(),
		"user_id", claims.UserID,
	)

	go h.readPump(conn, cancel)
	h.writePump(ctx, conn, events)
}

func (h *Handler) authorize(ctx context.Context, userID string, topic Topic) error {
	if topic.Owner() == userID {
		return nil
	}

	if h.admins == nil {
		return core.ErrForbidden
	}

	isAdmin, err := h.admins.IsAdmin(ctx, userID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	if !isAdmin {
		return core.ErrForbidden
	}
	return nil
}

// readPump drains client frames so control messages are processed, and
// cancels the subscription once the peer goes away.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxInboundMessage)
	pongWait := h.pingInterval * 2
	//nolint:errcheck // deadline errors surface on the next read
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {
				h.logger.Debug("realtime read error", "error", err)
			}
			return
		}
	}
}

func (h *Handler) writePump(
	ctx context.Context,
	conn *websocket.Conn,
	events <-chan Event,
) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		//nolint:errcheck // connection is being torn down
		_ = conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			//nolint:errcheck // best-effort close frame
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.writeTimeout),
			)
			return

		case evt, ok := <-events:
			if !ok {
				return
			}
			//nolint:errcheck // write error below ends the pump
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Debug("realtime write failed", "error", err)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(
				websocket.PingMessage,
				nil,
				time.Now().Add(h.writeTimeout),
			); err != nil {
				return
			}
		}
	}
}
