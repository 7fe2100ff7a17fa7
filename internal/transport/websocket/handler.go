package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/domain"
	"github.com/iamasit07/mydrop-auth/internal/service/kick"
	"github.com/iamasit07/mydrop-auth/internal/service/session"
	"github.com/iamasit07/mydrop-auth/pkg/httputil"
	"github.com/iamasit07/mydrop-auth/pkg/uid"
)

const (
	messageInit = "init"
	messagePing = "ping"

	initWait = 10 * time.Second
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*session.Identity, error)
}

// Handler serves the per-device push channel.
type Handler struct {
	Sessions Authenticator
	Registry *kick.Registry
	Cookies  httputil.CookieSettings
	Upgrader websocket.Upgrader
	Logger   *zap.Logger
}

func NewHandler(sessions Authenticator, registry *kick.Registry, cookies httputil.CookieSettings, allowedOrigins []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Sessions: sessions,
		Registry: registry,
		Cookies:  cookies,
		Upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		Logger: logger,
	}
}

// originChecker accepts same-host origins and the configured ones.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Info("ws.upgrade.failed", zap.Error(err))
		return
	}

	// a token on the upgrade request saves the init round trip
	token, _ := httputil.GetTokenFromRequest(r, h.Cookies)
	h.handleConnection(r.Context(), NewClient(conn), token)
}

func (h *Handler) handleConnection(ctx context.Context, client *Client, token string) {
	conn := client.conn
	defer client.Close()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var id *session.Identity
	if token != "" {
		id, _ = h.Sessions.Authenticate(ctx, token)
	}
	if id == nil {
		var err error
		id, err = h.awaitInit(ctx, conn)
		if err != nil {
			h.Logger.Info("ws.init.rejected", zap.Error(err))
			_ = client.Notify(domain.ServerMessage{Type: domain.MessageError, Message: domain.ErrInvalidToken.Error()})
			return
		}
	}

	connID := uid.NewConnectionID()
	h.Registry.Register(connID, id.Token, id.Device.DeviceID, id.User.ID, client)
	defer h.Registry.Unregister(connID, client)
	go client.keepAlive()

	log := h.Logger.With(
		zap.String("conn_id", connID),
		zap.Int64("user_id", id.User.ID),
		zap.String("device_id", id.Device.DeviceID),
	)
	log.Info("ws.connected")
	defer log.Info("ws.disconnected")

	if err := client.Notify(domain.ServerMessage{Type: domain.MessageReady}); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info("ws.read.closed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg domain.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = client.Notify(domain.ServerMessage{Type: domain.MessageError, Message: "invalid message"})
			continue
		}

		// Every message re-checks the session so a revoked device or a stale
		// token version drops the channel even if a kick was missed.
		current := id.Token
		if msg.Token != "" {
			current = msg.Token
		}
		next, err := h.Sessions.Authenticate(ctx, current)
		// A connection stays bound to the device it registered under.
		if err != nil || next.User.ID != id.User.ID || next.Device.DeviceID != id.Device.DeviceID {
			log.Info("ws.session.invalid", zap.Error(err))
			_ = client.Notify(domain.ServerMessage{
				Type:    domain.MessageForceLogout,
				Message: domain.ErrInvalidToken.Error(),
				Time:    time.Now().UnixMilli(),
			})
			return
		}
		if next.Token != id.Token {
			h.Registry.Rebind(connID, next.Token)
		}
		id = next

		switch msg.Type {
		case messagePing:
			if err := client.Notify(domain.ServerMessage{Type: domain.MessagePong, Time: time.Now().UnixMilli()}); err != nil {
				return
			}
		case messageInit:
			_ = client.Notify(domain.ServerMessage{Type: domain.MessageReady})
		}
	}
}

// awaitInit reads the first frame, which must be {"type":"init","token":...}.
func (h *Handler) awaitInit(ctx context.Context, conn *websocket.Conn) (*session.Identity, error) {
	_ = conn.SetReadDeadline(time.Now().Add(initWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg domain.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != messageInit || msg.Token == "" {
		return nil, domain.ErrInvalidToken
	}
	return h.Sessions.Authenticate(ctx, msg.Token)
}
