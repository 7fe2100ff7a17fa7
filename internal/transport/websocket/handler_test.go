package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamasit07/mydrop-auth/internal/domain"
	"github.com/iamasit07/mydrop-auth/internal/repository/memory"
	"github.com/iamasit07/mydrop-auth/internal/service/kick"
	"github.com/iamasit07/mydrop-auth/internal/service/session"
	"github.com/iamasit07/mydrop-auth/pkg/auth"
	"github.com/iamasit07/mydrop-auth/pkg/httputil"
)

type fixture struct {
	server   *httptest.Server
	registry *kick.Registry
	devices  *memory.DeviceRepo
	sessions *session.Service
	user     *domain.User
	token    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := memory.NewUserRepo()
	devices := memory.NewDeviceRepo()
	tokens, err := auth.NewTokenIssuer("test-secret")
	require.NoError(t, err)
	sessions := session.NewService(users, devices, tokens, session.Options{TempTTL: 10 * time.Minute})

	user, err := users.CreateUser(context.Background(), "alice", "hash", false)
	require.NoError(t, err)
	issued, err := sessions.IssueLogin(context.Background(), user, domain.DeviceUpsert{DeviceID: "laptop"}, false)
	require.NoError(t, err)

	registry := kick.NewRegistry(nil)
	h := NewHandler(sessions, registry, httputil.CookieSettings{}, nil, nil)
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	return &fixture{server: server, registry: registry, devices: devices, sessions: sessions, user: user, token: issued.Token}
}

func (f *fixture) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) domain.ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg domain.ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func (f *fixture) waitRegistered(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.registry.Len() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestCookieAuthAndPing(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, http.Header{"Cookie": {"token=" + f.token}})

	assert.Equal(t, domain.MessageReady, readMessage(t, conn).Type)
	f.waitRegistered(t, 1)

	require.NoError(t, conn.WriteJSON(domain.ClientMessage{Type: "ping"}))
	pong := readMessage(t, conn)
	assert.Equal(t, domain.MessagePong, pong.Type)
	assert.NotZero(t, pong.Time)
}

func TestInitMessageAuth(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, nil)

	require.NoError(t, conn.WriteJSON(domain.ClientMessage{Type: "init", Token: f.token}))
	assert.Equal(t, domain.MessageReady, readMessage(t, conn).Type)
	f.waitRegistered(t, 1)
}

func TestInvalidInitIsRejected(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, nil)

	require.NoError(t, conn.WriteJSON(domain.ClientMessage{Type: "init", Token: "garbage"}))
	assert.Equal(t, domain.MessageError, readMessage(t, conn).Type)

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, f.registry.Len())
}

func TestKickDeviceClosesConnection(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, http.Header{"Authorization": {"Bearer " + f.token}})
	assert.Equal(t, domain.MessageReady, readMessage(t, conn).Type)
	f.waitRegistered(t, 1)

	assert.Equal(t, 1, f.registry.KickDevice("laptop", "device deleted"))

	msg := readMessage(t, conn)
	assert.Equal(t, domain.MessageForceLogout, msg.Type)
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	f.waitRegistered(t, 0)
}

func TestRevokedDeviceIsDroppedOnNextMessage(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, http.Header{"Cookie": {"token=" + f.token}})
	assert.Equal(t, domain.MessageReady, readMessage(t, conn).Type)
	f.waitRegistered(t, 1)

	removed, err := f.devices.DeleteDevice(context.Background(), "laptop")
	require.NoError(t, err)
	require.True(t, removed)

	require.NoError(t, conn.WriteJSON(domain.ClientMessage{Type: "ping"}))
	assert.Equal(t, domain.MessageForceLogout, readMessage(t, conn).Type)
	f.waitRegistered(t, 0)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example"})
	req := httptest.NewRequest(http.MethodGet, "http://drop.example/ws", nil)

	assert.True(t, check(req))
	req.Header.Set("Origin", "https://drop.example")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://app.example")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}

func TestTokenForOtherDeviceIsRejected(t *testing.T) {
	f := newFixture(t)
	other, err := f.sessions.IssueLogin(context.Background(), f.user, domain.DeviceUpsert{DeviceID: "phone"}, false)
	require.NoError(t, err)

	conn := f.dial(t, http.Header{"Cookie": {"token=" + f.token}})
	assert.Equal(t, domain.MessageReady, readMessage(t, conn).Type)
	f.waitRegistered(t, 1)

	require.NoError(t, conn.WriteJSON(domain.ClientMessage{Type: "ping", Token: other.Token}))
	assert.Equal(t, domain.MessageForceLogout, readMessage(t, conn).Type)
	f.waitRegistered(t, 0)
}
