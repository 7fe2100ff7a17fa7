package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iamasit07/mydrop-auth/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is one push channel. conn.WriteJSON is not safe for concurrent use,
// so every data frame goes through writeMu.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn, done: make(chan struct{})}
}

// Notify sends one server message.
func (c *Client) Notify(msg domain.ServerMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// Close is idempotent and may be called from any goroutine.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = c.conn.Close()
	})
	return err
}

// keepAlive pings until the client is closed.
func (c *Client) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
