package kick

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iamasit07/mydrop-auth/internal/domain"
)

// Conn is one live push connection.
type Conn interface {
	Notify(msg domain.ServerMessage) error
	Close() error
}

type entry struct {
	token    string
	conn     Conn
	deviceID string
	userID   int64
}

// Registry tracks live connections by connection id and terminates them when
// the session behind them is revoked.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	logger  *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]entry),
		logger:  logger,
	}
}

func (r *Registry) Register(connID, token, deviceID string, userID int64, conn Conn) {
	r.mu.Lock()
	r.entries[connID] = entry{token: token, conn: conn, deviceID: deviceID, userID: userID}
	r.mu.Unlock()
}

// Unregister removes the entry only while it still belongs to conn, so a late
// cleanup never drops a newer registration.
func (r *Registry) Unregister(connID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[connID]; ok && e.conn == conn {
		delete(r.entries, connID)
	}
}

// Rebind updates the token an existing connection authenticates with.
func (r *Registry) Rebind(connID, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[connID]; ok {
		e.token = token
		r.entries[connID] = e
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// KickDevice terminates every connection bound to deviceID.
func (r *Registry) KickDevice(deviceID, reason string) int {
	return r.kick(reason, func(e entry) bool { return e.deviceID == deviceID })
}

// KickUser terminates every connection of userID except those bound to
// exceptDeviceID. An empty exceptDeviceID spares nothing.
func (r *Registry) KickUser(userID int64, exceptDeviceID, reason string) int {
	return r.kick(reason, func(e entry) bool {
		return e.userID == userID && (exceptDeviceID == "" || e.deviceID != exceptDeviceID)
	})
}

// KickToken terminates the connections opened with token.
func (r *Registry) KickToken(token, reason string) int {
	if token == "" {
		return 0
	}
	return r.kick(reason, func(e entry) bool { return e.token == token })
}

// kick detaches matching entries under the lock, then notifies and closes
// them outside it.
func (r *Registry) kick(reason string, match func(entry) bool) int {
	r.mu.Lock()
	victims := make([]entry, 0)
	for id, e := range r.entries {
		if match(e) {
			victims = append(victims, e)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	msg := domain.ServerMessage{
		Type:    domain.MessageForceLogout,
		Message: reason,
		Time:    time.Now().UnixMilli(),
	}
	for _, e := range victims {
		if err := e.conn.Notify(msg); err != nil {
			r.logger.Debug("kick.notify_failed", zap.String("device_id", e.deviceID), zap.Error(err))
		}
		if err := e.conn.Close(); err != nil {
			r.logger.Debug("kick.close_failed", zap.String("device_id", e.deviceID), zap.Error(err))
		}
	}
	if len(victims) > 0 {
		r.logger.Info("kick.done", zap.String("reason", reason), zap.Int("connections", len(victims)))
	}
	return len(victims)
}
