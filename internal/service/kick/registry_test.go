package kick

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iamasit07/mydrop-auth/internal/domain"
)

type fakeConn struct {
	mu       sync.Mutex
	messages []domain.ServerMessage
	closed   bool
}

func (c *fakeConn) Notify(msg domain.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) kicked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed && len(c.messages) == 1 && c.messages[0].Type == domain.MessageForceLogout
}

func TestKickDevice(t *testing.T) {
	r := NewRegistry(nil)
	a1, a2, b := &fakeConn{}, &fakeConn{}, &fakeConn{}
	r.Register("c1", "t1", "dev-a", 1, a1)
	r.Register("c2", "t2", "dev-a", 1, a2)
	r.Register("c3", "t3", "dev-b", 1, b)

	assert.Equal(t, 2, r.KickDevice("dev-a", "device removed"))
	assert.True(t, a1.kicked())
	assert.True(t, a2.kicked())
	assert.False(t, b.closed)
	assert.Equal(t, 1, r.Len())
}

func TestKickUserWithException(t *testing.T) {
	r := NewRegistry(nil)
	mine, other, stranger := &fakeConn{}, &fakeConn{}, &fakeConn{}
	r.Register("c1", "t1", "dev-a", 1, mine)
	r.Register("c2", "t2", "dev-b", 1, other)
	r.Register("c3", "t3", "dev-c", 2, stranger)

	assert.Equal(t, 1, r.KickUser(1, "dev-a", "password changed"))
	assert.False(t, mine.closed)
	assert.True(t, other.kicked())
	assert.False(t, stranger.closed)

	assert.Equal(t, 1, r.KickUser(1, "", "password changed"))
	assert.True(t, mine.kicked())
}

func TestKickToken(t *testing.T) {
	r := NewRegistry(nil)
	a, b := &fakeConn{}, &fakeConn{}
	r.Register("c1", "t1", "dev-a", 1, a)
	r.Register("c2", "t2", "dev-a", 1, b)

	assert.Equal(t, 0, r.KickToken("", "logout"))
	assert.Equal(t, 1, r.KickToken("t1", "logout"))
	assert.True(t, a.kicked())
	assert.False(t, b.closed)
}

func TestUnregisterIgnoresReplacedConn(t *testing.T) {
	r := NewRegistry(nil)
	old, fresh := &fakeConn{}, &fakeConn{}
	r.Register("c1", "t1", "dev-a", 1, old)
	r.Register("c1", "t1", "dev-a", 1, fresh)

	r.Unregister("c1", old)
	assert.Equal(t, 1, r.Len())
	r.Unregister("c1", fresh)
	assert.Equal(t, 0, r.Len())
}

func TestConcurrentKicksNotifyOnce(t *testing.T) {
	r := NewRegistry(nil)
	c := &fakeConn{}
	r.Register("c1", "t1", "dev-a", 1, c)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.KickUser(1, "", "bye")
		}()
	}
	wg.Wait()
	assert.True(t, c.kicked())
}
