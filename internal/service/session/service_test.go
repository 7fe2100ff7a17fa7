package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamasit07/mydrop-auth/internal/domain"
	"github.com/iamasit07/mydrop-auth/internal/repository/memory"
	"github.com/iamasit07/mydrop-auth/pkg/auth"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string]string)} }

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		c.data[key] = string(v)
	case string:
		c.data[key] = v
	default:
		return errors.New("unsupported value")
	}
	return nil
}

func (c *mapCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return "", errors.New("miss")
	}
	return v, nil
}

func (c *mapCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

type fixture struct {
	users   *memory.UserRepo
	devices *memory.DeviceRepo
	tokens  *auth.TokenIssuer
	cache   *mapCache
	svc     *Service
	user    *domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := memory.NewUserRepo()
	devices := memory.NewDeviceRepo()
	tokens, err := auth.NewTokenIssuer("test-secret")
	require.NoError(t, err)
	cache := newMapCache()

	user, err := users.CreateUser(context.Background(), "alice", "hash", false)
	require.NoError(t, err)

	svc := NewService(users, devices, tokens, Options{
		RememberTTL: 7 * 24 * time.Hour,
		TempTTL:     10 * time.Minute,
		Cache:       cache,
	})
	return &fixture{users: users, devices: devices, tokens: tokens, cache: cache, svc: svc, user: user}
}

func TestIssueLoginThenAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.svc.IssueLogin(ctx, f.user, domain.DeviceUpsert{DeviceID: "dev-1", UserAgent: "ua"}, true)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, issued.CookieMaxAge)
	require.NotNil(t, issued.Claims.ExpiresAt)

	id, err := f.svc.Authenticate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, id.User.ID)
	assert.Equal(t, "dev-1", id.Device.DeviceID)
	assert.Empty(t, id.User.PasswordHash)
}

func TestTemporaryLoginUsesSessionCookie(t *testing.T) {
	f := newFixture(t)
	issued, err := f.svc.IssueLogin(context.Background(), f.user, domain.DeviceUpsert{DeviceID: "dev-1"}, false)
	require.NoError(t, err)
	assert.Zero(t, issued.CookieMaxAge)
	require.NotNil(t, issued.Claims.ExpiresAt)
	assert.WithinDuration(t, issued.Claims.IssuedAt.Add(10*time.Minute), issued.Claims.ExpiresAt.Time, time.Second)
}

func TestRememberWithoutExpiry(t *testing.T) {
	f := newFixture(t)
	f.svc.rememberTTL = 0
	issued, err := f.svc.IssueLogin(context.Background(), f.user, domain.DeviceUpsert{DeviceID: "dev-1"}, true)
	require.NoError(t, err)
	assert.Nil(t, issued.Claims.ExpiresAt)
	assert.Zero(t, issued.CookieMaxAge)
}

func TestIssueLoginRequiresDevice(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.IssueLogin(context.Background(), f.user, domain.DeviceUpsert{}, false)
	assert.ErrorIs(t, err, domain.ErrMissingDeviceID)
}

func TestRevocationCounterBumpInvalidatesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued, err := f.svc.IssueLogin(ctx, f.user, domain.DeviceUpsert{DeviceID: "dev-1"}, true)
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, issued.Token)
	require.NoError(t, err)

	newHash := "other-hash"
	_, err = f.users.UpdateUserAuth(ctx, f.user.ID, domain.AuthUpdate{PasswordHash: &newHash})
	require.NoError(t, err)
	f.svc.InvalidateUser(ctx, f.user.ID)

	_, err = f.tokens.Verify(issued.Token)
	require.NoError(t, err, "signature alone still verifies")

	_, err = f.svc.Authenticate(ctx, issued.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestDeletedDeviceInvalidatesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued, err := f.svc.IssueLogin(ctx, f.user, domain.DeviceUpsert{DeviceID: "dev-1"}, true)
	require.NoError(t, err)

	_, err = f.devices.DeleteDevice(ctx, "dev-1")
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, issued.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestGarbageTokensCollapseToInvalidToken(t *testing.T) {
	f := newFixture(t)
	for _, tok := range []string{"", "abc", "a.b.c", "a.b.c.d"} {
		_, err := f.svc.Authenticate(context.Background(), tok)
		assert.ErrorIs(t, err, domain.ErrInvalidToken, tok)
	}
}

func TestUnknownUserIsInvalidToken(t *testing.T) {
	f := newFixture(t)
	token, _, err := f.tokens.Issue(999, "ghost", "dev-1", 0, time.Hour)
	require.NoError(t, err)
	_, err = f.svc.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}
