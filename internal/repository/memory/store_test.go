package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamasit07/mydrop-auth/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func TestUpdateUserAuthBumpsVersionOnlyOnPasswordChange(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo()
	u, err := repo.CreateUser(ctx, "alice", "h1", true)
	require.NoError(t, err)

	got, err := repo.UpdateUserAuth(ctx, u.ID, domain.AuthUpdate{Username: ptr("alice2")})
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.TokenVersion)

	got, err = repo.UpdateUserAuth(ctx, u.ID, domain.AuthUpdate{PasswordHash: ptr("h1")})
	require.NoError(t, err)
	assert.EqualValues(t, 0, got.TokenVersion)

	got, err = repo.UpdateUserAuth(ctx, u.ID, domain.AuthUpdate{PasswordHash: ptr("h2"), IsDefaultPassword: ptr(false)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.TokenVersion)
	assert.False(t, got.IsDefaultPassword)

	_, err = repo.UpdateUserAuth(ctx, u.ID, domain.AuthUpdate{})
	assert.ErrorIs(t, err, domain.ErrNothingToUpdate)
}

func TestUsernamesAreUnique(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepo()
	_, err := repo.CreateUser(ctx, "alice", "h", false)
	require.NoError(t, err)
	bob, err := repo.CreateUser(ctx, "bob", "h", false)
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, "alice", "h", false)
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
	_, err = repo.UpdateUserAuth(ctx, bob.ID, domain.AuthUpdate{Username: ptr("alice")})
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
}

func TestUpsertDeviceKeepsAliasWhenNil(t *testing.T) {
	ctx := context.Background()
	repo := NewDeviceRepo()
	require.NoError(t, repo.UpsertDevice(ctx, domain.DeviceUpsert{DeviceID: "d1", Alias: ptr("laptop"), UserAgent: "ua1"}))
	require.NoError(t, repo.UpsertDevice(ctx, domain.DeviceUpsert{DeviceID: "d1", UserAgent: "ua2"}))

	d, err := repo.GetDevice(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, d.Alias)
	assert.Equal(t, "laptop", *d.Alias)
	assert.Equal(t, "ua2", d.UserAgent)

	removed, err := repo.DeleteDevice(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, removed)
	d, err = repo.GetDevice(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestDeleteCredentialChecksOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewWebAuthnRepo()
	require.NoError(t, repo.CreateCredential(ctx, &domain.WebAuthnCredential{ID: "c1", UserID: 1}))

	removed, err := repo.DeleteCredential(ctx, 2, "c1")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = repo.DeleteCredential(ctx, 1, "c1")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestUpdateSignCountOnlyRaises(t *testing.T) {
	ctx := context.Background()
	repo := NewWebAuthnRepo()
	require.NoError(t, repo.CreateCredential(ctx, &domain.WebAuthnCredential{ID: "c1", UserID: 1, SignCount: 2}))

	require.NoError(t, repo.UpdateSignCount(ctx, "c1", 9))
	require.NoError(t, repo.UpdateSignCount(ctx, "c1", 6))

	c, err := repo.GetCredential(ctx, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 9, c.SignCount)
	assert.ErrorIs(t, repo.UpdateSignCount(ctx, "missing", 1), domain.ErrNotFound)
}
