package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer("test-secret")
	require.NoError(t, err)
	issuer.WithClock(fixedClock(now))

	cases := []struct {
		userID   int64
		username string
		deviceID string
		version  int64
		ttl      time.Duration
	}{
		{1, "admin", "dev-1", 0, time.Hour},
		{42, "ümlaut user", "d/with+odd=chars", 7, 10 * time.Minute},
		{9, "forever", "dev-9", 3, 0},
	}

	for _, tc := range cases {
		token, issued, err := issuer.Issue(tc.userID, tc.username, tc.deviceID, tc.version, tc.ttl)
		require.NoError(t, err)
		require.Len(t, strings.Split(token, "."), 3)

		claims, err := issuer.Verify(token)
		require.NoError(t, err)

		uid, err := claims.UserID()
		require.NoError(t, err)
		assert.Equal(t, tc.userID, uid)
		assert.Equal(t, issued.Subject, claims.Subject)
		assert.Equal(t, tc.username, claims.Username)
		assert.Equal(t, tc.deviceID, claims.DeviceID)
		assert.Equal(t, tc.version, claims.TokenVersion)
		assert.Equal(t, now.Unix(), claims.IssuedAt.Unix())
		if tc.ttl > 0 {
			require.NotNil(t, claims.ExpiresAt)
			assert.Equal(t, now.Add(tc.ttl).Unix(), claims.ExpiresAt.Unix())
		} else {
			assert.Nil(t, claims.ExpiresAt)
		}
	}
}

func TestVerifyRejectsEveryTamperedByte(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret")
	require.NoError(t, err)

	token, _, err := issuer.Issue(5, "alice", "dev-a", 2, time.Hour)
	require.NoError(t, err)

	for i := 0; i < len(token); i++ {
		replacement := byte('A')
		if token[i] == 'A' {
			replacement = 'B'
		}
		tampered := token[:i] + string(replacement) + token[i+1:]
		_, err := issuer.Verify(tampered)
		assert.Error(t, err, "tampered position %d accepted", i)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	now := time.Now()
	issuer, err := NewTokenIssuer("test-secret")
	require.NoError(t, err)
	issuer.WithClock(fixedClock(now))

	token, _, err := issuer.Issue(1, "bob", "dev-b", 0, time.Minute)
	require.NoError(t, err)

	issuer.WithClock(fixedClock(now.Add(2 * time.Minute)))
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestNonExpiringTokenStaysValid(t *testing.T) {
	now := time.Now()
	issuer, err := NewTokenIssuer("test-secret")
	require.NoError(t, err)
	issuer.WithClock(fixedClock(now))

	token, _, err := issuer.Issue(1, "bob", "dev-b", 0, 0)
	require.NoError(t, err)

	issuer.WithClock(fixedClock(now.Add(10 * 365 * 24 * time.Hour)))
	_, err = issuer.Verify(token)
	assert.NoError(t, err)
}

func TestVerifyRejectsWrongSegmentCount(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret")
	require.NoError(t, err)
	token, _, err := issuer.Issue(1, "bob", "dev-b", 0, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	for _, bad := range []string{
		"",
		parts[0],
		parts[0] + "." + parts[1],
		token + "." + parts[2],
		token + ".",
	} {
		_, err := issuer.Verify(bad)
		assert.ErrorIs(t, err, ErrMalformedToken, "input %q", bad)
	}
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	a, err := NewTokenIssuer("secret-a")
	require.NoError(t, err)
	b, err := NewTokenIssuer("secret-b")
	require.NoError(t, err)

	token, _, err := a.Issue(1, "bob", "dev-b", 0, time.Hour)
	require.NoError(t, err)

	_, err = b.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	_, err := NewTokenIssuer("")
	assert.ErrorIs(t, err, ErrMissingSecret)
}
