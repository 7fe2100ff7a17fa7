package auth

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

func stepTime(counter int64) time.Time {
	return time.Unix(counter*TOTPPeriod, 0)
}

func TestVerifyTOTPWindow(t *testing.T) {
	const c = 56_000_000

	code, err := hotp.GenerateCodeCustom(testSecret, c, hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)

	assert.True(t, VerifyTOTP(code, testSecret, stepTime(c-1)))
	assert.True(t, VerifyTOTP(code, testSecret, stepTime(c)))
	assert.True(t, VerifyTOTP(code, testSecret, stepTime(c+1)))
	assert.False(t, VerifyTOTP(code, testSecret, stepTime(c+2)))
	assert.False(t, VerifyTOTP(code, testSecret, stepTime(c-2)))
}

func TestGenerateTOTPCodeMatchesHOTP(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 0, 15, 0, time.UTC)
	code, err := GenerateTOTPCode(testSecret, at)
	require.NoError(t, err)

	want, err := hotp.GenerateCodeCustom(testSecret, uint64(at.Unix()/TOTPPeriod), hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	assert.Equal(t, want, code)
}

func TestVerifyTOTPRejectsGarbage(t *testing.T) {
	now := time.Now()
	assert.False(t, VerifyTOTP("", testSecret, now))
	assert.False(t, VerifyTOTP("123456", "", now))
	assert.False(t, VerifyTOTP("12345", testSecret, now))
	assert.False(t, VerifyTOTP("abcdef", testSecret, now))
}

func TestGenerateTOTPKey(t *testing.T) {
	key, err := GenerateTOTPKey("MyDrop", "admin")
	require.NoError(t, err)
	assert.Len(t, key.Secret(), 32) // 20 bytes in base32
	assert.Contains(t, key.URL(), "otpauth://totp/")

	now := time.Now()
	code, err := GenerateTOTPCode(key.Secret(), now)
	require.NoError(t, err)
	assert.True(t, VerifyTOTP(code, key.Secret(), now))
}
