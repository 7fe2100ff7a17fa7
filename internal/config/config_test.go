package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	assert.ErrorIs(t, err, ErrMissingJWTSecret)
}

func TestLoadConfigDefaultsAndClamps(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_EXPIRES_DAYS", "0")
	t.Setenv("TEMP_LOGIN_TTL_MINUTES", "0")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/db")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), cfg.RememberTTL)
	assert.Equal(t, time.Minute, cfg.TempLoginTTL)
	assert.Equal(t, 5*time.Minute, cfg.FlowTTL)
	assert.Equal(t, 2*time.Minute, cfg.QRTTL)
	assert.Contains(t, cfg.DatabaseURL, "default_query_exec_mode=simple_protocol")
	assert.Contains(t, cfg.AllowedOrigins, "https://a.example")
	assert.Contains(t, cfg.AllowedOrigins, "https://b.example")
	assert.True(t, cfg.TrustProxy)
}

func TestGetEnvAsBoolFallsBack(t *testing.T) {
	t.Setenv("SOME_FLAG", "maybe")
	assert.True(t, GetEnvAsBool("SOME_FLAG", true))
	t.Setenv("SOME_FLAG", "false")
	assert.False(t, GetEnvAsBool("SOME_FLAG", true))
}
