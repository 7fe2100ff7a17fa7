package httputil

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAuthCookieSessionVsRemember(t *testing.T) {
	settings := CookieSettings{Name: "token", TrustProxy: true}
	r := httptest.NewRequest(http.MethodPost, "/api/login", nil)

	w := httptest.NewRecorder()
	SetAuthCookie(w, r, settings, "abc", 0)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "abc", cookies[0].Value)
	assert.Equal(t, 0, cookies[0].MaxAge)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.False(t, cookies[0].Secure)

	w = httptest.NewRecorder()
	SetAuthCookie(w, r, settings, "abc", 7*24*time.Hour)
	cookies = w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, 7*24*3600, cookies[0].MaxAge)
}

func TestSecureDetection(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-Proto", "https, http")
	assert.True(t, IsSecureRequest(r, true))
	assert.False(t, IsSecureRequest(r, false))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.TLS = &tls.ConnectionState{}
	assert.True(t, IsSecureRequest(r, false))
}

func TestGetTokenFromRequest(t *testing.T) {
	settings := CookieSettings{Name: "token"}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := GetTokenFromRequest(r, settings)
	assert.Error(t, err)

	r.Header.Set("Authorization", "Bearer xyz")
	token, err := GetTokenFromRequest(r, settings)
	require.NoError(t, err)
	assert.Equal(t, "xyz", token)

	r.AddCookie(&http.Cookie{Name: "token", Value: "from-cookie"})
	token, err = GetTokenFromRequest(r, settings)
	require.NoError(t, err)
	assert.Equal(t, "from-cookie", token)
}

func TestRequestOriginAndHostname(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://drop.example.com:8443/x", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://drop.example.com:8443", RequestOrigin(r, true))
	assert.Equal(t, "http://drop.example.com:8443", RequestOrigin(r, false))
	assert.Equal(t, "drop.example.com", RequestHostname(r))
}
