package httputil

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

const DefaultAuthCookieName = "token"

// CookieSettings controls how the auth cookie is written and how the request
// scheme is detected.
type CookieSettings struct {
	Name string
	// TrustProxy makes X-Forwarded-Proto count when deciding on Secure.
	TrustProxy bool
}

func (c CookieSettings) name() string {
	if c.Name == "" {
		return DefaultAuthCookieName
	}
	return c.Name
}

// IsSecureRequest reports whether the request arrived over TLS, directly or
// through a trusted proxy.
func IsSecureRequest(r *http.Request, trustProxy bool) bool {
	if r.TLS != nil {
		return true
	}
	if !trustProxy {
		return false
	}
	proto := strings.Split(r.Header.Get("X-Forwarded-Proto"), ",")[0]
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

// SetAuthCookie writes the token cookie. A non-positive maxAge produces a
// session cookie without Max-Age.
func SetAuthCookie(w http.ResponseWriter, r *http.Request, settings CookieSettings, token string, maxAge time.Duration) {
	cookie := &http.Cookie{
		Name:     settings.name(),
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   IsSecureRequest(r, settings.TrustProxy),
	}
	if maxAge > 0 {
		cookie.MaxAge = int(maxAge / time.Second)
	}
	http.SetCookie(w, cookie)
}

func ClearAuthCookie(w http.ResponseWriter, r *http.Request, settings CookieSettings) {
	http.SetCookie(w, &http.Cookie{
		Name:     settings.name(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   IsSecureRequest(r, settings.TrustProxy),
	})
}

// GetTokenFromRequest reads the token from the cookie, falling back to a
// Bearer Authorization header.
func GetTokenFromRequest(r *http.Request, settings CookieSettings) (string, error) {
	if cookie, err := r.Cookie(settings.name()); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		if token := strings.TrimSpace(authHeader[7:]); token != "" {
			return token, nil
		}
	}

	return "", errors.New("no auth token found in cookie or header")
}

// RequestOrigin returns scheme://host as the browser saw it.
func RequestOrigin(r *http.Request, trustProxy bool) string {
	scheme := "http"
	if IsSecureRequest(r, trustProxy) {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// RequestHostname returns the Host header without a port.
func RequestHostname(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}
