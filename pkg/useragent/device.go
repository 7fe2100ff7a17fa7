package useragent

import (
	"net"
	"net/http"
	"strings"
)

type marker struct {
	token string
	name  string
	skip  []string
}

// Order matters: Edge and Chrome both send "Chrome/", Chrome sends "Safari/".
var browsers = []marker{
	{token: "Edg/", name: "Edge"},
	{token: "Firefox/", name: "Firefox"},
	{token: "Chrome/", name: "Chrome"},
	{token: "Safari/", name: "Safari", skip: []string{"Chrome", "Chromium"}},
}

var systems = []marker{
	{token: "Android", name: "Android"},
	{token: "iPhone", name: "iOS"},
	{token: "iPad", name: "iPadOS"},
	{token: "Windows", name: "Windows"},
	{token: "Mac OS X", name: "macOS"},
	{token: "Linux", name: "Linux"},
}

func match(ua string, list []marker) (marker, bool) {
	for _, m := range list {
		if !strings.Contains(ua, m.token) {
			continue
		}
		skipped := false
		for _, s := range m.skip {
			if strings.Contains(ua, s) {
				skipped = true
				break
			}
		}
		if !skipped {
			return m, true
		}
	}
	return marker{}, false
}

// Describe turns a User-Agent string into a short label such as
// "Chrome 126 on Android". It is only used for logs and default aliases.
func Describe(ua string) string {
	if ua == "" {
		return "Unknown device"
	}

	browser := "Unknown browser"
	version := ""
	if m, ok := match(ua, browsers); ok {
		browser = m.name
		rest := ua[strings.Index(ua, m.token)+len(m.token):]
		end := strings.IndexAny(rest, ". ")
		if end == -1 {
			end = len(rest)
		}
		version = rest[:end]
	}

	os := "unknown OS"
	if m, ok := match(ua, systems); ok {
		os = m.name
	}

	if version != "" {
		return browser + " " + version + " on " + os
	}
	return browser + " on " + os
}

// ClientIP returns the caller address. Forwarding headers are only honoured
// when the service sits behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			return strings.TrimSpace(strings.Split(xff, ",")[0])
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
