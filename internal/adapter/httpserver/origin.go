package httpserver

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser pages may open a notification socket.
//
// Store terminals and the scanner app connect without an Origin header and
// are always let through; identity is checked after the upgrade. A browser
// only gets a socket from a page served by the back-office web app at
// APP_URL. Outside production a loopback dev server is accepted as well.
type originPolicy struct {
	backOffice    string
	allowLoopback bool
}

func newOriginPolicy(appURL string, allowLoopback bool) originPolicy {
	return originPolicy{backOffice: webOrigin(appURL), allowLoopback: allowLoopback}
}

// allows has the signature of websocket.Upgrader.CheckOrigin.
func (p originPolicy) allows(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return true
	}

	origin := webOrigin(header)
	switch {
	case origin == "":
		slog.Warn("WebSocket origin rejected", "origin", header, "reason", "opaque", "remote_addr", r.RemoteAddr)
		return false
	case origin == p.backOffice:
		return true
	case p.allowLoopback && isLoopbackOrigin(origin):
		return true
	}

	slog.Warn("WebSocket origin rejected", "origin", header, "reason", "not_back_office", "remote_addr", r.RemoteAddr)
	return false
}

// webOrigin reduces a URL to its scheme://host[:port] form, lowercased.
// It returns "" for URLs without a host, including the "null" origin.
func webOrigin(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
