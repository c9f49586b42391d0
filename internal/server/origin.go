package server

import (
	"log/slog"
	"net/http"
	"net/url"
)

// newCheckOrigin returns the CheckOrigin function for viewer sockets. It
// allows requests without an Origin header (non-browser clients), the
// server's own host and every origin in allowed. When isDevelopment is true,
// localhost origins are additionally allowed.
func newCheckOrigin(allowed []string, isDevelopment bool) func(r *http.Request) bool {
	allowSet := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if origin := extractOrigin(o); origin != "" {
			allowSet[origin] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		u, err := url.Parse(origin)
		if err == nil && u.Host == r.Host {
			return true
		}

		if _, ok := allowSet[origin]; ok {
			return true
		}

		if isDevelopment && isLocalhostOrigin(origin) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}
