package server

import (
	"net/http"
	"net/url"
	"strings"
)

// DefaultBaseURL is used when nothing else identifies the app's origin.
const DefaultBaseURL = "http://localhost:3000"

// BaseURL returns the origin the browser should be sent back to: the
// configured value, else one derived from forwarding headers or Host.
func BaseURL(r *http.Request, configured string) string {
	if configured = strings.TrimSpace(configured); configured != "" {
		return strings.TrimSuffix(configured, "/")
	}

	host := firstHeaderValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}
	if host == "" {
		return DefaultBaseURL
	}

	proto := firstHeaderValue(r.Header.Get("X-Forwarded-Proto"))
	if proto == "" {
		proto = "https"
	}
	return strings.TrimSuffix(proto+"://"+host, "/")
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// withQuery returns base with params added to its query string.
func withQuery(base string, params map[string]string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
