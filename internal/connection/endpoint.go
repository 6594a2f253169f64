package connection

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildURL derives the socket endpoint from an HTTP(S) origin: the scheme is
// translated (http→ws, https→wss), path replaces any base path, and token is
// attached as the "token" query parameter.
//
//	BuildURL("https://api.example.com", "/ws/notifications", "T")
//	// wss://api.example.com/ws/notifications?token=T
func BuildURL(baseURL, path, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	u.User = nil
	u.Path = "/" + strings.TrimLeft(path, "/")
	u.RawPath = ""
	u.Fragment = ""
	u.RawQuery = url.Values{"token": {token}}.Encode()

	return u.String(), nil
}

// redactURL hides the token query parameter for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
