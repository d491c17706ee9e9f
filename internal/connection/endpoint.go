package connection

import (
	"fmt"
	"net/url"
	"strings"
)

// ChannelURL derives the live channel URL from the site's HTTP origin.
// The transport scheme follows the page scheme: https maps to wss, http to ws.
func ChannelURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}

	if path == "" {
		path = "/ws/main"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}
