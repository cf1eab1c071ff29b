package feed

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var errNoLocator = errors.New("entry has no locator")

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// CanonicalLocator rewrites an entry link so that equal articles compare
// equal: scheme and host are lowercased, default ports and fragments
// removed. Path and query are left as published.
func CanonicalLocator(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errNoLocator
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	port, known := defaultPorts[scheme]
	if !known {
		return "", fmt.Errorf("unsupported scheme in %q", raw)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	switch p := u.Port(); {
	case p != "" && p != port:
		host = net.JoinHostPort(host, p)
	case strings.Contains(host, ":"):
		host = "[" + host + "]"
	}

	u.Scheme, u.Host = scheme, host
	u.Fragment, u.RawFragment = "", ""
	return u.String(), nil
}
