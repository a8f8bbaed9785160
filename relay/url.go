package relay

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var ErrInvalidURL = errors.New("invalid relay url")

// NormalizeURL returns the canonical websocket form of a relay address.
//
// - Adds wss:// to addresses without a scheme
//
// - Converts http/s to ws/s
//
// - Lowercases and IDNA encodes the host and drops a trailing slash
func NormalizeURL(raw string) (string, error) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(u, "://") {
		u = "wss://" + u
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "wss", "https":
		parsed.Scheme = "wss"
	case "ws", "http":
		parsed.Scheme = "ws"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
	}
	host = strings.ToLower(host)
	// IP literals are not domain names
	if net.ParseIP(host) == nil {
		if host, err = idna.Lookup.ToASCII(host); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
		}
	}
	port := parsed.Port()
	// 443 is implied by wss
	if port == "443" && parsed.Scheme == "wss" {
		port = ""
	}
	switch {
	case port != "":
		parsed.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		parsed.Host = "[" + host + "]"
	default:
		parsed.Host = host
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawPath = ""
	parsed.Fragment = ""
	return parsed.String(), nil
}
