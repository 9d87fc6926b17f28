package client

import (
	"errors"
	"fmt"
	"net/url"
)

var ErrBadEndpoint = errors.New("cannot derive realtime endpoint")

// EndpointFromOrigin maps a page origin such as "https://care.example.org"
// to its realtime endpoint "wss://care.example.org/ws". The secure scheme is
// used iff the origin is secure.
func EndpointFromOrigin(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadEndpoint, err)
	}

	var scheme string
	switch u.Scheme {
	case "https", "wss":
		scheme = "wss"
	case "http", "ws":
		scheme = "ws"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrBadEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: origin %q has no host", ErrBadEndpoint, origin)
	}

	return (&url.URL{Scheme: scheme, Host: u.Host, Path: "/ws"}).String(), nil
}
