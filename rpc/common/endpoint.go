package common

import (
	"fmt"
	"strings"
)

// ParseEndpoint splits an endpoint of the form "tcp://host:port" or
// "unix:///path/to.sock" into network and address. An endpoint without a
// scheme defaults to tcp.
func ParseEndpoint(endpoint string) (network, address string, err error) {
	scheme, rest, found := strings.Cut(endpoint, "://")
	if !found {
		return "tcp", endpoint, nil
	}

	switch scheme {
	case "tcp", "unix":
		return scheme, rest, nil
	default:
		return "", "", fmt.Errorf("unsupported endpoint scheme %q (want tcp or unix)", scheme)
	}
}
