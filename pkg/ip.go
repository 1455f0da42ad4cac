package pkg

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ReadUserIP extracts the client IP, preferring the proxy headers
// set by the frontend reverse proxy.
func ReadUserIP(r *http.Request) (string, error) {
	ipAddr := r.Header.Get("X-Real-Ip")
	if ipAddr == "" {
		ipAddr = r.Header.Get("X-Forwarded-For")
	}
	if ipAddr == "" {
		ipAddr = r.RemoteAddr
	}

	if host, _, err := net.SplitHostPort(ipAddr); err == nil {
		ipAddr = host
	}

	if ipAddr == "localhost" {
		return ipAddr, nil
	}
	if ip := net.ParseIP(ipAddr); ip == nil {
		return "", fmt.Errorf("ip addr %s is invalid", ipAddr)
	}

	return strings.TrimSpace(ipAddr), nil
}
