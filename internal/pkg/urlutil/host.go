package urlutil

import (
	"net"
	"strings"
)

// NormalizeHost lowercases a Host header value and strips the port
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

// HasPathPrefix reports whether path is prefix or lies below it. "/de"
// matches "/de" and "/de/page" but not "/designs".
func HasPathPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
