package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// CallbackURL builds the provider redirect URL of an audience.
// Returns a URL like: {baseURL}/oauth2/{audience}/callback/{provider}
func CallbackURL(baseURL, audience, provider string) (string, error) {
	return joinPath(baseURL, "oauth2", audience, "callback", provider)
}

// VerifyURL builds the endpoint the link form posts to.
// Returns a URL like: {baseURL}/oauth2/{audience}/verify
func VerifyURL(baseURL, audience string) (string, error) {
	return joinPath(baseURL, "oauth2", audience, "verify")
}

func joinPath(baseURL string, elem ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", baseURL)
	}
	return u.JoinPath(elem...).String(), nil
}

// IsLocalPath reports whether u is a path on this host, safe to redirect to
func IsLocalPath(u string) bool {
	return strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//") && !strings.HasPrefix(u, "/\\")
}

// LocalPathOr returns u when it is a local path and fallback otherwise
func LocalPathOr(u, fallback string) string {
	if IsLocalPath(u) {
		return u
	}
	return fallback
}
