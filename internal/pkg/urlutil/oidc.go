package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeIssuer returns the form an OIDC issuer is compared and cached
// under: an absolute http(s) URL with lower-case scheme and host, no
// trailing slash, no query and no fragment.
func NormalizeIssuer(issuer string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(issuer))
	if err != nil {
		return "", fmt.Errorf("invalid issuer %q: %w", issuer, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", fmt.Errorf("issuer %q must be an absolute http(s) URL", issuer)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("issuer %q must not carry a query or fragment", issuer)
	}
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

// OIDCDiscoveryURL builds the discovery document URL of an issuer.
// Returns a URL like: {issuer}/.well-known/openid-configuration
func OIDCDiscoveryURL(issuer string) (string, error) {
	normalized, err := NormalizeIssuer(issuer)
	if err != nil {
		return "", err
	}
	return normalized + "/.well-known/openid-configuration", nil
}
