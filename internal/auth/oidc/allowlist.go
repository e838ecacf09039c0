package oidc

import (
	"slices"
	"strings"
)

// DomainAllowed checks a verified email address, or the hosted domain of a
// Google Workspace account, against a domain allowlist. An empty allowlist
// allows every identity.
func DomainAllowed(email, hostedDomain string, allowedDomains []string) bool {
	if len(allowedDomains) == 0 {
		return true
	}

	if hostedDomain != "" && slices.Contains(allowedDomains, strings.ToLower(hostedDomain)) {
		return true
	}

	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return slices.Contains(allowedDomains, strings.ToLower(email[at+1:]))
}

// ParseDomains splits a comma separated allowlist option
func ParseDomains(option string) []string {
	var domains []string
	for _, d := range strings.Split(option, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" && !slices.Contains(domains, d) {
			domains = append(domains, d)
		}
	}
	return domains
}
