package sites

import (
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"

	"github.com/devilmonastery/oauthlink/internal/config"
	"github.com/devilmonastery/oauthlink/internal/pkg/urlutil"
)

// Site is a host served by this instance. Visitors of a site are stored in
// its storage scope unless a language path prefix overrides it.
type Site struct {
	Name         string
	Host         string
	StorageScope int64
	Providers    []string

	languages []language
}

type language struct {
	prefix string
	scope  int64
}

// Resolution is the site and storage scope a request belongs to.
// PathPrefix is the language prefix that matched, empty when none did.
type Resolution struct {
	Site         *Site
	StorageScope int64
	PathPrefix   string
}

// Scope returns the resolved storage scope as the pointer the repositories take
func (r *Resolution) Scope() *int64 {
	if r == nil {
		return nil
	}
	s := r.StorageScope
	return &s
}

// Prefix returns the matched language prefix
func (r *Resolution) Prefix() string {
	if r == nil {
		return ""
	}
	return r.PathPrefix
}

// AllowsProvider reports whether the site exposes a visitor provider
func (r *Resolution) AllowsProvider(id string) bool {
	if r == nil || len(r.Site.Providers) == 0 {
		return true
	}
	return slices.Contains(r.Site.Providers, id)
}

// Resolver maps requests to sites
type Resolver struct {
	byHost   map[string]*Site
	prefixes []string
}

// NewResolver builds a resolver from configuration
func NewResolver(cfgs []config.SiteConfig) (*Resolver, error) {
	r := &Resolver{byHost: make(map[string]*Site, len(cfgs))}
	for _, c := range cfgs {
		host := urlutil.NormalizeHost(c.Host)
		if host == "" {
			return nil, fmt.Errorf("site %q: host is required", c.Name)
		}
		if _, dup := r.byHost[host]; dup {
			return nil, fmt.Errorf("site %q: duplicate host %q", c.Name, host)
		}

		site := &Site{
			Name:         c.Name,
			Host:         host,
			StorageScope: c.StorageScope,
			Providers:    slices.Clone(c.Providers),
		}
		for _, l := range c.Languages {
			prefix := strings.TrimSuffix(l.PathPrefix, "/")
			if prefix == "" || !urlutil.IsLocalPath(prefix) {
				return nil, fmt.Errorf("site %q: language prefix %q must start with /", c.Name, l.PathPrefix)
			}
			scope := c.StorageScope
			if l.StorageScope != nil {
				scope = *l.StorageScope
			}
			site.languages = append(site.languages, language{prefix: prefix, scope: scope})
			if !slices.Contains(r.prefixes, prefix) {
				r.prefixes = append(r.prefixes, prefix)
			}
		}
		// longest prefix wins
		sort.SliceStable(site.languages, func(i, j int) bool {
			return len(site.languages[i].prefix) > len(site.languages[j].prefix)
		})
		r.byHost[host] = site
	}
	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i]) > len(r.prefixes[j])
	})
	return r, nil
}

// Resolve finds the site of the request host. The path is matched against
// the site's language prefixes.
func (r *Resolver) Resolve(req *http.Request) (*Resolution, bool) {
	if r == nil {
		return nil, false
	}
	site, ok := r.byHost[urlutil.NormalizeHost(req.Host)]
	if !ok {
		return nil, false
	}

	res := &Resolution{Site: site, StorageScope: site.StorageScope}
	for _, l := range site.languages {
		if urlutil.HasPathPrefix(req.URL.Path, l.prefix) {
			res.StorageScope = l.scope
			res.PathPrefix = l.prefix
			break
		}
	}
	return res, true
}

// Prefixes returns every language prefix of every site, longest first
func (r *Resolver) Prefixes() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.prefixes)
}

// Len returns the number of configured sites
func (r *Resolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byHost)
}
