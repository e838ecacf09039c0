package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/devilmonastery/oauthlink/internal/sites"
)

type siteKey struct{}

// ResolveSite attaches the site and storage scope of the request host to the context.
// Requests for unknown hosts pass through without one.
func ResolveSite(resolver *sites.Resolver) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if res, ok := resolver.Resolve(r); ok {
				r = r.WithContext(WithSite(r.Context(), res))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePathPrefix only lets through requests whose site has the language
// prefix the routes are mounted under
func RequirePathPrefix(prefix string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := SiteFromContext(r.Context())
			if !ok || res.Prefix() != prefix {
				writeError(w, http.StatusNotFound, "not found")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SitePrefix returns the language prefix of the request's site, if any
func SitePrefix(ctx context.Context) string {
	res, _ := SiteFromContext(ctx)
	return res.Prefix()
}

// WithSite stores a site resolution in the context
func WithSite(ctx context.Context, res *sites.Resolution) context.Context {
	return context.WithValue(ctx, siteKey{}, res)
}

// SiteFromContext returns the resolution stored by ResolveSite
func SiteFromContext(ctx context.Context) (*sites.Resolution, bool) {
	res, ok := ctx.Value(siteKey{}).(*sites.Resolution)
	return res, ok && res != nil
}
