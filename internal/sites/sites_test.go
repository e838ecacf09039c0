package sites

import (
	"net/http/httptest"
	"testing"

	"github.com/devilmonastery/oauthlink/internal/config"
)

func int64Ptr(v int64) *int64 { return &v }

func TestResolve(t *testing.T) {
	r, err := NewResolver([]config.SiteConfig{
		{
			Name:         "main",
			Host:         "Example.org",
			StorageScope: 1,
			Providers:    []string{"github"},
			Languages: []config.LanguageConfig{
				{PathPrefix: "/de", StorageScope: int64Ptr(2)},
				{PathPrefix: "/de/at", StorageScope: int64Ptr(3)},
				{PathPrefix: "/fr"},
			},
		},
		{Name: "other", Host: "other.example", StorageScope: 9},
	})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	tests := []struct {
		name       string
		url        string
		wantOK     bool
		wantScope  int64
		wantPrefix string
	}{
		{"site root", "http://example.org/", true, 1, ""},
		{"host with port", "http://example.org:8080/page", true, 1, ""},
		{"language override", "http://example.org/de/page", true, 2, "/de"},
		{"longest prefix", "http://example.org/de/at/page", true, 3, "/de/at"},
		{"prefix is a path segment", "http://example.org/designs", true, 1, ""},
		{"language without override", "http://example.org/fr/", true, 1, "/fr"},
		{"second site", "http://other.example/de/page", true, 9, ""},
		{"unknown host", "http://unknown.example/", false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := r.Resolve(httptest.NewRequest("GET", tt.url, nil))
			if ok != tt.wantOK {
				t.Fatalf("Resolve() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && res.StorageScope != tt.wantScope {
				t.Errorf("StorageScope = %d, want %d", res.StorageScope, tt.wantScope)
			}
			if got := res.Prefix(); got != tt.wantPrefix {
				t.Errorf("Prefix() = %q, want %q", got, tt.wantPrefix)
			}
		})
	}

	want := []string{"/de/at", "/de", "/fr"}
	got := r.Prefixes()
	if len(got) != len(want) {
		t.Fatalf("Prefixes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Prefixes()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAllowsProvider(t *testing.T) {
	r, _ := NewResolver([]config.SiteConfig{
		{Name: "restricted", Host: "a.example", Providers: []string{"github"}},
		{Name: "open", Host: "b.example"},
	})

	a, _ := r.Resolve(httptest.NewRequest("GET", "http://a.example/", nil))
	if !a.AllowsProvider("github") || a.AllowsProvider("google") {
		t.Error("restricted site allowlist not applied")
	}
	b, _ := r.Resolve(httptest.NewRequest("GET", "http://b.example/", nil))
	if !b.AllowsProvider("google") {
		t.Error("site without allowlist should allow every provider")
	}
	var none *Resolution
	if none.Scope() != nil {
		t.Error("nil resolution should have no scope")
	}
}

func TestNewResolverErrors(t *testing.T) {
	tests := []struct {
		name string
		cfgs []config.SiteConfig
	}{
		{"missing host", []config.SiteConfig{{Name: "x"}}},
		{"duplicate host", []config.SiteConfig{{Host: "a.example"}, {Host: "A.example:80"}}},
		{"relative language prefix", []config.SiteConfig{{Host: "a.example", Languages: []config.LanguageConfig{{PathPrefix: "de"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewResolver(tt.cfgs); err == nil {
				t.Error("NewResolver() succeeded")
			}
		})
	}
}
