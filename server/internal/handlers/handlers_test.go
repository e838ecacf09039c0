package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/oauthlink/internal/auth"
	"github.com/devilmonastery/oauthlink/internal/auth/provider"
	"github.com/devilmonastery/oauthlink/internal/config"
	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/repositories"
	"github.com/devilmonastery/oauthlink/internal/domain/services"
	"github.com/devilmonastery/oauthlink/internal/infrastructure/database/memory"
	"github.com/devilmonastery/oauthlink/internal/session"
	"github.com/devilmonastery/oauthlink/internal/sites"
	"github.com/devilmonastery/oauthlink/server/internal/middleware"
	"github.com/devilmonastery/oauthlink/server/internal/render"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// germanScope is the storage scope of site a under /de
var germanScope = int64(3)

func newIdP(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "goodcode" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad_verification_code"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "gho_token", "token_type": "bearer"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 42, "login": "octocat"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testServer struct {
	router  http.Handler
	handler *Handler
	repos   *repositories.Repositories
	jwt     *auth.JWTManager
	host    *session.Manager
}

func newTestServer(t *testing.T, audiences ...entities.Audience) *testServer {
	t.Helper()
	if len(audiences) == 0 {
		audiences = entities.Audiences
	}
	idp := newIdP(t)

	cfg := config.Defaults()
	cfg.HTTP.BaseURL = "https://admin.example.org"
	cfg.Auth.Admin = &config.AudienceConfig{LoginRedirect: "/home", ManageRedirect: "/settings"}
	cfg.Auth.Visitor = &config.AudienceConfig{LoginRedirect: "/", ManageRedirect: "/profile"}

	pc, err := provider.NewConfiguration(config.ProviderConfig{
		Identifier:  "github",
		Label:       "GitHub",
		Description: "Use your **work** account",
		Kind:        provider.KindGitHub,
		Options: map[string]string{
			"client_id":     "cid",
			"client_secret": "secret",
			"authorize_url": idp.URL + "/login/oauth/authorize",
			"token_url":     idp.URL + "/token",
			"userinfo_url":  idp.URL + "/user",
		},
	}, provider.Collaborators{HTTPClient: idp.Client()})
	require.NoError(t, err)
	registry := provider.NewRegistry()
	for _, a := range audiences {
		require.NoError(t, registry.Register(pc, a))
	}

	resolver, err := sites.NewResolver([]config.SiteConfig{
		{Name: "a", Host: "a.example.org", StorageScope: 1, Languages: []config.LanguageConfig{
			{PathPrefix: "/de", StorageScope: &germanScope},
		}},
		{Name: "b", Host: "b.example.org", StorageScope: 2},
	})
	require.NoError(t, err)

	host, err := session.NewManager(config.SessionConfig{Secret: testSecret, CookieName: "oauthlink", MaxAge: 3600}, nil)
	require.NoError(t, err)
	flow, err := session.NewManager(config.SessionConfig{Secret: testSecret, CookieName: "oauthlink_flow", MaxAge: 600}, nil)
	require.NoError(t, err)

	templates, err := render.Default()
	require.NoError(t, err)

	repos := memory.NewStore().Repositories()
	jwt := auth.NewJWTManager("signing", time.Hour)
	h := New(Deps{
		Config:    cfg,
		Providers: registry,
		Flow: services.NewFlowService(registry, session.NewMemoryLedger(time.Minute), config.FlowConfig{
			Timeout:  2 * time.Second,
			StateTTL: time.Minute,
		}),
		Links: services.NewLinkService(repos),
		Bridges: map[entities.Audience]*services.Bridge{
			entities.AudienceAdmin:   services.NewAdminBridge(repos, jwt),
			entities.AudienceVisitor: services.NewVisitorBridge(repos, jwt, nil),
		},
		FlowSessions: flow,
		HostSessions: host,
		JWT:          jwt,
		Templates:    templates,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	router := NewRouter(h, middleware.NewAuthenticator(host, flow, jwt), resolver)
	return &testServer{router: router, handler: h, repos: repos, jwt: jwt, host: host}
}

// browser keeps cookies between requests like a user agent would
type browser struct {
	t       *testing.T
	srv     *testServer
	cookies map[string]*http.Cookie
}

func (s *testServer) browser(t *testing.T) *browser {
	return &browser{t: t, srv: s, cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	b.srv.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

func (b *browser) get(target string) *httptest.ResponseRecorder {
	return b.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (b *browser) post(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

// login signs the browser in as account without going through a provider
func (b *browser) login(account *entities.Account) {
	b.t.Helper()
	hs, err := b.srv.jwt.Issue(account, "test")
	require.NoError(b.t, err)
	rec := httptest.NewRecorder()
	require.NoError(b.t, b.srv.host.Open(rec, httptest.NewRequest(http.MethodGet, "/", nil)).Put(session.HostTokenKey, hs.Token))
	for _, c := range rec.Result().Cookies() {
		b.cookies[c.Name] = c
	}
}

// authorize starts a flow and returns the state sent to the provider
func (b *browser) authorize(target string) string {
	b.t.Helper()
	rec := b.get(target)
	require.Equal(b.t, http.StatusFound, rec.Code, rec.Body.String())
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(b.t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(b.t, state)
	return state
}

func (s *testServer) createAccount(t *testing.T, audience entities.Audience, account *entities.Account) *entities.Account {
	t.Helper()
	require.NoError(t, s.repos.Accounts(audience).Create(context.Background(), account))
	return account
}

func TestAdminLoginScenario(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	srv.createAccount(t, entities.AudienceAdmin, &entities.Account{ID: 7, Username: "alice"})
	_, err := srv.repos.AdminLinks.LinkIdentity(ctx, "github", "42", 7)
	require.NoError(t, err)

	b := srv.browser(t)
	state := b.authorize("https://admin.example.org/oauth2/admin/authorize/github")
	require.Contains(t, b.cookies, "oauthlink_flow")

	rec := b.get("https://admin.example.org/oauth2/admin/callback/github?code=goodcode&state=" + url.QueryEscape(state))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/home", rec.Header().Get("Location"))
	assert.NotContains(t, b.cookies, "oauthlink_flow", "flow cookie must be detached")
	require.Contains(t, b.cookies, "oauthlink")

	rec = b.get("https://admin.example.org/oauth2/admin/links")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Links []linkView `json:"links"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Links, 1)
	assert.Equal(t, "github", body.Links[0].Provider)
	assert.Equal(t, "42", body.Links[0].RemoteID)

	// the same state cannot be used twice
	rec = b.get("https://admin.example.org/oauth2/admin/callback/github?code=goodcode&state=" + url.QueryEscape(state))
	assert.Equal(t, "/home?oauth2=failed", rec.Header().Get("Location"))
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	srv := newTestServer(t)
	srv.createAccount(t, entities.AudienceAdmin, &entities.Account{ID: 7, Username: "alice"})

	tests := []struct {
		name  string
		query func(state string) string
	}{
		{"state mismatch", func(string) string { return "code=goodcode&state=forged" }},
		{"bad code", func(state string) string { return "code=badcode&state=" + url.QueryEscape(state) }},
		{"provider error", func(string) string { return "error=access_denied" }},
		{"identity not linked", func(state string) string { return "code=goodcode&state=" + url.QueryEscape(state) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := srv.browser(t)
			state := b.authorize("https://admin.example.org/oauth2/admin/authorize/github")

			rec := b.get("https://admin.example.org/oauth2/admin/callback/github?" + tt.query(state))
			require.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, "/home?oauth2=failed", rec.Header().Get("Location"))
			assert.NotContains(t, b.cookies, "oauthlink", "no login on failure")
			assert.NotContains(t, b.cookies, "oauthlink_flow")
		})
	}
}

func TestVisitorLinkScenario(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	scopeA := int64(1)
	bob := srv.createAccount(t, entities.AudienceVisitor, &entities.Account{Username: "bob", StorageScope: &scopeA})

	b := srv.browser(t)
	b.login(bob)

	state := b.authorize("http://a.example.org/oauth2/visitor/authorize/github?action=link")
	rec := b.get("http://a.example.org/oauth2/visitor/callback/github?code=goodcode&state=" + url.QueryEscape(state))
	require.Equal(t, http.StatusOK, rec.Code)
	page := rec.Body.String()
	assert.Contains(t, page, `action="http://a.example.org/oauth2/visitor/verify"`)
	assert.Contains(t, page, `value="goodcode"`)

	rec = b.post("http://a.example.org/oauth2/visitor/verify", url.Values{
		"provider": {"github"},
		"code":     {"goodcode"},
		"state":    {state},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/profile?oauth2=linked", rec.Header().Get("Location"))

	found, err := srv.repos.VisitorLinks.FindAccountByIdentity(ctx, "github", "42", &scopeA)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, bob.ID, found.ID)

	scopeB := int64(2)
	found, err = srv.repos.VisitorLinks.FindAccountByIdentity(ctx, "github", "42", &scopeB)
	require.NoError(t, err)
	assert.Nil(t, found, "link of scope 1 must be invisible from scope 2")

	// bob's session is bound to site a
	rec = b.get("http://b.example.org/oauth2/visitor/links")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = b.get("http://a.example.org/oauth2/visitor/links")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Links []linkView `json:"links"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Links, 1)

	target := "http://a.example.org/oauth2/visitor/links/" + body.Links[0].ID + "/deactivate"
	rec = b.post(target, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":true}`, rec.Body.String())

	rec = b.post(target, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":false}`, rec.Body.String())
}

func TestVisitorLanguageScope(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	scope := germanScope
	greta := srv.createAccount(t, entities.AudienceVisitor, &entities.Account{Username: "greta", StorageScope: &scope})

	b := srv.browser(t)
	rec := b.get("http://a.example.org/de/oauth2/visitor/providers")
	require.Equal(t, http.StatusOK, rec.Code)
	var providers struct {
		Providers []providerView `json:"providers"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&providers))
	require.Len(t, providers.Providers, 1)
	assert.Equal(t, "/de/oauth2/visitor/authorize/github", providers.Providers[0].AuthorizeURL)

	assert.Equal(t, http.StatusNotFound, b.get("http://b.example.org/de/oauth2/visitor/providers").Code,
		"site b has no /de language")

	b.login(greta)
	rec = b.get("http://a.example.org/de/oauth2/visitor/authorize/github?action=link")
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "http://a.example.org/de/oauth2/visitor/callback/github", loc.Query().Get("redirect_uri"))
	state := loc.Query().Get("state")

	rec = b.get("http://a.example.org/de/oauth2/visitor/callback/github?code=goodcode&state=" + url.QueryEscape(state))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="http://a.example.org/de/oauth2/visitor/verify"`)

	rec = b.post("http://a.example.org/de/oauth2/visitor/verify", url.Values{
		"provider": {"github"},
		"code":     {"goodcode"},
		"state":    {state},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/profile?oauth2=linked", rec.Header().Get("Location"))

	found, err := srv.repos.VisitorLinks.FindAccountByIdentity(ctx, "github", "42", &scope)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, greta.ID, found.ID)

	siteScope := int64(1)
	found, err = srv.repos.VisitorLinks.FindAccountByIdentity(ctx, "github", "42", &siteScope)
	require.NoError(t, err)
	assert.Nil(t, found, "the link belongs to the language scope, not the site scope")

	rec = b.get("http://a.example.org/de/oauth2/visitor/links")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusForbidden, b.get("http://a.example.org/oauth2/visitor/links").Code)

	// a fresh browser logs in through the language prefix
	other := srv.browser(t)
	state = other.authorize("http://a.example.org/de/oauth2/visitor/authorize/github")
	rec = other.get("http://a.example.org/de/oauth2/visitor/callback/github?code=goodcode&state=" + url.QueryEscape(state))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Contains(t, other.cookies, "oauthlink")
}

func TestLinkRequiresLogin(t *testing.T) {
	srv := newTestServer(t)
	b := srv.browser(t)

	rec := b.get("https://admin.example.org/oauth2/admin/authorize/github?action=link")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/settings?oauth2=failed", rec.Header().Get("Location"))

	state := b.authorize("https://admin.example.org/oauth2/admin/authorize/github")
	require.Contains(t, b.cookies, "oauthlink_flow")
	rec = b.post("https://admin.example.org/oauth2/admin/verify", url.Values{
		"provider": {"github"},
		"code":     {"goodcode"},
		"state":    {state},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, b.cookies, "oauthlink_flow", "an anonymous verify ends the flow")

	// nothing was captured, so a later login does not replay the verify post
	srv.createAccount(t, entities.AudienceAdmin, &entities.Account{ID: 7, Username: "alice"})
	_, err := srv.repos.AdminLinks.LinkIdentity(context.Background(), "github", "42", 7)
	require.NoError(t, err)
	state = b.authorize("https://admin.example.org/oauth2/admin/authorize/github")
	rec = b.get("https://admin.example.org/oauth2/admin/callback/github?code=goodcode&state=" + url.QueryEscape(state))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/home", rec.Header().Get("Location"))
}

func TestReplayAfterLogin(t *testing.T) {
	srv := newTestServer(t)
	srv.createAccount(t, entities.AudienceAdmin, &entities.Account{ID: 7, Username: "alice"})
	_, err := srv.repos.AdminLinks.LinkIdentity(context.Background(), "github", "42", 7)
	require.NoError(t, err)

	t.Run("get is redirected to", func(t *testing.T) {
		b := srv.browser(t)
		rec := b.get("https://admin.example.org/oauth2/admin/links?page=2")
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		state := b.authorize("https://admin.example.org/oauth2/admin/authorize/github")
		rec = b.get("https://admin.example.org/oauth2/admin/callback/github?code=goodcode&state=" + url.QueryEscape(state))
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/oauth2/admin/links?page=2", rec.Header().Get("Location"))
	})

	t.Run("post is dispatched again", func(t *testing.T) {
		b := srv.browser(t)
		rec := b.post("https://admin.example.org/oauth2/admin/links/123/deactivate", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		state := b.authorize("https://admin.example.org/oauth2/admin/authorize/github")
		rec = b.get("https://admin.example.org/oauth2/admin/callback/github?code=goodcode&state=" + url.QueryEscape(state))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"removed":false}`, rec.Body.String())
	})
}

func TestListProviders(t *testing.T) {
	srv := newTestServer(t)
	b := srv.browser(t)

	rec := b.get("https://admin.example.org/oauth2/admin/providers")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Providers []providerView `json:"providers"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Providers, 1)
	assert.Equal(t, "/oauth2/admin/authorize/github", body.Providers[0].AuthorizeURL)
	assert.Contains(t, string(body.Providers[0].DescriptionHTML), "<strong>work</strong>")

	assert.Equal(t, http.StatusNotFound, b.get("http://unknown.example.org/oauth2/visitor/providers").Code)
	assert.Equal(t, http.StatusOK, b.get("http://a.example.org/oauth2/visitor/providers").Code)
	assert.Equal(t, http.StatusNotFound, b.get("http://a.example.org/oauth2/staff/providers").Code)

	adminOnly := newTestServer(t, entities.AudienceAdmin)
	rec = adminOnly.browser(t).get("http://a.example.org/oauth2/visitor/providers")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLoginPage(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.browser(t).get("https://admin.example.org/oauth2/admin/login?oauth2=failed")
	require.Equal(t, http.StatusOK, rec.Code)
	page := rec.Body.String()
	assert.Contains(t, page, `href="/oauth2/admin/authorize/github"`)
	assert.Contains(t, page, "<strong>work</strong>")
	assert.Contains(t, page, `role="alert"`)
}

func TestLogoutAndHealth(t *testing.T) {
	srv := newTestServer(t)
	b := srv.browser(t)
	b.login(&entities.Account{ID: 7, Audience: entities.AudienceAdmin, Username: "alice"})

	rec := b.post("https://admin.example.org/logout", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.NotContains(t, b.cookies, "oauthlink")

	rec = b.get("https://admin.example.org/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = b.get("https://admin.example.org/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWithQuery(t *testing.T) {
	assert.Equal(t, "/home?oauth2=failed", withQuery("/home", "oauth2", "failed"))
	assert.Equal(t, "/home?a=1&oauth2=failed", withQuery("/home?a=1", "oauth2", "failed"))
}
