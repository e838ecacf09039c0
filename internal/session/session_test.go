package session

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devilmonastery/oauthlink/internal/config"
	"github.com/devilmonastery/oauthlink/internal/domain/entities"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.SessionConfig{
		Secret:     testSecret,
		CookieName: "test_session",
		MaxAge:     600,
		Backend:    "cookie",
	}, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

// lastCookie returns the final value written for name, as a browser keeps it
func lastCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			found = c
		}
	}
	return found
}

func requestWith(c *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if c != nil {
		r.AddCookie(c)
	}
	return r
}

func TestDeriveKeys(t *testing.T) {
	if _, _, err := DeriveKeys("short"); err == nil {
		t.Error("DeriveKeys() accepted a short secret")
	}

	h1, b1, err := DeriveKeys(testSecret)
	if err != nil {
		t.Fatalf("DeriveKeys() error = %v", err)
	}
	h2, b2, _ := DeriveKeys(testSecret)
	if !bytes.Equal(h1, h2) || !bytes.Equal(b1, b2) {
		t.Error("DeriveKeys() is not deterministic")
	}
	if len(h1) != 64 || len(b1) != 32 || bytes.Equal(h1[:32], b1) {
		t.Errorf("unexpected key material: %d/%d bytes", len(h1), len(b1))
	}
}

func TestNewManagerBackends(t *testing.T) {
	if _, err := NewManager(config.SessionConfig{Secret: testSecret, Backend: "redis"}, nil); err == nil {
		t.Error("redis backend without a client should fail")
	}
	if _, err := NewManager(config.SessionConfig{Secret: testSecret, Backend: "memcached"}, nil); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestFlowSessionRoundTrip(t *testing.T) {
	m := testManager(t)
	key := StateKey(entities.AudienceAdmin, "github")

	rec := httptest.NewRecorder()
	s := m.Open(rec, requestWith(nil))
	if err := s.Put(key, "nonce-1"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	cookie := lastCookie(rec, "test_session")
	if cookie == nil {
		t.Fatal("no session cookie written")
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie attributes = %+v", cookie)
	}
	if strings.Contains(cookie.Value, "nonce-1") {
		t.Error("cookie value is not encrypted")
	}

	rec = httptest.NewRecorder()
	s = m.Open(rec, requestWith(cookie))
	got, ok := s.Get(key)
	if !ok || got != "nonce-1" {
		t.Fatalf("Get() = %q, %v", got, ok)
	}
	if err := s.Clear(key); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	rec2 := httptest.NewRecorder()
	s = m.Open(rec2, requestWith(lastCookie(rec, "test_session")))
	if _, ok := s.Get(key); ok {
		t.Error("value survived Clear()")
	}
}

func TestOpenTamperedCookie(t *testing.T) {
	m := testManager(t)
	rec := httptest.NewRecorder()
	s := m.Open(rec, requestWith(&http.Cookie{Name: "test_session", Value: "forged"}))
	if _, ok := s.Get(HostTokenKey); ok {
		t.Error("forged cookie produced values")
	}
	if err := s.Put(HostTokenKey, "t"); err != nil {
		t.Errorf("Put() on a fresh session error = %v", err)
	}
}

func TestDetachCookie(t *testing.T) {
	m := testManager(t)
	rec := httptest.NewRecorder()
	s := m.Open(rec, requestWith(nil))
	if err := s.Put(HostTokenKey, "token"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	cookie := lastCookie(rec, "test_session")
	rec = httptest.NewRecorder()
	s = m.Open(rec, requestWith(cookie))
	if err := s.DetachCookie(); err != nil {
		t.Fatalf("DetachCookie() error = %v", err)
	}
	if c := lastCookie(rec, "test_session"); c == nil || c.MaxAge >= 0 {
		t.Errorf("DetachCookie() did not expire the cookie: %+v", c)
	}
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(time.Minute)

	if ok, _ := l.Consume(ctx, "", time.Minute); ok {
		t.Error("empty nonce consumed")
	}
	if ok, _ := l.Consume(ctx, "n1", time.Minute); !ok {
		t.Fatal("first Consume() = false")
	}
	if ok, _ := l.Consume(ctx, "n1", time.Minute); ok {
		t.Error("replayed nonce consumed twice")
	}
	if ok, _ := l.Consume(ctx, "n2", time.Minute); !ok {
		t.Error("distinct nonce rejected")
	}
}

func TestCaptureAndRebuild(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example.org/comments?page=2", strings.NewReader("text=hi"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("Cookie", "secret=1")

	o, err := Capture(r)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	rest, _ := io.ReadAll(r.Body)
	if string(rest) != "text=hi" {
		t.Errorf("body not restored after capture: %q", rest)
	}
	if o.URL != "/comments?page=2" {
		t.Errorf("URL = %q, want path and query only", o.URL)
	}
	if _, ok := o.Header["Cookie"]; ok {
		t.Error("Cookie header should not be captured")
	}
	if o.IsRedirectable() {
		t.Error("POST should not be redirectable")
	}

	encoded, err := o.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := DecodeOriginalRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeOriginalRequest() error = %v", err)
	}
	replay, err := decoded.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if err := replay.ParseForm(); err != nil || replay.PostForm.Get("text") != "hi" {
		t.Errorf("replayed form = %v, %v", replay.PostForm, err)
	}
}

func TestCaptureRejectsLargeBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(strings.Repeat("x", MaxCapturedBody+1)))
	if _, err := Capture(r); err == nil {
		t.Error("Capture() accepted an oversized body")
	}
	rest, _ := io.ReadAll(r.Body)
	if len(rest) != MaxCapturedBody+1 {
		t.Errorf("body truncated to %d bytes", len(rest))
	}
}

func TestDecodeRejectsForeignURL(t *testing.T) {
	for _, u := range []string{`{"method":"GET","url":"//evil.example/"}`, `{"method":"GET","url":"https://evil.example/"}`, `{"method":"GET","url":"/\\evil"}`} {
		if _, err := DecodeOriginalRequest(u); err == nil {
			t.Errorf("DecodeOriginalRequest(%s) succeeded", u)
		}
	}
}
