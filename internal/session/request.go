package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/devilmonastery/oauthlink/internal/pkg/urlutil"
)

// MaxCapturedBody bounds the request body kept for replay, the session
// cookie has to carry it with the cookie backend
const MaxCapturedBody = 1024

var capturedHeaders = []string{"Accept", "Accept-Language", "Content-Type"}

// OriginalRequest is a request captured before a login so it can be
// replayed once the visitor is authenticated
type OriginalRequest struct {
	Method string              `json:"method"`
	URL    string              `json:"url"`
	Header map[string][]string `json:"header,omitempty"`
	Body   []byte              `json:"body,omitempty"`
}

// Capture snapshots r. Only the path and query are kept so a replay can
// never leave the host. The request body stays readable by later handlers.
func Capture(r *http.Request) (*OriginalRequest, error) {
	o := &OriginalRequest{
		Method: r.Method,
		URL:    r.URL.RequestURI(),
		Header: make(map[string][]string),
	}
	for _, h := range capturedHeaders {
		if v := r.Header.Values(h); len(v) > 0 {
			o.Header[h] = v
		}
	}

	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxCapturedBody+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
		if len(body) > MaxCapturedBody {
			return nil, fmt.Errorf("request body exceeds %d bytes", MaxCapturedBody)
		}
		o.Body = body
	}
	return o, nil
}

// Encode serialises the request for the session
func (o *OriginalRequest) Encode() (string, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("failed to encode original request: %w", err)
	}
	return string(data), nil
}

// DecodeOriginalRequest parses a value written by Encode
func DecodeOriginalRequest(s string) (*OriginalRequest, error) {
	var o OriginalRequest
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		return nil, fmt.Errorf("failed to decode original request: %w", err)
	}
	if !urlutil.IsLocalPath(o.URL) {
		return nil, fmt.Errorf("original request url %q is not a local path", o.URL)
	}
	return &o, nil
}

// IsRedirectable reports whether the request can be replayed as a plain redirect
func (o *OriginalRequest) IsRedirectable() bool {
	return o.Method == http.MethodGet || o.Method == http.MethodHead
}

// Rebuild creates a new request equivalent to the captured one
func (o *OriginalRequest) Rebuild(ctx context.Context) (*http.Request, error) {
	if !urlutil.IsLocalPath(o.URL) {
		return nil, fmt.Errorf("original request url %q is not a local path", o.URL)
	}
	req, err := http.NewRequestWithContext(ctx, o.Method, o.URL, bytes.NewReader(o.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild request: %w", err)
	}
	for k, v := range o.Header {
		for _, vv := range v {
			req.Header.Add(k, vv)
		}
	}
	req.RequestURI = o.URL
	return req, nil
}
