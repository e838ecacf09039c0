package render

import (
	"bytes"
	"strings"
	"testing"
	"testing/fstest"
)

func TestMarkdown(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		contains    []string
		notContains []string
	}{
		{
			name:     "bold text",
			input:    "Sign in with your **company** account",
			contains: []string{"<strong>", "company", "</strong>"},
		},
		{
			name:     "link",
			input:    "See [the docs](https://example.org/help)",
			contains: []string{`href="https://example.org/help"`, "the docs"},
		},
		{
			name:        "script tag removed",
			input:       "hello <script>alert('xss')</script>",
			contains:    []string{"hello"},
			notContains: []string{"<script>", "alert"},
		},
		{
			name:        "javascript link removed",
			input:       "[click](javascript:alert(1))",
			notContains: []string{"javascript:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(Markdown(tt.input))
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("Markdown(%q) = %q, want it to contain %q", tt.input, got, s)
				}
			}
			for _, s := range tt.notContains {
				if strings.Contains(got, s) {
					t.Errorf("Markdown(%q) = %q, must not contain %q", tt.input, got, s)
				}
			}
		})
	}
}

func TestDefaultTemplates(t *testing.T) {
	ts, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	for _, name := range []string{"signin.html", "verify.html"} {
		if !ts.Has(name) {
			t.Errorf("template %s not loaded, have %v", name, ts.Names())
		}
	}

	var buf bytes.Buffer
	err = ts.Execute(&buf, "verify.html", map[string]string{
		"Action":   "/oauth2/admin/verify",
		"Provider": "github",
		"Code":     `code"><script>`,
		"State":    "s1",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `action="/oauth2/admin/verify"`) || !strings.Contains(out, `value="s1"`) {
		t.Errorf("verify page missing form fields: %s", out)
	}
	if strings.Contains(out, `code"><script>`) {
		t.Error("form values are not escaped")
	}

	if err := ts.Execute(&buf, "missing.html", nil); err == nil {
		t.Error("Execute() of an unknown page succeeded")
	}
}

func TestLoadTemplatesWithoutPages(t *testing.T) {
	fsys := fstest.MapFS{
		"layouts/base.html": {Data: []byte(`{{define "base"}}{{end}}`)},
	}
	if _, err := LoadTemplates(fsys); err == nil {
		t.Error("LoadTemplates() accepted a tree without pages")
	}
}
