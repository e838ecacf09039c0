package oidc

import (
	"reflect"
	"testing"
)

func TestDomainAllowed(t *testing.T) {
	allowed := []string{"example.org", "corp.example"}

	tests := []struct {
		name    string
		email   string
		hd      string
		domains []string
		want    bool
	}{
		{"no allowlist", "anyone@elsewhere.net", "", nil, true},
		{"allowed domain", "alice@example.org", "", allowed, true},
		{"case insensitive", "alice@EXAMPLE.org", "", allowed, true},
		{"other domain", "mallory@example.net", "", allowed, false},
		{"suffix is not a match", "mallory@evilexample.org", "", allowed, false},
		{"subdomain is not a match", "bob@mail.example.org", "", allowed, false},
		{"hosted domain", "bob@gmail.com", "corp.example", allowed, true},
		{"missing email", "", "", allowed, false},
		{"trailing at", "alice@", "", allowed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DomainAllowed(tt.email, tt.hd, tt.domains); got != tt.want {
				t.Errorf("DomainAllowed(%q, %q) = %v, want %v", tt.email, tt.hd, got, tt.want)
			}
		})
	}
}

func TestParseDomains(t *testing.T) {
	got := ParseDomains(" Example.org, ,corp.example,example.org ")
	want := []string{"example.org", "corp.example"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseDomains() = %v, want %v", got, want)
	}
	if ParseDomains("") != nil {
		t.Error("empty option should give an empty allowlist")
	}
}
