package entities

import (
	"errors"
	"testing"
)

func TestParseAudience(t *testing.T) {
	tests := []struct {
		in      string
		want    Audience
		wantErr bool
	}{
		{"admin", AudienceAdmin, false},
		{"visitor", AudienceVisitor, false},
		{"Admin", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAudience(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAudience(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAudience(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIdentityLinkActive(t *testing.T) {
	remote := "42"
	empty := ""

	tests := []struct {
		name string
		link IdentityLink
		want bool
		key  string
	}{
		{"active", IdentityLink{Provider: "github", RemoteID: &remote}, true, "github:42"},
		{"tombstoned", IdentityLink{Provider: "github"}, false, "github:<tombstoned>"},
		{"empty remote id", IdentityLink{Provider: "github", RemoteID: &empty}, false, "github:<tombstoned>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.link.Active(); got != tt.want {
				t.Errorf("Active() = %v, want %v", got, tt.want)
			}
			if got := tt.link.ProviderKey(); got != tt.key {
				t.Errorf("ProviderKey() = %q, want %q", got, tt.key)
			}
		})
	}
}

func TestAccountInScope(t *testing.T) {
	a, b := int64(1), int64(2)

	admin := &Account{Audience: AudienceAdmin}
	if !admin.InScope(nil) || !admin.InScope(&b) {
		t.Error("admin accounts should be in every scope")
	}

	visitor := &Account{Audience: AudienceVisitor, StorageScope: &a}
	if !visitor.InScope(&a) {
		t.Error("visitor should be in its own scope")
	}
	if visitor.InScope(&b) {
		t.Error("visitor should not be in another scope")
	}
	if visitor.InScope(nil) {
		t.Error("visitor should not match a missing scope")
	}
}

func TestResolvedIdentityDisplayName(t *testing.T) {
	r := &ResolvedIdentity{RemoteID: "42", RawProfile: map[string]any{"login": "octocat"}}
	if got := r.DisplayName(); got != "octocat" {
		t.Errorf("DisplayName() = %q, want octocat", got)
	}

	r = &ResolvedIdentity{RemoteID: "42"}
	if got := r.DisplayName(); got != "42" {
		t.Errorf("DisplayName() = %q, want remote id fallback", got)
	}
}

func TestAuditLogBuilder(t *testing.T) {
	id := int64(7)
	entry := NewAuditLog(AudienceAdmin, &id, ActionLinkCreated, ResourceIdentityLink).
		WithResourceID(99).
		WithMetadata("provider", "github")

	if entry.ResourceID == nil || *entry.ResourceID != "99" {
		t.Errorf("ResourceID = %v, want 99", entry.ResourceID)
	}
	if entry.IsSecurityEvent() {
		t.Error("successful link should not be a security event")
	}

	entry.WithError(errors.New("boom"))
	if entry.Success || !entry.IsSecurityEvent() {
		t.Error("failed entry should be a security event")
	}

	data, err := entry.MarshalMetadataToJSON()
	if err != nil {
		t.Fatalf("MarshalMetadataToJSON() error = %v", err)
	}
	var decoded AuditLog
	if err := decoded.UnmarshalMetadataFromJSON(data); err != nil {
		t.Fatalf("UnmarshalMetadataFromJSON() error = %v", err)
	}
	if decoded.Metadata["provider"] != "github" {
		t.Errorf("metadata round trip lost provider: %v", decoded.Metadata)
	}
}
