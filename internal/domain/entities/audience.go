package entities

import "fmt"

// Audience is the user population a provider, link or account belongs to
type Audience string

const (
	AudienceAdmin   Audience = "admin"
	AudienceVisitor Audience = "visitor"
)

// Audiences lists every known audience
var Audiences = []Audience{AudienceAdmin, AudienceVisitor}

// ParseAudience converts a path or config value into an Audience
func ParseAudience(s string) (Audience, error) {
	switch a := Audience(s); a {
	case AudienceAdmin, AudienceVisitor:
		return a, nil
	default:
		return "", fmt.Errorf("unknown audience %q", s)
	}
}

// Valid reports whether a is a known audience
func (a Audience) Valid() bool {
	return a == AudienceAdmin || a == AudienceVisitor
}

// Scoped reports whether rows of this audience are partitioned by storage scope
func (a Audience) Scoped() bool {
	return a == AudienceVisitor
}

func (a Audience) String() string {
	return string(a)
}
