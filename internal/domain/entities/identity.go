package entities

import (
	"strconv"
	"time"
)

// IdentityLink maps a (provider, remote identifier) pair to a local account.
// An account holds at most one active link per provider.
type IdentityLink struct {
	ID        int64    `json:"id" db:"id"`
	Audience  Audience `json:"audience" db:"-"`
	AccountID int64    `json:"account_id" db:"account_id"`
	Provider  string   `json:"provider" db:"provider"`
	// RemoteID is nil once the link has been tombstoned. Tombstoned links
	// never match a lookup and are not listed.
	RemoteID     *string   `json:"remote_id,omitempty" db:"remote_id"`
	StorageScope *int64    `json:"storage_scope,omitempty" db:"storage_scope"` // visitor only
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Active returns true if the link still carries a remote identifier
func (l *IdentityLink) Active() bool {
	return l.RemoteID != nil && *l.RemoteID != ""
}

// ProviderKey returns a formatted provider+remote_id string for logging
func (l *IdentityLink) ProviderKey() string {
	if !l.Active() {
		return l.Provider + ":<tombstoned>"
	}
	return l.Provider + ":" + *l.RemoteID
}

// ResolvedIdentity is the remote identity obtained at the end of a successful flow
type ResolvedIdentity struct {
	ProviderID  string
	RemoteID    string
	AccessToken string
	TokenType   string
	Expiry      time.Time
	RawProfile  map[string]any
}

// DisplayName returns the best human readable name found in the remote profile
func (r *ResolvedIdentity) DisplayName() string {
	for _, key := range []string{"name", "login", "preferred_username", "email"} {
		if v, ok := r.RawProfile[key].(string); ok && v != "" {
			return v
		}
	}
	return r.RemoteID
}

// FormatID renders a numeric row id the way it appears in URLs and audit entries
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
