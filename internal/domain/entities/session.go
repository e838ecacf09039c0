package entities

import "time"

// HostSession is the authenticated session established for an account after login
type HostSession struct {
	Token        string    `json:"-"`
	AccountID    int64     `json:"account_id"`
	Audience     Audience  `json:"audience"`
	Username     string    `json:"username"`
	StorageScope *int64    `json:"storage_scope,omitempty"`
	Provider     string    `json:"provider"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IsExpired returns true if the host session has expired
func (s *HostSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
