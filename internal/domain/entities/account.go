package entities

import "time"

// Account is an administrative or visitor user record of the host application.
// This service only maintains ActiveLinkCount and reads the rest.
type Account struct {
	ID              int64     `json:"id" db:"id"`
	Audience        Audience  `json:"audience" db:"-"`
	Username        string    `json:"username" db:"username"`
	StorageScope    *int64    `json:"storage_scope,omitempty" db:"storage_scope"` // visitor only
	ActiveLinkCount int       `json:"active_link_count" db:"oauth2_link_count"`
	Disabled        bool      `json:"disabled" db:"disabled"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Active returns true if the account may be logged in
func (a *Account) Active() bool {
	return !a.Disabled
}

// InScope reports whether the account lives in the given storage scope.
// Admin accounts are not partitioned and are always in scope.
func (a *Account) InScope(scope *int64) bool {
	if !a.Audience.Scoped() {
		return true
	}
	if a.StorageScope == nil || scope == nil {
		return false
	}
	return *a.StorageScope == *scope
}
