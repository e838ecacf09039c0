package repositories

import "errors"

// Domain-specific repository errors
var (
	// ErrAccountNotFound is returned when a link targets an account that does not exist
	ErrAccountNotFound = errors.New("account not found")

	// ErrLinkNotFound is returned when a link cannot be found
	ErrLinkNotFound = errors.New("identity link not found")

	// ErrInvalidIdentity is returned when a provider or remote identifier is empty
	ErrInvalidIdentity = errors.New("provider and remote identifier are required")

	// ErrIdentityTaken is returned when the remote identity is actively linked to another account
	ErrIdentityTaken = errors.New("identity is linked to another account")

	// ErrStorageScopeRequired is returned when a visitor query is issued without a storage scope
	ErrStorageScopeRequired = errors.New("storage scope is required for visitor links")
)
