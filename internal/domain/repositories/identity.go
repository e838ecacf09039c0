package repositories

import (
	"context"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
)

// IdentityLinkRepository defines data access for the identity links of one audience.
// Visitor implementations partition every read by storage scope; admin
// implementations ignore the scope argument.
type IdentityLinkRepository interface {
	// Audience returns the audience whose links this repository stores
	Audience() entities.Audience

	// FindAccountByIdentity returns the account owning the active link for
	// (provider, remoteID). Returns nil, nil when no account matches and
	// also when more than one account matches, so an ambiguous identity
	// never grants access.
	FindAccountByIdentity(ctx context.Context, provider, remoteID string, scope *int64) (*entities.Account, error)

	// LinkIdentity replaces any active link the account holds for provider
	// with a link to remoteID and recomputes the account's link count, all
	// in one transaction serialized per account.
	LinkIdentity(ctx context.Context, provider, remoteID string, accountID int64) (*entities.IdentityLink, error)

	// ListActiveLinks returns the account's active links ordered by provider
	ListActiveLinks(ctx context.Context, accountID int64, scope *int64) ([]*entities.IdentityLink, error)

	// DeactivateLink deletes the link if it is an active link owned by
	// accountID and reports whether anything was removed. A link owned by
	// someone else, or already gone, is a no-op.
	DeactivateLink(ctx context.Context, linkID, accountID int64) (bool, error)

	// Tombstone clears the remote identifier of a link so it never matches
	// again, keeping the row for audit
	Tombstone(ctx context.Context, linkID int64) (*entities.IdentityLink, error)

	// GetLink retrieves a link by id, tombstoned or not
	GetLink(ctx context.Context, linkID int64) (*entities.IdentityLink, error)
}
