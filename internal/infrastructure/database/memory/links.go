package memory

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/repositories"
	"github.com/devilmonastery/oauthlink/internal/pkg/idgen"
	"github.com/devilmonastery/oauthlink/internal/pkg/metrics"
)

// IdentityLinkRepository implements repositories.IdentityLinkRepository in memory
type IdentityLinkRepository struct {
	store    *Store
	audience entities.Audience
}

// Audience returns the audience whose links this repository stores
func (r *IdentityLinkRepository) Audience() entities.Audience {
	return r.audience
}

func (r *IdentityLinkRepository) checkScope(scope *int64) error {
	if r.audience.Scoped() && scope == nil {
		return repositories.ErrStorageScopeRequired
	}
	return nil
}

func (r *IdentityLinkRepository) inScope(l *entities.IdentityLink, scope *int64) bool {
	if !r.audience.Scoped() {
		return true
	}
	return l.StorageScope != nil && *l.StorageScope == *scope
}

// FindAccountByIdentity returns the single account linked to (provider, remoteID)
func (r *IdentityLinkRepository) FindAccountByIdentity(ctx context.Context, provider, remoteID string, scope *int64) (*entities.Account, error) {
	if provider == "" || remoteID == "" {
		metrics.IdentityLookups.WithLabelValues(string(r.audience), "miss").Inc()
		return nil, nil
	}
	if err := r.checkScope(scope); err != nil {
		return nil, err
	}

	r.store.mutex.RLock()
	defer r.store.mutex.RUnlock()

	var matches []*entities.Account
	for _, l := range r.store.links[r.audience] {
		if !l.Active() || l.Provider != provider || *l.RemoteID != remoteID || !r.inScope(l, scope) {
			continue
		}
		account, ok := r.store.accounts[r.audience][l.AccountID]
		if !ok || !account.InScope(scope) {
			continue
		}
		matches = append(matches, account)
	}

	switch len(matches) {
	case 0:
		metrics.IdentityLookups.WithLabelValues(string(r.audience), "miss").Inc()
		return nil, nil
	case 1:
		metrics.IdentityLookups.WithLabelValues(string(r.audience), "hit").Inc()
		return copyAccount(matches[0]), nil
	default:
		metrics.IdentityLookups.WithLabelValues(string(r.audience), "ambiguous").Inc()
		slog.Warn("identity matches more than one account, refusing to resolve",
			slog.String("audience", string(r.audience)),
			slog.String("provider", provider),
			slog.Int("matches", len(matches)))
		return nil, nil
	}
}

// LinkIdentity replaces the account's active link for provider
func (r *IdentityLinkRepository) LinkIdentity(ctx context.Context, provider, remoteID string, accountID int64) (*entities.IdentityLink, error) {
	if provider == "" || remoteID == "" {
		return nil, repositories.ErrInvalidIdentity
	}

	r.store.mutex.Lock()
	defer r.store.mutex.Unlock()

	account, ok := r.store.accounts[r.audience][accountID]
	if !ok {
		return nil, repositories.ErrAccountNotFound
	}

	for _, l := range r.store.links[r.audience] {
		if l.AccountID != accountID && l.Provider == provider && l.Active() && *l.RemoteID == remoteID &&
			sameScope(l.StorageScope, account.StorageScope, r.audience) {
			return nil, repositories.ErrIdentityTaken
		}
	}

	for id, l := range r.store.links[r.audience] {
		if l.AccountID == accountID && l.Provider == provider && l.Active() {
			delete(r.store.links[r.audience], id)
		}
	}

	now := time.Now().UTC()
	remote := remoteID
	link := &entities.IdentityLink{
		ID:        idgen.NewID(),
		Audience:  r.audience,
		AccountID: accountID,
		Provider:  provider,
		RemoteID:  &remote,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if r.audience.Scoped() && account.StorageScope != nil {
		scope := *account.StorageScope
		link.StorageScope = &scope
	}
	r.store.links[r.audience][link.ID] = link
	r.store.recount(r.audience, accountID)

	return copyLink(link), nil
}

// ListActiveLinks returns the account's active links ordered by provider
func (r *IdentityLinkRepository) ListActiveLinks(ctx context.Context, accountID int64, scope *int64) ([]*entities.IdentityLink, error) {
	if err := r.checkScope(scope); err != nil {
		return nil, err
	}

	r.store.mutex.RLock()
	defer r.store.mutex.RUnlock()

	links := make([]*entities.IdentityLink, 0)
	for _, l := range r.store.links[r.audience] {
		if l.AccountID == accountID && l.Active() && r.inScope(l, scope) {
			links = append(links, copyLink(l))
		}
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].Provider != links[j].Provider {
			return links[i].Provider < links[j].Provider
		}
		return links[i].ID < links[j].ID
	})
	return links, nil
}

// DeactivateLink deletes an active link owned by accountID
func (r *IdentityLinkRepository) DeactivateLink(ctx context.Context, linkID, accountID int64) (bool, error) {
	r.store.mutex.Lock()
	defer r.store.mutex.Unlock()

	l, ok := r.store.links[r.audience][linkID]
	if !ok || l.AccountID != accountID || !l.Active() {
		return false, nil
	}
	delete(r.store.links[r.audience], linkID)
	r.store.recount(r.audience, accountID)
	return true, nil
}

// Tombstone clears the remote identifier of a link
func (r *IdentityLinkRepository) Tombstone(ctx context.Context, linkID int64) (*entities.IdentityLink, error) {
	r.store.mutex.Lock()
	defer r.store.mutex.Unlock()

	l, ok := r.store.links[r.audience][linkID]
	if !ok {
		return nil, repositories.ErrLinkNotFound
	}
	l.RemoteID = nil
	l.UpdatedAt = time.Now().UTC()
	r.store.recount(r.audience, l.AccountID)
	return copyLink(l), nil
}

// GetLink retrieves a link by id, returns nil, nil if absent
func (r *IdentityLinkRepository) GetLink(ctx context.Context, linkID int64) (*entities.IdentityLink, error) {
	r.store.mutex.RLock()
	defer r.store.mutex.RUnlock()

	l, ok := r.store.links[r.audience][linkID]
	if !ok {
		return nil, nil
	}
	return copyLink(l), nil
}

var _ repositories.IdentityLinkRepository = (*IdentityLinkRepository)(nil)

// sameScope reports whether two links share a storage scope. Admin links
// have none and always share.
func sameScope(a, b *int64, audience entities.Audience) bool {
	if !audience.Scoped() {
		return true
	}
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
