// Package memory provides in-process repositories with the same semantics as
// the PostgreSQL ones. Used by tests and by `serve --dev`.
package memory

import (
	"sync"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/repositories"
)

// Store holds accounts, links and audit entries of both audiences
type Store struct {
	mutex    sync.RWMutex
	accounts map[entities.Audience]map[int64]*entities.Account
	links    map[entities.Audience]map[int64]*entities.IdentityLink
	audit    []*entities.AuditLog
}

// NewStore creates an empty store
func NewStore() *Store {
	s := &Store{
		accounts: make(map[entities.Audience]map[int64]*entities.Account),
		links:    make(map[entities.Audience]map[int64]*entities.IdentityLink),
	}
	for _, a := range entities.Audiences {
		s.accounts[a] = make(map[int64]*entities.Account)
		s.links[a] = make(map[int64]*entities.IdentityLink)
	}
	return s
}

// Repositories returns repositories backed by this store
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		AdminLinks:      &IdentityLinkRepository{store: s, audience: entities.AudienceAdmin},
		VisitorLinks:    &IdentityLinkRepository{store: s, audience: entities.AudienceVisitor},
		AdminAccounts:   &AccountRepository{store: s, audience: entities.AudienceAdmin},
		VisitorAccounts: &AccountRepository{store: s, audience: entities.AudienceVisitor},
		Audit:           &AuditRepository{store: s},
	}
}

// recount stores the number of active links of an account. Caller holds the write lock.
func (s *Store) recount(audience entities.Audience, accountID int64) {
	account, ok := s.accounts[audience][accountID]
	if !ok {
		return
	}
	n := 0
	for _, l := range s.links[audience] {
		if l.AccountID == accountID && l.Active() {
			n++
		}
	}
	account.ActiveLinkCount = n
}

func copyAccount(a *entities.Account) *entities.Account {
	c := *a
	if a.StorageScope != nil {
		scope := *a.StorageScope
		c.StorageScope = &scope
	}
	return &c
}

func copyLink(l *entities.IdentityLink) *entities.IdentityLink {
	c := *l
	if l.RemoteID != nil {
		remote := *l.RemoteID
		c.RemoteID = &remote
	}
	if l.StorageScope != nil {
		scope := *l.StorageScope
		c.StorageScope = &scope
	}
	return &c
}
