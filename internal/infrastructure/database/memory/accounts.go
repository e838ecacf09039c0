package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/repositories"
	"github.com/devilmonastery/oauthlink/internal/pkg/idgen"
)

// AccountRepository implements repositories.AccountRepository in memory
type AccountRepository struct {
	store    *Store
	audience entities.Audience
}

// Create creates a new account
func (r *AccountRepository) Create(ctx context.Context, account *entities.Account) error {
	if account.Username == "" {
		return fmt.Errorf("username is required")
	}
	if r.audience.Scoped() && account.StorageScope == nil {
		return repositories.ErrStorageScopeRequired
	}

	r.store.mutex.Lock()
	defer r.store.mutex.Unlock()

	for _, existing := range r.store.accounts[r.audience] {
		if existing.Username == account.Username && existing.InScope(account.StorageScope) {
			return fmt.Errorf("failed to create account: username %q already exists", account.Username)
		}
	}

	if account.ID == 0 {
		account.ID = idgen.NewID()
	}
	if _, exists := r.store.accounts[r.audience][account.ID]; exists {
		return fmt.Errorf("failed to create account: id %d already exists", account.ID)
	}

	now := time.Now().UTC()
	account.Audience = r.audience
	account.ActiveLinkCount = 0
	account.CreatedAt = now
	account.UpdatedAt = now
	if !r.audience.Scoped() {
		account.StorageScope = nil
	}
	r.store.accounts[r.audience][account.ID] = copyAccount(account)
	return nil
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*entities.Account, error) {
	r.store.mutex.RLock()
	defer r.store.mutex.RUnlock()

	account, ok := r.store.accounts[r.audience][id]
	if !ok {
		return nil, nil
	}
	return copyAccount(account), nil
}

// GetByUsername retrieves an account by username within a storage scope
func (r *AccountRepository) GetByUsername(ctx context.Context, username string, scope *int64) (*entities.Account, error) {
	if r.audience.Scoped() && scope == nil {
		return nil, repositories.ErrStorageScopeRequired
	}

	r.store.mutex.RLock()
	defer r.store.mutex.RUnlock()

	for _, account := range r.store.accounts[r.audience] {
		if account.Username == username && account.InScope(scope) {
			return copyAccount(account), nil
		}
	}
	return nil, nil
}

var _ repositories.AccountRepository = (*AccountRepository)(nil)
