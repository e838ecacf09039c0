package repositories

import (
	"context"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
)

// AccountRepository defines the interface for host account data access
type AccountRepository interface {
	// Create creates a new account
	Create(ctx context.Context, account *entities.Account) error

	// GetByID retrieves an account by ID, returns nil, nil if absent
	GetByID(ctx context.Context, id int64) (*entities.Account, error)

	// GetByUsername retrieves an account by username within a storage scope
	GetByUsername(ctx context.Context, username string, scope *int64) (*entities.Account, error)
}
