package repositories

import (
	"context"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
)

// AuditRepository defines the interface for audit log data access
type AuditRepository interface {
	// Create a new audit log entry
	Create(ctx context.Context, log *entities.AuditLog) error

	// ListByAccount retrieves the most recent entries for an account, newest first
	ListByAccount(ctx context.Context, audience entities.Audience, accountID int64, limit int) ([]*entities.AuditLog, error)
}
