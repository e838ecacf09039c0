package memory

import (
	"context"
	"time"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/repositories"
	"github.com/devilmonastery/oauthlink/internal/pkg/idgen"
)

// AuditRepository implements repositories.AuditRepository in memory
type AuditRepository struct {
	store *Store
}

// Create appends an audit log entry
func (r *AuditRepository) Create(ctx context.Context, log *entities.AuditLog) error {
	if log.ID == 0 {
		log.ID = idgen.NewID()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	r.store.mutex.Lock()
	defer r.store.mutex.Unlock()

	entry := *log
	r.store.audit = append(r.store.audit, &entry)
	return nil
}

// ListByAccount retrieves the most recent entries for an account, newest first
func (r *AuditRepository) ListByAccount(ctx context.Context, audience entities.Audience, accountID int64, limit int) ([]*entities.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	r.store.mutex.RLock()
	defer r.store.mutex.RUnlock()

	var out []*entities.AuditLog
	for i := len(r.store.audit) - 1; i >= 0 && len(out) < limit; i-- {
		entry := r.store.audit[i]
		if entry.Audience == audience && entry.AccountID != nil && *entry.AccountID == accountID {
			c := *entry
			out = append(out, &c)
		}
	}
	return out, nil
}

var _ repositories.AuditRepository = (*AuditRepository)(nil)
