package repositories

import (
	"context"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
)

// Repositories is a collection of all repository interfaces
type Repositories struct {
	AdminLinks      IdentityLinkRepository
	VisitorLinks    IdentityLinkRepository
	AdminAccounts   AccountRepository
	VisitorAccounts AccountRepository
	Audit           AuditRepository
}

// Links returns the identity link repository of an audience
func (r *Repositories) Links(audience entities.Audience) IdentityLinkRepository {
	switch audience {
	case entities.AudienceAdmin:
		return r.AdminLinks
	case entities.AudienceVisitor:
		return r.VisitorLinks
	}
	return nil
}

// Accounts returns the account repository of an audience
func (r *Repositories) Accounts(audience entities.Audience) AccountRepository {
	switch audience {
	case entities.AudienceAdmin:
		return r.AdminAccounts
	case entities.AudienceVisitor:
		return r.VisitorAccounts
	}
	return nil
}

// HealthChecker defines health check interface for repositories
type HealthChecker interface {
	// HealthCheck performs a health check on the repository
	HealthCheck(ctx context.Context) error
}
