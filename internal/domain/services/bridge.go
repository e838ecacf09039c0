package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/repositories"
	"github.com/devilmonastery/oauthlink/internal/pkg/logger"
)

// SessionIssuer establishes a host session for an account, see auth.JWTManager
type SessionIssuer interface {
	Issue(account *entities.Account, provider string) (*entities.HostSession, error)
}

// LookupHook runs after the repository lookup of a visitor identity. It
// receives the account found, possibly nil, and may return another one.
type LookupHook func(ctx context.Context, providerID string, identity *entities.ResolvedIdentity, found *entities.Account) (*entities.Account, error)

// Bridge logs an account in from a resolved remote identity. It never
// creates accounts: an identity must have been linked by a logged-in
// account first.
type Bridge struct {
	audience entities.Audience
	links    repositories.IdentityLinkRepository
	issuer   SessionIssuer
	audit    *auditor
	hook     LookupHook
}

// NewAdminBridge creates the bridge of the admin audience
func NewAdminBridge(repos *repositories.Repositories, issuer SessionIssuer) *Bridge {
	return &Bridge{
		audience: entities.AudienceAdmin,
		links:    repos.AdminLinks,
		issuer:   issuer,
		audit:    newAuditor(repos.Audit),
	}
}

// NewVisitorBridge creates the bridge of the visitor audience. hook may be nil.
func NewVisitorBridge(repos *repositories.Repositories, issuer SessionIssuer, hook LookupHook) *Bridge {
	return &Bridge{
		audience: entities.AudienceVisitor,
		links:    repos.VisitorLinks,
		issuer:   issuer,
		audit:    newAuditor(repos.Audit),
		hook:     hook,
	}
}

// Audience returns the audience the bridge logs in
func (b *Bridge) Audience() entities.Audience {
	return b.audience
}

// ResolveAndAuthenticate finds the account linked to identity and issues a
// host session for it
func (b *Bridge) ResolveAndAuthenticate(ctx context.Context, providerID string, identity *entities.ResolvedIdentity, scope *int64, meta RequestMeta) (*entities.HostSession, error) {
	log := logger.WithFlow(logger.FromContext(ctx), string(b.audience), providerID)

	account, err := b.resolve(ctx, providerID, identity, scope)
	if err != nil {
		log.Warn("login failed",
			slog.String("state", string(StateFailed)),
			slog.String("reason", FailureReason(err)),
			slog.String("error", err.Error()))
		b.audit.record(ctx, meta.apply(entities.NewAuditLog(b.audience, nil, entities.ActionLoginFailed, entities.ResourceAccount).
			WithMetadata("provider", providerID).
			WithError(err)))
		return nil, &FlowError{Audience: b.audience, Provider: providerID, Reached: StateResolved, Err: err}
	}

	hostSession, err := b.issuer.Issue(account, providerID)
	if err != nil {
		return nil, &FlowError{Audience: b.audience, Provider: providerID, Reached: StateResolved,
			Err: failure(ErrPersistence, fmt.Errorf("failed to issue host session: %w", err))}
	}

	logger.WithAccount(log, account.ID).Info("login succeeded")
	b.audit.record(ctx, meta.apply(entities.NewAuditLog(b.audience, &account.ID, entities.ActionLoginSucceeded, entities.ResourceAccount).
		WithResourceID(account.ID).
		WithMetadata("provider", providerID)))
	return hostSession, nil
}

func (b *Bridge) resolve(ctx context.Context, providerID string, identity *entities.ResolvedIdentity, scope *int64) (*entities.Account, error) {
	if identity == nil || identity.RemoteID == "" || identity.ProviderID != providerID {
		return nil, failure(ErrAuthenticationFailed, errors.New("no usable identity"))
	}
	if b.audience.Scoped() && scope == nil {
		return nil, failure(ErrAuthenticationFailed, repositories.ErrStorageScopeRequired)
	}

	account, err := b.links.FindAccountByIdentity(ctx, providerID, identity.RemoteID, scope)
	if err != nil {
		return nil, failure(ErrPersistence, err)
	}

	if b.hook != nil {
		account, err = b.hook(ctx, providerID, identity, account)
		if err != nil {
			return nil, failure(ErrAuthenticationFailed, fmt.Errorf("lookup hook: %w", err))
		}
	}

	switch {
	case account == nil:
		return nil, failure(ErrAuthenticationFailed, errors.New("no account linked to identity"))
	case account.Audience != b.audience:
		return nil, failure(ErrAuthenticationFailed, fmt.Errorf("account belongs to %s", account.Audience))
	case !account.Active():
		return nil, failure(ErrAuthenticationFailed, errors.New("account is disabled"))
	case !account.InScope(scope):
		return nil, failure(ErrAuthenticationFailed, errors.New("account is outside the storage scope"))
	}
	return account, nil
}
