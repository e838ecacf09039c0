package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/repositories"
	"github.com/devilmonastery/oauthlink/internal/pkg/logger"
	"github.com/devilmonastery/oauthlink/internal/pkg/metrics"
)

// RequestMeta describes the browser request behind an operation, for the audit log
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

func (m RequestMeta) apply(a *entities.AuditLog) *entities.AuditLog {
	if m.IPAddress != "" {
		a = a.WithIPAddress(m.IPAddress)
	}
	if m.UserAgent != "" {
		a = a.WithUserAgent(m.UserAgent)
	}
	return a
}

// LinkService manages the identity links of logged-in accounts
type LinkService struct {
	repos *repositories.Repositories
	audit *auditor
}

// NewLinkService creates a new link service
func NewLinkService(repos *repositories.Repositories) *LinkService {
	return &LinkService{repos: repos, audit: newAuditor(repos.Audit)}
}

func (s *LinkService) links(audience entities.Audience) (repositories.IdentityLinkRepository, error) {
	repo := s.repos.Links(audience)
	if repo == nil {
		return nil, fmt.Errorf("no link repository for audience %q", audience)
	}
	return repo, nil
}

// Link attaches a resolved identity to accountID, replacing the account's
// previous link for the same provider. An identity already linked to
// another account is refused since it would make lookups ambiguous.
func (s *LinkService) Link(ctx context.Context, audience entities.Audience, accountID int64, identity *entities.ResolvedIdentity, scope *int64, meta RequestMeta) (link *entities.IdentityLink, err error) {
	if identity == nil || identity.ProviderID == "" || identity.RemoteID == "" {
		return nil, failure(ErrIdentityFetchFailed, repositories.ErrInvalidIdentity)
	}

	log := logger.WithAccount(logger.WithFlow(logger.FromContext(ctx), string(audience), identity.ProviderID), accountID)
	defer func() {
		metrics.RecordLinkOperation(string(audience), "link", err)
		if err != nil {
			log.Warn("link failed", slog.String("state", string(StateFailed)), slog.String("reason", FailureReason(err)))
			s.audit.record(ctx, meta.apply(entities.NewAuditLog(audience, &accountID, entities.ActionLinkFailed, entities.ResourceIdentityLink).
				WithMetadata("provider", identity.ProviderID).
				WithError(err)))
			err = &FlowError{Audience: audience, Provider: identity.ProviderID, Reached: StateResolved, Err: err}
		}
	}()

	repo, err := s.links(audience)
	if err != nil {
		return nil, failure(ErrPersistence, err)
	}

	owner, err := repo.FindAccountByIdentity(ctx, identity.ProviderID, identity.RemoteID, scope)
	if err != nil {
		return nil, failure(ErrPersistence, err)
	}
	if owner != nil && owner.ID != accountID {
		log.Warn("identity already linked to another account", slog.Int64("owner_id", owner.ID))
		return nil, ErrAmbiguousIdentity
	}

	link, err = repo.LinkIdentity(ctx, identity.ProviderID, identity.RemoteID, accountID)
	if errors.Is(err, repositories.ErrIdentityTaken) {
		log.Warn("identity was linked to another account concurrently")
		return nil, failure(ErrAmbiguousIdentity, err)
	}
	if err != nil {
		return nil, failure(ErrPersistence, err)
	}

	log.Info("identity linked", slog.String("state", string(StateLinked)), slog.Int64("link_id", link.ID))
	s.audit.record(ctx, meta.apply(entities.NewAuditLog(audience, &accountID, entities.ActionLinkCreated, entities.ResourceIdentityLink).
		WithResourceID(link.ID).
		WithMetadata("provider", identity.ProviderID).
		WithMetadata("display_name", identity.DisplayName())))
	return link, nil
}

// List returns the active links of an account
func (s *LinkService) List(ctx context.Context, audience entities.Audience, accountID int64, scope *int64) ([]*entities.IdentityLink, error) {
	repo, err := s.links(audience)
	if err != nil {
		return nil, failure(ErrPersistence, err)
	}
	links, err := repo.ListActiveLinks(ctx, accountID, scope)
	if err != nil {
		return nil, failure(ErrPersistence, err)
	}
	return links, nil
}

// Deactivate removes one of the account's links. Removing a link the
// account does not own reports false and no error.
func (s *LinkService) Deactivate(ctx context.Context, audience entities.Audience, accountID, linkID int64, meta RequestMeta) (removed bool, err error) {
	defer func() { metrics.RecordLinkOperation(string(audience), "deactivate", err) }()

	repo, err := s.links(audience)
	if err != nil {
		return false, failure(ErrPersistence, err)
	}
	removed, err = repo.DeactivateLink(ctx, linkID, accountID)
	if err != nil {
		return false, failure(ErrPersistence, err)
	}

	if removed {
		logger.WithAccount(logger.FromContext(ctx), accountID).Info("identity link deactivated", slog.Int64("link_id", linkID))
		s.audit.record(ctx, meta.apply(entities.NewAuditLog(audience, &accountID, entities.ActionLinkDeactivated, entities.ResourceIdentityLink).
			WithResourceID(linkID)))
	}
	return removed, nil
}

// Tombstone deactivates a link on behalf of an operator, keeping the row
func (s *LinkService) Tombstone(ctx context.Context, audience entities.Audience, linkID int64, reason string) (link *entities.IdentityLink, err error) {
	defer func() { metrics.RecordLinkOperation(string(audience), "tombstone", err) }()

	repo, err := s.links(audience)
	if err != nil {
		return nil, failure(ErrPersistence, err)
	}
	link, err = repo.Tombstone(ctx, linkID)
	if errors.Is(err, repositories.ErrLinkNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, failure(ErrPersistence, err)
	}

	logger.FromContext(ctx).Info("identity link tombstoned",
		slog.String("audience", string(audience)),
		slog.Int64("link_id", linkID),
		slog.Int64("account_id", link.AccountID))
	s.audit.record(ctx, entities.NewAuditLog(audience, &link.AccountID, entities.ActionLinkTombstoned, entities.ResourceIdentityLink).
		WithResourceID(linkID).
		WithMetadata("provider", link.Provider).
		WithMetadata("reason", reason))
	return link, nil
}

// auditor writes audit entries best-effort
type auditor struct {
	repo repositories.AuditRepository
}

func newAuditor(repo repositories.AuditRepository) *auditor {
	return &auditor{repo: repo}
}

func (a *auditor) record(ctx context.Context, entry *entities.AuditLog) {
	if a == nil || a.repo == nil {
		return
	}
	if err := a.repo.Create(ctx, entry); err != nil {
		logger.FromContext(ctx).Error("failed to write audit log",
			slog.String("action", string(entry.Action)),
			slog.String("error", err.Error()))
	}
}
