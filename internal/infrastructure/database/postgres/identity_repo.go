package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/repositories"
	"github.com/devilmonastery/oauthlink/internal/pkg/idgen"
	"github.com/devilmonastery/oauthlink/internal/pkg/metrics"
)

// IdentityLinkRepository implements repositories.IdentityLinkRepository for one audience.
// Admin and visitor links live in separate tables; visitor rows carry a storage scope
// that every read filters on.
type IdentityLinkRepository struct {
	db       *sqlx.DB
	audience entities.Audience
	q        linkQueries
	repoName string
	log      *slog.Logger
}

// linkQueries holds the audience-specific SQL
type linkQueries struct {
	findAccount  string
	lockAccount  string
	deleteActive string
	insert       string
	recount      string
	listActive   string
	deactivate   string
	getLink      string
	tombstone    string

	// identityIndex is the unique index on active remote identities
	identityIndex string
}

// linkRow represents an identity link as stored in the database
type linkRow struct {
	ID           int64          `db:"id"`
	AccountID    int64          `db:"account_id"`
	Provider     string         `db:"provider"`
	RemoteID     sql.NullString `db:"remote_id"`
	StorageScope sql.NullInt64  `db:"storage_scope"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r *linkRow) toEntity(audience entities.Audience) *entities.IdentityLink {
	link := &entities.IdentityLink{
		ID:        r.ID,
		Audience:  audience,
		AccountID: r.AccountID,
		Provider:  r.Provider,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.RemoteID.Valid {
		link.RemoteID = &r.RemoteID.String
	}
	if r.StorageScope.Valid {
		link.StorageScope = &r.StorageScope.Int64
	}
	return link
}

// NewAdminIdentityLinkRepository creates the repository for administrative links
func NewAdminIdentityLinkRepository(db *sqlx.DB) *IdentityLinkRepository {
	return newIdentityLinkRepository(db, entities.AudienceAdmin, "admin_identity_links", "admin_accounts")
}

// NewVisitorIdentityLinkRepository creates the repository for visitor links
func NewVisitorIdentityLinkRepository(db *sqlx.DB) *IdentityLinkRepository {
	return newIdentityLinkRepository(db, entities.AudienceVisitor, "visitor_identity_links", "visitor_accounts")
}

func newIdentityLinkRepository(db *sqlx.DB, audience entities.Audience, links, accounts string) *IdentityLinkRepository {
	repoName := string(audience) + "_identity_link"
	return &IdentityLinkRepository{
		db:       db,
		audience: audience,
		q:        buildLinkQueries(audience, links, accounts),
		repoName: repoName,
		log:      slog.Default().With(slog.String("repo", repoName)),
	}
}

func buildLinkQueries(audience entities.Audience, links, accounts string) linkQueries {
	linkCols := "id, account_id, provider, remote_id, NULL::bigint AS storage_scope, created_at, updated_at"
	accountCols := accountColumns(audience, "a.")
	scopeFilter := ""
	accountScope := "NULL::bigint"
	insert := fmt.Sprintf(`
		INSERT INTO %s (id, account_id, provider, remote_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`, links)
	listScope := ""

	if audience.Scoped() {
		linkCols = "id, account_id, provider, remote_id, storage_scope, created_at, updated_at"
		scopeFilter = " AND l.storage_scope = $3 AND a.storage_scope = $3"
		accountScope = "storage_scope"
		insert = fmt.Sprintf(`
			INSERT INTO %s (id, account_id, provider, remote_id, storage_scope, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $6, $5, $5)`, links)
		listScope = " AND storage_scope = $2"
	}

	return linkQueries{
		findAccount: fmt.Sprintf(`
			SELECT %s
			FROM %s l
			JOIN %s a ON a.id = l.account_id
			WHERE l.provider = $1 AND l.remote_id = $2 AND l.remote_id IS NOT NULL%s
			ORDER BY a.id
			LIMIT 2`, accountCols, links, accounts, scopeFilter),
		lockAccount: fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 FOR UPDATE`, accountScope, accounts),
		deleteActive: fmt.Sprintf(`
			DELETE FROM %s WHERE account_id = $1 AND provider = $2 AND remote_id IS NOT NULL`, links),
		insert: insert,
		recount: fmt.Sprintf(`
			UPDATE %s
			SET oauth2_link_count = (SELECT COUNT(*) FROM %s WHERE account_id = $1 AND remote_id IS NOT NULL),
			    updated_at = NOW()
			WHERE id = $1`, accounts, links),
		listActive: fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE account_id = $1 AND remote_id IS NOT NULL%s
			ORDER BY provider, id`, linkCols, links, listScope),
		deactivate: fmt.Sprintf(`
			DELETE FROM %s WHERE id = $1 AND account_id = $2 AND remote_id IS NOT NULL`, links),
		getLink: fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, linkCols, links),
		tombstone: fmt.Sprintf(`
			UPDATE %s SET remote_id = NULL, updated_at = NOW()
			WHERE id = $1
			RETURNING %s`, links, linkCols),
		identityIndex: links + "_identity_idx",
	}
}

// Audience returns the audience whose links this repository stores
func (r *IdentityLinkRepository) Audience() entities.Audience {
	return r.audience
}

func (r *IdentityLinkRepository) scopeArgs(scope *int64) ([]any, error) {
	if !r.audience.Scoped() {
		return nil, nil
	}
	if scope == nil {
		return nil, repositories.ErrStorageScopeRequired
	}
	return []any{*scope}, nil
}

// FindAccountByIdentity returns the single account linked to (provider, remoteID)
func (r *IdentityLinkRepository) FindAccountByIdentity(ctx context.Context, provider, remoteID string, scope *int64) (*entities.Account, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation(r.repoName, "find_account", time.Since(start), rowCount, err)
	}()

	if provider == "" || remoteID == "" {
		metrics.IdentityLookups.WithLabelValues(string(r.audience), "miss").Inc()
		return nil, nil
	}

	extra, err := r.scopeArgs(scope)
	if err != nil {
		return nil, err
	}

	var rows []accountRow
	args := append([]any{provider, remoteID}, extra...)
	err = r.db.SelectContext(ctx, &rows, r.q.findAccount, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by identity: %w", err)
	}
	rowCount = int64(len(rows))

	switch len(rows) {
	case 0:
		metrics.IdentityLookups.WithLabelValues(string(r.audience), "miss").Inc()
		return nil, nil
	case 1:
		metrics.IdentityLookups.WithLabelValues(string(r.audience), "hit").Inc()
		return rows[0].toEntity(r.audience), nil
	default:
		metrics.IdentityLookups.WithLabelValues(string(r.audience), "ambiguous").Inc()
		r.log.Warn("identity matches more than one account, refusing to resolve",
			slog.String("provider", provider),
			slog.Int64("first_account_id", rows[0].ID),
			slog.Int64("second_account_id", rows[1].ID))
		return nil, nil
	}
}

// LinkIdentity replaces the account's active link for provider inside one transaction.
// The account row is locked first so concurrent links for the same account serialize.
func (r *IdentityLinkRepository) LinkIdentity(ctx context.Context, provider, remoteID string, accountID int64) (*entities.IdentityLink, error) {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation(r.repoName, "link", time.Since(start), 1, err)
	}()

	if provider == "" || remoteID == "" {
		err = repositories.ErrInvalidIdentity
		return nil, err
	}

	var link *entities.IdentityLink
	err = r.withAccountLock(ctx, accountID, func(tx *sqlx.Tx, scope sql.NullInt64) error {
		if _, err := tx.ExecContext(ctx, r.q.deleteActive, accountID, provider); err != nil {
			return fmt.Errorf("failed to delete previous links: %w", err)
		}

		now := time.Now().UTC()
		row := linkRow{
			ID:           idgen.NewID(),
			AccountID:    accountID,
			Provider:     provider,
			RemoteID:     sql.NullString{String: remoteID, Valid: true},
			StorageScope: scope,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		args := []any{row.ID, row.AccountID, row.Provider, remoteID, now}
		if r.audience.Scoped() {
			args = append(args, scope)
		}
		if _, err := tx.ExecContext(ctx, r.q.insert, args...); err != nil {
			if r.isIdentityConflict(err) {
				return repositories.ErrIdentityTaken
			}
			return fmt.Errorf("failed to insert link: %w", err)
		}

		if _, err := tx.ExecContext(ctx, r.q.recount, accountID); err != nil {
			return fmt.Errorf("failed to update link count: %w", err)
		}

		link = row.toEntity(r.audience)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Debug("identity linked",
		slog.Int64("account_id", accountID),
		slog.String("provider", provider),
		slog.Int64("link_id", link.ID))
	return link, nil
}

// isIdentityConflict reports whether err is a violation of the unique index
// on active remote identities
func (r *IdentityLinkRepository) isIdentityConflict(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == r.q.identityIndex
}

// ListActiveLinks returns the account's active links ordered by provider
func (r *IdentityLinkRepository) ListActiveLinks(ctx context.Context, accountID int64, scope *int64) ([]*entities.IdentityLink, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation(r.repoName, "list_active", time.Since(start), rowCount, err)
	}()

	extra, err := r.scopeArgs(scope)
	if err != nil {
		return nil, err
	}

	var rows []linkRow
	err = r.db.SelectContext(ctx, &rows, r.q.listActive, append([]any{accountID}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active links: %w", err)
	}
	rowCount = int64(len(rows))

	links := make([]*entities.IdentityLink, 0, len(rows))
	for i := range rows {
		links = append(links, rows[i].toEntity(r.audience))
	}
	return links, nil
}

// DeactivateLink deletes an active link owned by accountID and recomputes the count
func (r *IdentityLinkRepository) DeactivateLink(ctx context.Context, linkID, accountID int64) (bool, error) {
	start := time.Now()
	var err error
	var affected int64
	defer func() {
		metrics.RecordDBOperation(r.repoName, "deactivate", time.Since(start), affected, err)
	}()

	err = r.withAccountLock(ctx, accountID, func(tx *sqlx.Tx, _ sql.NullInt64) error {
		result, err := tx.ExecContext(ctx, r.q.deactivate, linkID, accountID)
		if err != nil {
			return fmt.Errorf("failed to delete link: %w", err)
		}
		if affected, err = result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, r.q.recount, accountID); err != nil {
			return fmt.Errorf("failed to update link count: %w", err)
		}
		return nil
	})
	if errors.Is(err, repositories.ErrAccountNotFound) {
		err = nil
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Tombstone clears the remote identifier of a link and recomputes its account's count
func (r *IdentityLinkRepository) Tombstone(ctx context.Context, linkID int64) (*entities.IdentityLink, error) {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation(r.repoName, "tombstone", time.Since(start), 1, err)
	}()

	current, err := r.GetLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		err = repositories.ErrLinkNotFound
		return nil, err
	}

	var link *entities.IdentityLink
	err = r.withAccountLock(ctx, current.AccountID, func(tx *sqlx.Tx, _ sql.NullInt64) error {
		var row linkRow
		if err := tx.GetContext(ctx, &row, r.q.tombstone, linkID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repositories.ErrLinkNotFound
			}
			return fmt.Errorf("failed to tombstone link: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.q.recount, row.AccountID); err != nil {
			return fmt.Errorf("failed to update link count: %w", err)
		}
		link = row.toEntity(r.audience)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// GetLink retrieves a link by id, returns nil, nil if absent
func (r *IdentityLinkRepository) GetLink(ctx context.Context, linkID int64) (*entities.IdentityLink, error) {
	var row linkRow
	err := r.db.GetContext(ctx, &row, r.q.getLink, linkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return row.toEntity(r.audience), nil
}

// withAccountLock runs fn in a transaction holding a row lock on the account.
// Returns repositories.ErrAccountNotFound when the account does not exist.
func (r *IdentityLinkRepository) withAccountLock(ctx context.Context, accountID int64, fn func(tx *sqlx.Tx, scope sql.NullInt64) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var scope sql.NullInt64
	if err := tx.GetContext(ctx, &scope, r.q.lockAccount, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repositories.ErrAccountNotFound
		}
		return fmt.Errorf("failed to lock account: %w", err)
	}

	if err := fn(tx, scope); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ensure IdentityLinkRepository implements repositories.IdentityLinkRepository
var _ repositories.IdentityLinkRepository = (*IdentityLinkRepository)(nil)
