package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/repositories"
	"github.com/devilmonastery/oauthlink/internal/pkg/idgen"
	"github.com/devilmonastery/oauthlink/internal/pkg/metrics"
)

// AccountRepository implements repositories.AccountRepository for one audience
type AccountRepository struct {
	db       *sqlx.DB
	audience entities.Audience
	table    string
	repoName string
	log      *slog.Logger
}

// accountRow represents an account as stored in the database
type accountRow struct {
	ID           int64         `db:"id"`
	Username     string        `db:"username"`
	StorageScope sql.NullInt64 `db:"storage_scope"`
	LinkCount    int           `db:"oauth2_link_count"`
	Disabled     bool          `db:"disabled"`
	CreatedAt    time.Time     `db:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"`
}

// toEntity converts an accountRow to a domain entity
func (r *accountRow) toEntity(audience entities.Audience) *entities.Account {
	account := &entities.Account{
		ID:              r.ID,
		Audience:        audience,
		Username:        r.Username,
		ActiveLinkCount: r.LinkCount,
		Disabled:        r.Disabled,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.StorageScope.Valid {
		account.StorageScope = &r.StorageScope.Int64
	}
	return account
}

// accountColumns returns the select list of an account table. Admin accounts
// have no storage scope column, a NULL keeps the row shape identical.
func accountColumns(audience entities.Audience, prefix string) string {
	scope := "NULL::bigint AS storage_scope"
	if audience.Scoped() {
		scope = prefix + "storage_scope"
	}
	cols := []string{
		prefix + "id",
		prefix + "username",
		scope,
		prefix + "oauth2_link_count",
		prefix + "disabled",
		prefix + "created_at",
		prefix + "updated_at",
	}
	return strings.Join(cols, ", ")
}

// NewAdminAccountRepository creates the repository for administrative accounts
func NewAdminAccountRepository(db *sqlx.DB) *AccountRepository {
	return newAccountRepository(db, entities.AudienceAdmin, "admin_accounts")
}

// NewVisitorAccountRepository creates the repository for visitor accounts
func NewVisitorAccountRepository(db *sqlx.DB) *AccountRepository {
	return newAccountRepository(db, entities.AudienceVisitor, "visitor_accounts")
}

func newAccountRepository(db *sqlx.DB, audience entities.Audience, table string) *AccountRepository {
	repoName := string(audience) + "_account"
	return &AccountRepository{
		db:       db,
		audience: audience,
		table:    table,
		repoName: repoName,
		log:      slog.Default().With(slog.String("repo", repoName)),
	}
}

// Create creates a new account
func (r *AccountRepository) Create(ctx context.Context, account *entities.Account) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation(r.repoName, "create", time.Since(start), 1, err)
	}()

	if account.Username == "" {
		err = fmt.Errorf("username is required")
		return err
	}
	if r.audience.Scoped() && account.StorageScope == nil {
		err = repositories.ErrStorageScopeRequired
		return err
	}

	if account.ID == 0 {
		account.ID = idgen.NewID()
	}
	now := time.Now().UTC()
	account.Audience = r.audience
	account.ActiveLinkCount = 0
	account.CreatedAt = now
	account.UpdatedAt = now

	var query string
	args := []any{account.ID, account.Username, account.Disabled, now}
	if r.audience.Scoped() {
		query = fmt.Sprintf(`
			INSERT INTO %s (id, username, disabled, storage_scope, created_at, updated_at)
			VALUES ($1, $2, $3, $5, $4, $4)`, r.table)
		args = append(args, *account.StorageScope)
	} else {
		query = fmt.Sprintf(`
			INSERT INTO %s (id, username, disabled, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)`, r.table)
	}

	if _, err = r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	r.log.Info("account created",
		slog.Int64("account_id", account.ID),
		slog.String("username", account.Username))
	return nil
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*entities.Account, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation(r.repoName, "get_by_id", time.Since(start), rowCount, err)
	}()

	var row accountRow
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, accountColumns(r.audience, ""), r.table)
	err = r.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account by ID: %w", err)
	}

	rowCount = 1
	return row.toEntity(r.audience), nil
}

// GetByUsername retrieves an account by username within a storage scope
func (r *AccountRepository) GetByUsername(ctx context.Context, username string, scope *int64) (*entities.Account, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation(r.repoName, "get_by_username", time.Since(start), rowCount, err)
	}()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE username = $1`, accountColumns(r.audience, ""), r.table)
	args := []any{username}
	if r.audience.Scoped() {
		if scope == nil {
			err = repositories.ErrStorageScopeRequired
			return nil, err
		}
		query += " AND storage_scope = $2"
		args = append(args, *scope)
	}

	var row accountRow
	err = r.db.GetContext(ctx, &row, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account by username: %w", err)
	}

	rowCount = 1
	return row.toEntity(r.audience), nil
}

// Ensure AccountRepository implements repositories.AccountRepository
var _ repositories.AccountRepository = (*AccountRepository)(nil)
