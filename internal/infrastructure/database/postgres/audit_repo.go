package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/repositories"
	"github.com/devilmonastery/oauthlink/internal/pkg/idgen"
	"github.com/devilmonastery/oauthlink/internal/pkg/metrics"
)

// AuditRepository implements the AuditRepository interface for PostgreSQL
type AuditRepository struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewAuditRepository creates a new PostgreSQL audit repository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{
		db:  db,
		log: slog.Default().With(slog.String("repo", "audit")),
	}
}

// auditLogRow represents an audit log as stored in the database
type auditLogRow struct {
	ID         int64          `db:"id"`
	Audience   string         `db:"audience"`
	AccountID  sql.NullInt64  `db:"account_id"`
	Action     string         `db:"action"`
	Resource   string         `db:"resource_type"`
	ResourceID sql.NullString `db:"resource_id"`
	IPAddress  sql.NullString `db:"ip_address"`
	UserAgent  sql.NullString `db:"user_agent"`
	Metadata   string         `db:"metadata"`
	Success    bool           `db:"success"`
	ErrorMsg   sql.NullString `db:"error_message"`
	CreatedAt  time.Time      `db:"created_at"`
}

// toEntity converts an auditLogRow to a domain entity
func (r *auditLogRow) toEntity() (*entities.AuditLog, error) {
	auditLog := &entities.AuditLog{
		ID:        r.ID,
		Audience:  entities.Audience(r.Audience),
		Action:    entities.AuditAction(r.Action),
		Resource:  entities.AuditResource(r.Resource),
		Success:   r.Success,
		CreatedAt: r.CreatedAt,
	}

	if r.AccountID.Valid {
		auditLog.AccountID = &r.AccountID.Int64
	}
	if r.ResourceID.Valid {
		auditLog.ResourceID = &r.ResourceID.String
	}
	if r.IPAddress.Valid {
		auditLog.IPAddress = &r.IPAddress.String
	}
	if r.UserAgent.Valid {
		auditLog.UserAgent = &r.UserAgent.String
	}
	if r.ErrorMsg.Valid {
		auditLog.ErrorMsg = &r.ErrorMsg.String
	}

	if err := auditLog.UnmarshalMetadataFromJSON(r.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return auditLog, nil
}

// auditLogRowFromEntity converts a domain entity to an auditLogRow
func auditLogRowFromEntity(auditLog *entities.AuditLog) (*auditLogRow, error) {
	row := &auditLogRow{
		ID:        auditLog.ID,
		Audience:  string(auditLog.Audience),
		Action:    string(auditLog.Action),
		Resource:  string(auditLog.Resource),
		Success:   auditLog.Success,
		CreatedAt: auditLog.CreatedAt,
	}

	if auditLog.AccountID != nil {
		row.AccountID = sql.NullInt64{Int64: *auditLog.AccountID, Valid: true}
	}
	if auditLog.ResourceID != nil {
		row.ResourceID = sql.NullString{String: *auditLog.ResourceID, Valid: true}
	}
	if auditLog.IPAddress != nil {
		row.IPAddress = sql.NullString{String: *auditLog.IPAddress, Valid: true}
	}
	if auditLog.UserAgent != nil {
		row.UserAgent = sql.NullString{String: *auditLog.UserAgent, Valid: true}
	}
	if auditLog.ErrorMsg != nil {
		row.ErrorMsg = sql.NullString{String: *auditLog.ErrorMsg, Valid: true}
	}

	metadata, err := auditLog.MarshalMetadataToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	row.Metadata = metadata

	return row, nil
}

// Create creates a new audit log entry
func (r *AuditRepository) Create(ctx context.Context, log *entities.AuditLog) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("audit", "create", time.Since(start), 1, err)
	}()

	if log.ID == 0 {
		log.ID = idgen.NewID()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	r.log.Debug("creating audit log",
		slog.String("action", string(log.Action)),
		slog.String("resource", string(log.Resource)),
		slog.Any("resource_id", log.ResourceID),
		slog.Any("account_id", log.AccountID))

	row, convertErr := auditLogRowFromEntity(log)
	if convertErr != nil {
		err = convertErr
		return err
	}

	query := `
		INSERT INTO audit_log (id, audience, account_id, action, resource_type, resource_id,
		                       ip_address, user_agent, metadata, success, error_message, created_at)
		VALUES (:id, :audience, :account_id, :action, :resource_type, :resource_id,
		        :ip_address, :user_agent, CAST(:metadata AS JSONB), :success, :error_message, :created_at)
	`

	_, err = r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	return nil
}

// ListByAccount retrieves the most recent entries for an account, newest first
func (r *AuditRepository) ListByAccount(ctx context.Context, audience entities.Audience, accountID int64, limit int) ([]*entities.AuditLog, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("audit", "list_by_account", time.Since(start), rowCount, err)
	}()

	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var rows []auditLogRow
	query := `
		SELECT id, audience, account_id, action, resource_type, resource_id, ip_address,
		       user_agent, metadata::text AS metadata, success, error_message, created_at
		FROM audit_log
		WHERE audience = $1 AND account_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	err = r.db.SelectContext(ctx, &rows, query, string(audience), accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	rowCount = int64(len(rows))

	logs := make([]*entities.AuditLog, 0, len(rows))
	for i := range rows {
		entry, convErr := rows[i].toEntity()
		if convErr != nil {
			err = convErr
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

// Ensure AuditRepository implements repositories.AuditRepository
var _ repositories.AuditRepository = (*AuditRepository)(nil)
