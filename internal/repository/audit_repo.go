package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/approval-gateway/internal/domain/entity"
	"go.uber.org/zap"
)

// AuditRepository handles append-only audit log operations
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append records one audit entry
func (r *AuditRepository) Append(ctx context.Context, entry *entity.AuditEntry) error {
	query := `
		INSERT INTO audit_log (request_id, action, actor, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		entry.RequestID,
		entry.Action,
		entry.Actor,
		entry.Detail,
		entry.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to append audit entry",
			zap.String("request_id", entry.RequestID), zap.Error(err))
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id

	return nil
}

// ListByRequest returns audit entries for a request in insertion order
func (r *AuditRepository) ListByRequest(ctx context.Context, requestID string) ([]*entity.AuditEntry, error) {
	query := `
		SELECT id, request_id, action, actor, detail, created_at
		FROM audit_log WHERE request_id = ? ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		r.logger.Error("Failed to list audit entries",
			zap.String("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.AuditEntry
	for rows.Next() {
		var entry entity.AuditEntry
		var detail sql.NullString
		if err := rows.Scan(&entry.ID, &entry.RequestID, &entry.Action, &entry.Actor, &detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Detail = detail.String
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
