package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/approval-gateway/internal/domain/entity"
	"go.uber.org/zap"
)

// NotificationRepository persists per-route delivery outcomes so operators
// can inspect attempts after the fire-and-forget dispatch has returned.
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// RecordAttempt stores one delivery outcome
func (r *NotificationRepository) RecordAttempt(ctx context.Context, attempt *entity.NotificationAttempt) error {
	query := `
		INSERT INTO notification_attempts (
			event_id, request_id, event_type, channel, target, success, attempts, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		attempt.EventID,
		attempt.RequestID,
		attempt.EventType,
		attempt.Channel,
		attempt.Target,
		attempt.Success,
		attempt.Attempts,
		attempt.Error,
		attempt.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to record notification attempt",
			zap.String("event_id", attempt.EventID), zap.Error(err))
		return fmt.Errorf("failed to record notification attempt: %w", err)
	}

	return nil
}

// ListByRequest returns delivery attempts for a request, newest first
func (r *NotificationRepository) ListByRequest(ctx context.Context, requestID string) ([]*entity.NotificationAttempt, error) {
	query := `
		SELECT id, event_id, request_id, event_type, channel, target, success, attempts, error, created_at
		FROM notification_attempts WHERE request_id = ? ORDER BY id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*entity.NotificationAttempt
	for rows.Next() {
		var a entity.NotificationAttempt
		var errMsg sql.NullString
		if err := rows.Scan(&a.ID, &a.EventID, &a.RequestID, &a.EventType, &a.Channel,
			&a.Target, &a.Success, &a.Attempts, &errMsg, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification attempt: %w", err)
		}
		a.Error = errMsg.String
		attempts = append(attempts, &a)
	}

	return attempts, rows.Err()
}
