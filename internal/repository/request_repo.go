package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/approval-gateway/internal/domain/entity"
	"go.uber.org/zap"
)

// RequestRepository handles approval request database operations
type RequestRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sql.DB, logger *zap.Logger) *RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

const requestColumns = `
	id, action, params, context, status, urgency,
	created_at, updated_at, decided_at, decided_by, decision_reason, expires_at
`

// Create persists a new approval request
func (r *RequestRepository) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	params, err := marshalMap(req.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	reqContext, err := marshalMap(req.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	query := `
		INSERT INTO approval_requests (
			id, action, params, context, status, urgency,
			created_at, updated_at, decided_at, decided_by, decision_reason, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		req.ID,
		req.Action,
		params,
		reqContext,
		string(req.Status),
		string(req.Urgency),
		req.CreatedAt,
		req.UpdatedAt,
		nullTime(req.DecidedAt),
		req.DecidedBy,
		req.DecisionReason,
		nullTime(req.ExpiresAt),
	)
	if err != nil {
		r.logger.Error("Failed to create request", zap.Error(err))
		return fmt.Errorf("failed to create request: %w", err)
	}

	return nil
}

// GetByID retrieves an approval request by ID, (nil, nil) when missing
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = ?`

	req, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get request", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	return req, nil
}

// DecidePending applies the compare-and-set decide transition: the update
// lands only if the request is still pending, as one atomic statement.
// Returns false when zero rows were affected (already decided or missing).
func (r *RequestRepository) DecidePending(ctx context.Context, id string, status entity.Status, decidedBy, reason string, decidedAt time.Time) (bool, error) {
	query := `
		UPDATE approval_requests
		SET status = ?, decided_by = ?, decision_reason = ?, decided_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(status),
		decidedBy,
		reason,
		decidedAt,
		decidedAt,
		id,
		string(entity.StatusPending),
	)
	if err != nil {
		r.logger.Error("Failed to decide request", zap.String("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to decide request: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected == 1, nil
}

// List returns requests matching the filter, newest first, plus the total
// count before pagination
func (r *RequestRepository) List(ctx context.Context, filter entity.ListFilter) ([]*entity.ApprovalRequest, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Action != "" {
		where += " AND action = ?"
		args = append(args, filter.Action)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM approval_requests" + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count requests", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	query := `SELECT ` + requestColumns + ` FROM approval_requests` + where +
		" ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list requests", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var requests []*entity.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}

	return requests, total, rows.Err()
}

// ListDuePending returns IDs of pending requests whose expiry has passed
func (r *RequestRepository) ListDuePending(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		SELECT id FROM approval_requests
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?
	`

	rows, err := r.db.QueryContext(ctx, query, string(entity.StatusPending), now)
	if err != nil {
		r.logger.Error("Failed to list due requests", zap.Error(err))
		return nil, fmt.Errorf("failed to list due requests: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*entity.ApprovalRequest, error) {
	var req entity.ApprovalRequest
	var params, reqContext string
	var status, urgency string
	var decidedAt, expiresAt sql.NullTime

	err := row.Scan(
		&req.ID,
		&req.Action,
		&params,
		&reqContext,
		&status,
		&urgency,
		&req.CreatedAt,
		&req.UpdatedAt,
		&decidedAt,
		&req.DecidedBy,
		&req.DecisionReason,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	req.Status = entity.Status(status)
	req.Urgency = entity.Urgency(urgency)
	if decidedAt.Valid {
		req.DecidedAt = &decidedAt.Time
	}
	if expiresAt.Valid {
		req.ExpiresAt = &expiresAt.Time
	}
	if err := unmarshalMap(params, &req.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	if err := unmarshalMap(reqContext, &req.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}

	return &req, nil
}

func marshalMap(m map[string]interface{}) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMap(data string, dest *map[string]interface{}) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), dest)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
