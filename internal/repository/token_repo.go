package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/approval-gateway/internal/domain/entity"
	"go.uber.org/zap"
)

// TokenRepository handles decision token database operations
type TokenRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *sql.DB, logger *zap.Logger) *TokenRepository {
	return &TokenRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new decision token
func (r *TokenRepository) Create(ctx context.Context, token *entity.DecisionToken) error {
	query := `
		INSERT INTO decision_tokens (id, request_id, action, secret, expires_at, used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		token.ID,
		token.RequestID,
		string(token.Action),
		token.Secret,
		token.ExpiresAt,
		nullTime(token.UsedAt),
		token.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create token", zap.String("request_id", token.RequestID), zap.Error(err))
		return fmt.Errorf("failed to create token: %w", err)
	}

	return nil
}

// GetBySecret retrieves a token by its secret, (nil, nil) when missing
func (r *TokenRepository) GetBySecret(ctx context.Context, secret string) (*entity.DecisionToken, error) {
	query := `
		SELECT id, request_id, action, secret, expires_at, used_at, created_at
		FROM decision_tokens WHERE secret = ?
	`

	var token entity.DecisionToken
	var action string
	var usedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, secret).Scan(
		&token.ID,
		&token.RequestID,
		&action,
		&token.Secret,
		&token.ExpiresAt,
		&usedAt,
		&token.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get token", zap.Error(err))
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	token.Action = entity.TokenAction(action)
	if usedAt.Valid {
		token.UsedAt = &usedAt.Time
	}

	return &token, nil
}

// Claim atomically marks a token used, succeeding only if it was unused.
// Same compare-and-set discipline as the decide transition: concurrent
// redemptions of one token serialize here, the loser sees false.
func (r *TokenRepository) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE decision_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		r.logger.Error("Failed to claim token", zap.String("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to claim token: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Release clears a claim after the bound decide transition was lost to a
// different path, leaving the token unused as the redemption was moot.
func (r *TokenRepository) Release(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE decision_tokens SET used_at = NULL WHERE id = ?", id)
	if err != nil {
		r.logger.Error("Failed to release token", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to release token: %w", err)
	}
	return nil
}
