package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/approval-gateway/internal/policy"
	"go.uber.org/zap"
)

// PolicyRepository handles policy database operations. Rules are stored as
// their JSON document and compiled on read; unsafe rules never reach storage
// because ParseRules runs before every write.
type PolicyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *sql.DB, logger *zap.Logger) *PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new policy
func (r *PolicyRepository) Create(ctx context.Context, p *policy.Policy) error {
	rules, err := policy.EncodeRules(p.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}

	query := `
		INSERT INTO policies (id, name, rules, priority, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.Name, string(rules), p.Priority, p.Enabled, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create policy", zap.String("id", p.ID), zap.Error(err))
		return fmt.Errorf("failed to create policy: %w", err)
	}

	return nil
}

// Update replaces a policy's mutable fields. Returns false when the policy
// does not exist.
func (r *PolicyRepository) Update(ctx context.Context, p *policy.Policy) (bool, error) {
	rules, err := policy.EncodeRules(p.Rules)
	if err != nil {
		return false, fmt.Errorf("encode rules: %w", err)
	}

	query := `
		UPDATE policies SET name = ?, rules = ?, priority = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		p.Name, string(rules), p.Priority, p.Enabled, p.UpdatedAt, p.ID)
	if err != nil {
		r.logger.Error("Failed to update policy", zap.String("id", p.ID), zap.Error(err))
		return false, fmt.Errorf("failed to update policy: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// GetByID retrieves a policy, (nil, nil) when missing
func (r *PolicyRepository) GetByID(ctx context.Context, id string) (*policy.Policy, error) {
	query := `
		SELECT id, name, rules, priority, enabled, created_at, updated_at
		FROM policies WHERE id = ?
	`

	p, err := scanPolicy(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get policy", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}

	return p, nil
}

// List returns policies ordered by ascending priority. With enabledOnly it
// returns only enabled policies, the set the matcher evaluates.
func (r *PolicyRepository) List(ctx context.Context, enabledOnly bool) ([]*policy.Policy, error) {
	query := `
		SELECT id, name, rules, priority, enabled, created_at, updated_at
		FROM policies
	`
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY priority ASC, created_at ASC"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list policies", zap.Error(err))
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []*policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, p)
	}

	return policies, rows.Err()
}

// Delete removes a policy. Returns false when the policy does not exist.
func (r *PolicyRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM policies WHERE id = ?", id)
	if err != nil {
		r.logger.Error("Failed to delete policy", zap.String("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to delete policy: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func scanPolicy(row rowScanner) (*policy.Policy, error) {
	var p policy.Policy
	var rules string

	err := row.Scan(&p.ID, &p.Name, &rules, &p.Priority, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	parsed, err := policy.ParseRules([]byte(rules))
	if err != nil {
		return nil, fmt.Errorf("parse stored rules: %w", err)
	}
	p.Rules = parsed

	return &p, nil
}
