// Package token issues and redeems one-time decision tokens: time-boxed
// secrets that let an approver decide a request from a notification link
// without further authentication.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/approval-gateway/internal/domain/entity"
	"github.com/garyjia/approval-gateway/internal/lifecycle"
)

// DefaultTTL is the token lifetime when the config does not override it
const DefaultTTL = 24 * time.Hour

// secretBytes is the entropy per token secret before encoding
const secretBytes = 32

// Outcome classifies a redemption attempt
type Outcome string

const (
	OutcomeSuccess               Outcome = "success"
	OutcomeInvalid               Outcome = "invalid"
	OutcomeExpired               Outcome = "expired"
	OutcomeAlreadyUsed           Outcome = "already_used"
	OutcomeRequestAlreadyDecided Outcome = "request_already_decided"
)

// Store is the slice of the token repository the service needs
type Store interface {
	Create(ctx context.Context, token *entity.DecisionToken) error
	GetBySecret(ctx context.Context, secret string) (*entity.DecisionToken, error)
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	Release(ctx context.Context, id string) error
}

// Decider applies the decision a redeemed token authorizes
type Decider interface {
	Get(ctx context.Context, id string) (*entity.ApprovalRequest, error)
	Decide(ctx context.Context, id string, decision entity.TokenAction, decidedBy, reason string) (*entity.ApprovalRequest, error)
}

// AuditStore appends token audit entries
type AuditStore interface {
	Append(ctx context.Context, entry *entity.AuditEntry) error
}

// Service issues and redeems decision tokens
type Service struct {
	tokens  Store
	decider Decider
	audit   AuditStore
	logger  *zap.Logger
	ttl     time.Duration
	now     func() time.Time
}

// NewService creates a token service. A non-positive ttl falls back to
// DefaultTTL.
func NewService(tokens Store, decider Decider, audit AuditStore, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		tokens:  tokens,
		decider: decider,
		audit:   audit,
		logger:  logger,
		ttl:     ttl,
		now:     time.Now,
	}
}

// TokenPair is one approve and one deny token bound to the same request
type TokenPair struct {
	Approve *entity.DecisionToken
	Deny    *entity.DecisionToken
}

// Issue mints an approve/deny token pair for a pending request. Each token
// carries an independent secret; the secrets are only available here, the
// repository never returns them in listings.
func (s *Service) Issue(ctx context.Context, requestID string) (*TokenPair, error) {
	req, err := s.decider.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != entity.StatusPending {
		return nil, &lifecycle.ConflictError{Current: req}
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)

	pair := &TokenPair{}
	for _, action := range []entity.TokenAction{entity.TokenActionApprove, entity.TokenActionDeny} {
		secret, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
		tok := &entity.DecisionToken{
			ID:        uuid.NewString(),
			RequestID: requestID,
			Action:    action,
			Secret:    secret,
			ExpiresAt: expiresAt,
			CreatedAt: now,
		}
		if err := s.tokens.Create(ctx, tok); err != nil {
			return nil, fmt.Errorf("persist token: %w", err)
		}
		if action == entity.TokenActionApprove {
			pair.Approve = tok
		} else {
			pair.Deny = tok
		}
	}

	s.appendAudit(ctx, requestID, entity.AuditActionTokenIssued,
		fmt.Sprintf("expires_at=%s", expiresAt.Format(time.RFC3339)))

	s.logger.Info("Decision tokens issued",
		zap.String("request_id", requestID),
		zap.Time("expires_at", expiresAt))

	return pair, nil
}

// Redemption is the result of redeeming a token
type Redemption struct {
	Outcome Outcome
	Token   *entity.DecisionToken
	Request *entity.ApprovalRequest
}

// Redeem looks up a token by secret and, if it is live, applies its bound
// decision. The token is claimed before the decide transition so that
// concurrent redemptions of the same secret serialize on the claim: exactly
// one proceeds, the rest see already_used. A claim whose decide then loses
// to another path is released, leaving the token unused.
func (s *Service) Redeem(ctx context.Context, secret string) (*Redemption, error) {
	if secret == "" {
		return &Redemption{Outcome: OutcomeInvalid}, nil
	}

	tok, err := s.tokens.GetBySecret(ctx, secret)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return &Redemption{Outcome: OutcomeInvalid}, nil
	}

	now := s.now().UTC()
	if tok.IsUsed() {
		return &Redemption{Outcome: OutcomeAlreadyUsed, Token: tok}, nil
	}
	if tok.IsExpired(now) {
		return &Redemption{Outcome: OutcomeExpired, Token: tok}, nil
	}

	claimed, err := s.tokens.Claim(ctx, tok.ID, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return &Redemption{Outcome: OutcomeAlreadyUsed, Token: tok}, nil
	}
	tok.UsedAt = &now

	actor := fmt.Sprintf("token:%s", tok.ID)
	req, err := s.decider.Decide(ctx, tok.RequestID, tok.Action, actor, "decided via one-time token")
	if err == nil {
		return &Redemption{Outcome: OutcomeSuccess, Token: tok, Request: req}, nil
	}

	var conflict *lifecycle.ConflictError
	if errors.As(err, &conflict) {
		// The request was decided through another path; this token did no
		// work, so hand its claim back.
		if relErr := s.tokens.Release(ctx, tok.ID); relErr != nil {
			s.logger.Error("Failed to release token claim",
				zap.String("token_id", tok.ID), zap.Error(relErr))
		} else {
			tok.UsedAt = nil
		}
		return &Redemption{
			Outcome: OutcomeRequestAlreadyDecided,
			Token:   tok,
			Request: conflict.Current,
		}, nil
	}

	return nil, err
}

func (s *Service) appendAudit(ctx context.Context, requestID, action, detail string) {
	entry := &entity.AuditEntry{
		RequestID: requestID,
		Action:    action,
		Actor:     "system",
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("Failed to append audit entry",
			zap.String("request_id", requestID), zap.Error(err))
	}
}

func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
