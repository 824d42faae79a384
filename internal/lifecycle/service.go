// Package lifecycle owns the approval request state machine: creation with
// policy evaluation, the single-winner decide transition, and expiry.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/approval-gateway/internal/domain/entity"
	"github.com/garyjia/approval-gateway/internal/domain/event"
	"github.com/garyjia/approval-gateway/internal/policy"
)

// ActorPolicy is the decidedBy recorded for auto-decisions
const ActorPolicy = "policy"

// maxListLimit caps page sizes on List
const maxListLimit = 100

// RequestStore is the slice of the request repository the service needs
type RequestStore interface {
	Create(ctx context.Context, req *entity.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalRequest, error)
	DecidePending(ctx context.Context, id string, status entity.Status, decidedBy, reason string, decidedAt time.Time) (bool, error)
	List(ctx context.Context, filter entity.ListFilter) ([]*entity.ApprovalRequest, int, error)
}

// PolicyStore loads the enabled policies evaluated on create
type PolicyStore interface {
	List(ctx context.Context, enabledOnly bool) ([]*policy.Policy, error)
}

// AuditStore appends lifecycle audit entries
type AuditStore interface {
	Append(ctx context.Context, entry *entity.AuditEntry) error
	ListByRequest(ctx context.Context, requestID string) ([]*entity.AuditEntry, error)
}

// EventDispatcher receives one event per lifecycle transition
type EventDispatcher interface {
	DispatchAsync(ctx context.Context, evt *event.Event, policyChannels []string)
}

// Service coordinates the request lifecycle
type Service struct {
	requests   RequestStore
	policies   PolicyStore
	audit      AuditStore
	dispatcher EventDispatcher
	logger     *zap.Logger
	source     string
	now        func() time.Time
}

// NewService creates a lifecycle service
func NewService(
	requests RequestStore,
	policies PolicyStore,
	audit AuditStore,
	dispatcher EventDispatcher,
	logger *zap.Logger,
) *Service {
	return &Service{
		requests:   requests,
		policies:   policies,
		audit:      audit,
		dispatcher: dispatcher,
		logger:     logger,
		source:     "approval-gateway",
		now:        time.Now,
	}
}

// CreateParams are the inputs for a new approval request
type CreateParams struct {
	Action    string
	Params    map[string]interface{}
	Context   map[string]interface{}
	Urgency   entity.Urgency
	ExpiresAt *time.Time
}

// CreateResult pairs the stored request with the policy evaluation that
// classified it
type CreateResult struct {
	Request    *entity.ApprovalRequest
	Evaluation policy.Evaluation
}

// Create evaluates the request against enabled policies and persists it.
// Auto decisions immediately run the decide transition with the policy
// actor and emit request.decided; everything else stays pending and emits
// request.created.
func (s *Service) Create(ctx context.Context, params CreateParams) (*CreateResult, error) {
	if params.Action == "" {
		return nil, fmt.Errorf("%w: action is required", ErrValidation)
	}
	urgency := params.Urgency
	if urgency == "" {
		urgency = entity.UrgencyNormal
	}
	if !urgency.IsValid() {
		return nil, fmt.Errorf("%w: unknown urgency %q", ErrValidation, params.Urgency)
	}
	if params.ExpiresAt != nil && !params.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", ErrValidation)
	}

	now := s.now().UTC()
	req := &entity.ApprovalRequest{
		ID:        uuid.NewString(),
		Action:    params.Action,
		Params:    params.Params,
		Context:   params.Context,
		Status:    entity.StatusPending,
		Urgency:   urgency,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: params.ExpiresAt,
	}

	policies, err := s.policies.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	evaluation := policy.Evaluate(req, policies)

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("persist request: %w", err)
	}
	s.appendAudit(ctx, req.ID, entity.AuditActionCreated, "agent",
		fmt.Sprintf("action=%s decision=%s", req.Action, evaluation.Decision))

	switch evaluation.Decision {
	case policy.DecisionAutoApprove, policy.DecisionAutoDeny:
		status := entity.StatusApproved
		if evaluation.Decision == policy.DecisionAutoDeny {
			status = entity.StatusDenied
		}
		reason := fmt.Sprintf("matched rule %q", evaluation.MatchedRule)
		decided, err := s.decide(ctx, req.ID, status, ActorPolicy, reason, evaluation.Channels)
		if err != nil {
			return nil, err
		}
		return &CreateResult{Request: decided, Evaluation: evaluation}, nil
	}

	s.logger.Info("Approval request created",
		zap.String("id", req.ID),
		zap.String("action", req.Action),
		zap.String("decision", string(evaluation.Decision)))

	s.dispatcher.DispatchAsync(ctx, s.requestEvent(event.TypeRequestCreated, req), evaluation.Channels)

	return &CreateResult{Request: req, Evaluation: evaluation}, nil
}

// Decide applies a terminal decision. The storage-level compare-and-set is
// the concurrency primitive: exactly one caller wins; losers get a
// ConflictError carrying the now-current state.
func (s *Service) Decide(ctx context.Context, id string, decision entity.TokenAction, decidedBy, reason string) (*entity.ApprovalRequest, error) {
	if !decision.IsValid() {
		return nil, fmt.Errorf("%w: unknown decision %q", ErrValidation, decision)
	}
	if decidedBy == "" {
		return nil, fmt.Errorf("%w: decided_by is required", ErrValidation)
	}

	status := entity.StatusApproved
	if decision == entity.TokenActionDeny {
		status = entity.StatusDenied
	}

	return s.decide(ctx, id, status, decidedBy, reason, nil)
}

// Expire flips an overdue pending request to expired through the same
// compare-and-set; a request decided in the meantime is left untouched.
func (s *Service) Expire(ctx context.Context, id string) (*entity.ApprovalRequest, error) {
	return s.decide(ctx, id, entity.StatusExpired, "system", "expiry deadline passed", nil)
}

// Get retrieves a request by ID
func (s *Service) Get(ctx context.Context, id string) (*entity.ApprovalRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	return req, nil
}

// ListResult is one page of requests
type ListResult struct {
	Requests []*entity.ApprovalRequest
	Total    int
	Limit    int
	Offset   int
	HasMore  bool
}

// List returns a page of requests. Limit is capped at 100.
func (s *Service) List(ctx context.Context, filter entity.ListFilter) (*ListResult, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &ListResult{
		Requests: requests,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
		HasMore:  filter.Offset+len(requests) < total,
	}, nil
}

// Audit returns the ordered audit entries for a request
func (s *Service) Audit(ctx context.Context, requestID string) ([]*entity.AuditEntry, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	return s.audit.ListByRequest(ctx, requestID)
}

func (s *Service) decide(ctx context.Context, id string, status entity.Status, decidedBy, reason string, policyChannels []string) (*entity.ApprovalRequest, error) {
	won, err := s.requests.DecidePending(ctx, id, status, decidedBy, reason, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("decide transition: %w", err)
	}

	if !won {
		// Zero rows affected means conflict or not-found, full stop; the
		// re-read only distinguishes the two for the caller.
		current, err := s.requests.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, ErrNotFound
		}
		return nil, &ConflictError{Current: current}
	}

	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}

	auditAction := entity.AuditActionDecided
	eventType := event.TypeRequestDecided
	if status == entity.StatusExpired {
		auditAction = entity.AuditActionExpired
		eventType = event.TypeRequestExpired
	}

	s.appendAudit(ctx, id, auditAction, decidedBy,
		fmt.Sprintf("status=%s reason=%s", status, reason))

	s.logger.Info("Approval request decided",
		zap.String("id", id),
		zap.String("status", string(status)),
		zap.String("decided_by", decidedBy))

	s.dispatcher.DispatchAsync(ctx, s.requestEvent(eventType, req), policyChannels)

	return req, nil
}

// appendAudit records an audit entry; failures are logged and swallowed so
// a broken audit store never blocks a decision.
func (s *Service) appendAudit(ctx context.Context, requestID, action, actor, detail string) {
	entry := &entity.AuditEntry{
		RequestID: requestID,
		Action:    action,
		Actor:     actor,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("Failed to append audit entry",
			zap.String("request_id", requestID),
			zap.String("action", action),
			zap.Error(err))
	}
}

func (s *Service) requestEvent(eventType event.Type, req *entity.ApprovalRequest) *event.Event {
	payload := map[string]interface{}{
		"id":      req.ID,
		"action":  req.Action,
		"status":  string(req.Status),
		"urgency": string(req.Urgency),
	}
	if req.DecidedBy != "" {
		payload["decided_by"] = req.DecidedBy
	}
	if req.DecisionReason != "" {
		payload["decision_reason"] = req.DecisionReason
	}
	return event.New(eventType, req.ID, s.source, payload)
}
