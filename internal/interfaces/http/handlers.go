package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/approval-gateway/internal/domain/entity"
	"github.com/garyjia/approval-gateway/internal/lifecycle"
	"github.com/garyjia/approval-gateway/internal/policy"
	"github.com/garyjia/approval-gateway/internal/token"
)

// RequestService is the slice of the lifecycle service the handlers use
type RequestService interface {
	Create(ctx context.Context, params lifecycle.CreateParams) (*lifecycle.CreateResult, error)
	Get(ctx context.Context, id string) (*entity.ApprovalRequest, error)
	List(ctx context.Context, filter entity.ListFilter) (*lifecycle.ListResult, error)
	Decide(ctx context.Context, id string, decision entity.TokenAction, decidedBy, reason string) (*entity.ApprovalRequest, error)
	Audit(ctx context.Context, requestID string) ([]*entity.AuditEntry, error)
}

// TokenService issues and redeems one-time decision tokens
type TokenService interface {
	Issue(ctx context.Context, requestID string) (*token.TokenPair, error)
	Redeem(ctx context.Context, secret string) (*token.Redemption, error)
}

// PolicyStore is the slice of the policy repository the handlers use
type PolicyStore interface {
	Create(ctx context.Context, p *policy.Policy) error
	Update(ctx context.Context, p *policy.Policy) (bool, error)
	GetByID(ctx context.Context, id string) (*policy.Policy, error)
	List(ctx context.Context, enabledOnly bool) ([]*policy.Policy, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	requests  RequestService
	tokens    TokenService
	policies  PolicyStore
	logger    *zap.Logger
	publicURL string
}

// NewHandlers creates a new Handlers instance
func NewHandlers(requests RequestService, tokens TokenService, policies PolicyStore, publicURL string, logger *zap.Logger) *Handlers {
	return &Handlers{
		requests:  requests,
		tokens:    tokens,
		policies:  policies,
		publicURL: publicURL,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// CreateRequestBody is the payload for POST /api/v1/requests
type CreateRequestBody struct {
	Action    string                 `json:"action" binding:"required"`
	Params    map[string]interface{} `json:"params"`
	Context   map[string]interface{} `json:"context"`
	Urgency   string                 `json:"urgency"`
	ExpiresAt *time.Time             `json:"expires_at"`
	ExpiresIn int                    `json:"expires_in_seconds"`
}

// CreateRequest handles POST /api/v1/requests
func (h *Handlers) CreateRequest(c *gin.Context) {
	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}

	expiresAt := body.ExpiresAt
	if expiresAt == nil && body.ExpiresIn > 0 {
		t := time.Now().UTC().Add(time.Duration(body.ExpiresIn) * time.Second)
		expiresAt = &t
	}

	result, err := h.requests.Create(c.Request.Context(), lifecycle.CreateParams{
		Action:    body.Action,
		Params:    body.Params,
		Context:   body.Context,
		Urgency:   entity.Urgency(body.Urgency),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data: gin.H{
			"request":    result.Request,
			"evaluation": result.Evaluation,
		},
	})
}

// GetRequest handles GET /api/v1/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	req, err := h.requests.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// ListRequestsQuery holds query parameters for listing requests
type ListRequestsQuery struct {
	Status string `form:"status"`
	Action string `form:"action"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// ListRequests handles GET /api/v1/requests
func (h *Handlers) ListRequests(c *gin.Context) {
	var query ListRequestsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return
	}

	result, err := h.requests.List(c.Request.Context(), entity.ListFilter{
		Status: entity.Status(query.Status),
		Action: query.Action,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"requests": result.Requests,
			"total":    result.Total,
			"limit":    result.Limit,
			"offset":   result.Offset,
			"has_more": result.HasMore,
		},
	})
}

// DecideRequestBody is the payload for POST /api/v1/requests/:id/decide
type DecideRequestBody struct {
	Decision  string `json:"decision" binding:"required"`
	DecidedBy string `json:"decided_by" binding:"required"`
	Reason    string `json:"reason"`
}

// DecideRequest handles POST /api/v1/requests/:id/decide
func (h *Handlers) DecideRequest(c *gin.Context) {
	var body DecideRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}

	req, err := h.requests.Decide(c.Request.Context(), c.Param("id"),
		entity.TokenAction(body.Decision), body.DecidedBy, body.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// GetAuditTrail handles GET /api/v1/requests/:id/audit
func (h *Handlers) GetAuditTrail(c *gin.Context) {
	entries, err := h.requests.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// IssueTokens handles POST /api/v1/requests/:id/tokens
func (h *Handlers) IssueTokens(c *gin.Context) {
	pair, err := h.tokens.Issue(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data: gin.H{
			"approve_url": h.publicURL + "/decide/" + pair.Approve.Secret,
			"deny_url":    h.publicURL + "/decide/" + pair.Deny.Secret,
			"expires_at":  pair.Approve.ExpiresAt.Format(time.RFC3339),
		},
	})
}

// RedeemToken handles GET /decide/:secret. Outcomes map to statuses so a
// notification link shows a sensible result whatever happened in between:
// unknown secret 404, expired 410, decided through another path 409.
// Replaying an already-used link stays 200 so double-clicks look idempotent.
func (h *Handlers) RedeemToken(c *gin.Context) {
	redemption, err := h.tokens.Redeem(c.Request.Context(), c.Param("secret"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	data := gin.H{"outcome": string(redemption.Outcome)}
	if redemption.Request != nil {
		data["request"] = redemption.Request
	}

	switch redemption.Outcome {
	case token.OutcomeSuccess, token.OutcomeAlreadyUsed:
		c.JSON(http.StatusOK, Response{Success: true, Data: data})
	case token.OutcomeInvalid:
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "unknown token", Data: data})
	case token.OutcomeExpired:
		c.JSON(http.StatusGone, Response{Success: false, Error: "token expired", Data: data})
	case token.OutcomeRequestAlreadyDecided:
		c.JSON(http.StatusConflict, Response{Success: false, Error: "request already decided", Data: data})
	default:
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "unknown redemption outcome"})
	}
}

// PolicyBody is the payload for policy create/update
type PolicyBody struct {
	Name     string          `json:"name" binding:"required"`
	Rules    json.RawMessage `json:"rules" binding:"required"`
	Priority int             `json:"priority"`
	Enabled  *bool           `json:"enabled"`
}

// CreatePolicy handles POST /api/v1/policies
func (h *Handlers) CreatePolicy(c *gin.Context) {
	var body PolicyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}

	rules, err := policy.ParseRules(body.Rules)
	if err != nil {
		h.writeError(c, err)
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	now := time.Now().UTC()
	p := &policy.Policy{
		ID:        uuid.NewString(),
		Name:      body.Name,
		Rules:     rules,
		Priority:  body.Priority,
		Enabled:   enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.policies.Create(c.Request.Context(), p); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: p})
}

// ListPolicies handles GET /api/v1/policies
func (h *Handlers) ListPolicies(c *gin.Context) {
	enabledOnly := c.Query("enabled") == "true"

	policies, err := h.policies.List(c.Request.Context(), enabledOnly)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: policies})
}

// GetPolicy handles GET /api/v1/policies/:id
func (h *Handlers) GetPolicy(c *gin.Context) {
	p, err := h.policies.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "policy not found"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: p})
}

// UpdatePolicy handles PUT /api/v1/policies/:id
func (h *Handlers) UpdatePolicy(c *gin.Context) {
	var body PolicyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}

	rules, err := policy.ParseRules(body.Rules)
	if err != nil {
		h.writeError(c, err)
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	p := &policy.Policy{
		ID:        c.Param("id"),
		Name:      body.Name,
		Rules:     rules,
		Priority:  body.Priority,
		Enabled:   enabled,
		UpdatedAt: time.Now().UTC(),
	}

	found, err := h.policies.Update(c.Request.Context(), p)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "policy not found"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: p})
}

// DeletePolicy handles DELETE /api/v1/policies/:id
func (h *Handlers) DeletePolicy(c *gin.Context) {
	found, err := h.policies.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "policy not found"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// writeError maps service errors to HTTP statuses
func (h *Handlers) writeError(c *gin.Context, err error) {
	var conflict *lifecycle.ConflictError
	var unsafe *policy.ErrUnsafePattern

	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "request not found"})
	case errors.Is(err, lifecycle.ErrValidation):
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, Response{
			Success: false,
			Error:   conflict.Error(),
			Data:    gin.H{"request": conflict.Current},
		})
	case errors.As(err, &unsafe):
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
	default:
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "internal error"})
	}
}
