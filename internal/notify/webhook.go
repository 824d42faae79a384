package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/garyjia/approval-gateway/internal/domain/event"
	"github.com/garyjia/approval-gateway/internal/retry"
	"github.com/garyjia/approval-gateway/internal/ssrf"
	"go.uber.org/zap"
)

// maxResponseBody bounds how much of an error response gets captured.
const maxResponseBody = 512

// URLValidator checks a webhook destination before any connection is made.
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) (*ssrf.Result, error)
}

// WebhookConfig configures the webhook adapter
type WebhookConfig struct {
	// Timeout bounds each delivery attempt
	Timeout time.Duration
	// Secret signs every delivery unless a per-target secret overrides it
	Secret string
	// TargetSecrets maps destination URL to its signing secret
	TargetSecrets map[string]string
	// Retry controls delivery-internal retries
	Retry retry.Config
}

// WebhookAdapter delivers events to externally supplied HTTP(S) URLs.
// Every target passes SSRF validation before a connection is attempted.
type WebhookAdapter struct {
	config    WebhookConfig
	validator URLValidator
	client    *http.Client
	logger    *zap.Logger
}

// NewWebhookAdapter creates a webhook adapter
func NewWebhookAdapter(config WebhookConfig, validator URLValidator, logger *zap.Logger) *WebhookAdapter {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultConfig()
	}
	return &WebhookAdapter{
		config:    config,
		validator: validator,
		client:    &http.Client{Timeout: config.Timeout},
		logger:    logger,
	}
}

// Name returns the channel tag
func (a *WebhookAdapter) Name() string {
	return "webhook"
}

// IsConfigured reports delivery readiness; webhooks need no credentials
func (a *WebhookAdapter) IsConfigured() bool {
	return true
}

// envelope is the outbound wire format
type envelope struct {
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	EventID   string                 `json:"eventId"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
}

// Send validates the target, builds and signs the envelope, and posts it
// with bounded retries. Timeouts are reported distinctly from other
// transport failures.
func (a *WebhookAdapter) Send(ctx context.Context, target string, evt *event.Event) *Result {
	if _, err := a.validator.Validate(ctx, target); err != nil {
		var blocked *ssrf.BlockedError
		if errors.As(err, &blocked) {
			return failure(a.Name(), target, "SSRF blocked: "+blocked.Reason)
		}
		return failure(a.Name(), target, "invalid target: "+err.Error())
	}

	body, err := json.Marshal(envelope{
		Event:     string(evt.Type),
		Timestamp: evt.Timestamp.Format(time.RFC3339),
		EventID:   evt.ID,
		Source:    evt.Source,
		Data:      evt.Payload,
	})
	if err != nil {
		return failure(a.Name(), target, "marshal envelope: "+err.Error())
	}

	var lastErr error
	var response string
	result := retry.Do(ctx, a.config.Retry, func() error {
		resp, err := a.attempt(ctx, target, evt, body)
		if err != nil {
			lastErr = err
			return err
		}
		response = resp
		lastErr = nil
		return nil
	})

	if lastErr != nil {
		a.logger.Warn("Webhook delivery failed",
			zap.String("target", target),
			zap.String("event_id", evt.ID),
			zap.Int("attempts", result.Attempts),
			zap.Error(lastErr))
		return failure(a.Name(), target, lastErr.Error())
	}

	return success(a.Name(), target, response)
}

func (a *WebhookAdapter) attempt(ctx context.Context, target string, evt *event.Event, body []byte) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(evt.Type))
	req.Header.Set("X-Event-Id", evt.ID)
	req.Header.Set("X-Timestamp", evt.Timestamp.Format(time.RFC3339))

	// The signature covers the exact serialized bytes so receivers can
	// verify without re-canonicalizing JSON.
	if secret := a.secretFor(target); secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("timeout after %s", a.config.Timeout)
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("received status %d: %s", resp.StatusCode, string(snippet))
	}

	return strconv.Itoa(resp.StatusCode), nil
}

func (a *WebhookAdapter) secretFor(target string) string {
	if secret, ok := a.config.TargetSecrets[target]; ok {
		return secret
	}
	return a.config.Secret
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
