package notify

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-gateway/internal/domain/event"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// slackPoster is the slice of the Slack API the adapter uses
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackAdapter posts event summaries to Slack channels. The target is a
// channel ID or name.
type SlackAdapter struct {
	client slackPoster
	token  string
	logger *zap.Logger
}

// NewSlackAdapter creates a Slack adapter. An empty token leaves the
// adapter registered but unconfigured.
func NewSlackAdapter(token string, logger *zap.Logger) *SlackAdapter {
	a := &SlackAdapter{
		token:  token,
		logger: logger,
	}
	if token != "" {
		a.client = slack.New(token)
	}
	return a
}

// Name returns the channel tag
func (a *SlackAdapter) Name() string {
	return "slack"
}

// IsConfigured reports whether a bot token is set
func (a *SlackAdapter) IsConfigured() bool {
	return a.token != ""
}

// Send posts one event summary to one channel
func (a *SlackAdapter) Send(ctx context.Context, target string, evt *event.Event) *Result {
	if !a.IsConfigured() {
		return failure(a.Name(), target, "slack adapter is not configured")
	}

	_, ts, err := a.client.PostMessageContext(ctx, target,
		slack.MsgOptionText(formatSlackMessage(evt), false))
	if err != nil {
		a.logger.Warn("Slack delivery failed", zap.String("target", target), zap.Error(err))
		return failure(a.Name(), target, err.Error())
	}

	return success(a.Name(), target, ts)
}

func formatSlackMessage(evt *event.Event) string {
	msg := fmt.Sprintf("*%s*", evt.Type)
	if action := evt.PayloadString("action"); action != "" {
		msg += fmt.Sprintf("\nAction: `%s`", action)
	}
	if urgency := evt.PayloadString("urgency"); urgency != "" {
		msg += fmt.Sprintf("\nUrgency: %s", urgency)
	}
	if status := evt.PayloadString("status"); status != "" {
		msg += fmt.Sprintf("\nStatus: %s", status)
	}
	if decidedBy := evt.PayloadString("decided_by"); decidedBy != "" {
		msg += fmt.Sprintf("\nDecided by: %s", decidedBy)
	}
	msg += fmt.Sprintf("\nRequest: %s", evt.RequestID)
	return msg
}
