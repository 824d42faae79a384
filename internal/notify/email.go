package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/garyjia/approval-gateway/internal/domain/event"
	"go.uber.org/zap"
)

// EmailConfig holds SMTP settings for the email adapter
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sendMailFunc matches smtp.SendMail, injectable for tests
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailAdapter delivers event summaries over SMTP. The target is the
// recipient address.
type EmailAdapter struct {
	config   EmailConfig
	sendMail sendMailFunc
	logger   *zap.Logger
}

// NewEmailAdapter creates an email adapter
func NewEmailAdapter(config EmailConfig, logger *zap.Logger) *EmailAdapter {
	return &EmailAdapter{
		config:   config,
		sendMail: smtp.SendMail,
		logger:   logger,
	}
}

// Name returns the channel tag
func (a *EmailAdapter) Name() string {
	return "email"
}

// IsConfigured reports whether SMTP host and sender are set
func (a *EmailAdapter) IsConfigured() bool {
	return a.config.Host != "" && a.config.From != ""
}

// Send delivers one event summary to one recipient
func (a *EmailAdapter) Send(ctx context.Context, target string, evt *event.Event) *Result {
	if !a.IsConfigured() {
		return failure(a.Name(), target, "email adapter is not configured")
	}

	var auth smtp.Auth
	if a.config.Username != "" {
		auth = smtp.PlainAuth("", a.config.Username, a.config.Password, a.config.Host)
	}

	addr := fmt.Sprintf("%s:%d", a.config.Host, a.config.Port)
	msg := a.buildMessage(target, evt)

	// smtp.SendMail has no context support; run it aside and honor the
	// caller's deadline ourselves.
	done := make(chan error, 1)
	go func() {
		done <- a.sendMail(addr, auth, a.config.From, []string{target}, msg)
	}()

	select {
	case <-ctx.Done():
		return failure(a.Name(), target, "timeout sending email")
	case err := <-done:
		if err != nil {
			a.logger.Warn("Email delivery failed", zap.String("target", target), zap.Error(err))
			return failure(a.Name(), target, err.Error())
		}
	}

	return success(a.Name(), target, "sent")
}

func (a *EmailAdapter) buildMessage(target string, evt *event.Event) []byte {
	subject := fmt.Sprintf("[approval-gateway] %s", evt.Type)
	if action := evt.PayloadString("action"); action != "" {
		subject += ": " + action
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", a.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", target)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", evt.Timestamp.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Event:      %s\r\n", evt.Type)
	fmt.Fprintf(&b, "Event ID:   %s\r\n", evt.ID)
	fmt.Fprintf(&b, "Request ID: %s\r\n", evt.RequestID)
	if action := evt.PayloadString("action"); action != "" {
		fmt.Fprintf(&b, "Action:     %s\r\n", action)
	}
	if urgency := evt.PayloadString("urgency"); urgency != "" {
		fmt.Fprintf(&b, "Urgency:    %s\r\n", urgency)
	}
	if status := evt.PayloadString("status"); status != "" {
		fmt.Fprintf(&b, "Status:     %s\r\n", status)
	}
	if decidedBy := evt.PayloadString("decided_by"); decidedBy != "" {
		fmt.Fprintf(&b, "Decided by: %s\r\n", decidedBy)
	}

	return []byte(b.String())
}
