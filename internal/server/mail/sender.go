// Package mail hands verification codes to whatever delivers them. The
// server never talks SMTP itself: codes are either queued for a mailer
// service over AMQP or, in development, written to the log.
package mail

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
)

// Message is a verification code addressed to an email.
type Message struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Sender interface {
	SendVerification(ctx context.Context, msg Message) error
}

// LogSender logs codes instead of delivering them. Development only.
type LogSender struct {
	logger logging.Logger
}

func NewLogSender(l logging.Logger) *LogSender {
	return &LogSender{logger: l.With("module", "mail")}
}

func (s *LogSender) SendVerification(ctx context.Context, msg Message) error {
	s.logger.Info(ctx, "verification code (not delivered)",
		"email", msg.Email, "code", msg.Code, "expires_at", msg.ExpiresAt)
	return nil
}
