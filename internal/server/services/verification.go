package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/mail"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/sessions"
)

const emailTokenBytes = 16

// VerificationMirror is the ephemeral lookup side of email verification.
// *sessions.VerificationCache implements it.
type VerificationMirror interface {
	Put(ctx context.Context, token string, v *sessions.Verification) error
	Get(ctx context.Context, token string) (*sessions.Verification, error)
	Delete(ctx context.Context, token string) error
	RecordFailure(ctx context.Context, token string, expiresAt time.Time) (int, error)
}

// VerificationTicket is the result of a verification request. Token is the
// handle the client keeps; Code goes to the mailbox only.
type VerificationTicket struct {
	Token     string
	Code      string
	ExpiresAt time.Time
}

// ExpiresIn returns the remaining lifetime in whole seconds at issue time.
func (t *VerificationTicket) ExpiresIn(now time.Time) int64 {
	return int64(t.ExpiresAt.Sub(now) / time.Second)
}

type VerificationService struct {
	db         *sql.DB
	repos      repomanager.RepositoryManager
	mirror     VerificationMirror
	sender     mail.Sender
	ttl        time.Duration
	codeLength int
	logger     logging.Logger
	now        func() time.Time
}

func NewVerificationService(db *sql.DB, repos repomanager.RepositoryManager, mirror VerificationMirror,
	sender mail.Sender, ttl time.Duration, codeLength int, l logging.Logger) *VerificationService {
	return &VerificationService{
		db:         db,
		repos:      repos,
		mirror:     mirror,
		sender:     sender,
		ttl:        ttl,
		codeLength: codeLength,
		logger:     l.With("module", "email_verification"),
		now:        time.Now,
	}
}

// NormalizeEmail trims and lower-cases address and checks that it is a bare
// addr-spec.
func NormalizeEmail(address string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(address))
	parsed, err := netmail.ParseAddress(email)
	if err != nil || parsed.Address != email {
		return "", fmt.Errorf("%w: invalid email address", common.ErrorValidation)
	}
	return email, nil
}

// Request starts a verification for email: it persists the record, mirrors
// it for lookup and hands the code to the mail sender.
func (s *VerificationService) Request(ctx context.Context, email string) (*VerificationTicket, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	token, err := common.RandomURLToken(emailTokenBytes)
	if err != nil {
		return nil, err
	}
	code, err := common.RandomDigits(s.codeLength)
	if err != nil {
		return nil, err
	}

	now := s.now()
	v := &models.EmailVerification{
		Token:     token,
		Code:      code,
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repos.EmailVerifications(s.db).Create(ctx, v); err != nil {
		return nil, fmt.Errorf("store verification: %w", err)
	}
	if err := s.mirror.Put(ctx, token, &sessions.Verification{
		Email:     email,
		Code:      code,
		ExpiresAt: v.ExpiresAt,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	if err := s.sender.SendVerification(ctx, mail.Message{
		Email:     email,
		Code:      code,
		Token:     token,
		ExpiresAt: v.ExpiresAt,
	}); err != nil {
		return nil, fmt.Errorf("send verification: %w", err)
	}

	s.logger.Info(ctx, "email verification requested", "email", email, "expires_at", v.ExpiresAt)
	return &VerificationTicket{Token: token, Code: code, ExpiresAt: v.ExpiresAt}, nil
}

// Verify checks code against the pending verification for token and returns
// the verified email. A wrong code leaves the record pending; once the
// attempt limit is reached the token is dropped and must be requested again.
func (s *VerificationService) Verify(ctx context.Context, token, code string) (string, error) {
	v, err := s.mirror.Get(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", common.ErrInvalidEmailToken
		}
		return "", err
	}

	if subtle.ConstantTimeCompare([]byte(v.Code), []byte(code)) != 1 {
		attempts, err := s.mirror.RecordFailure(ctx, token, v.ExpiresAt)
		if err != nil {
			if errors.Is(err, common.ErrTooManyAttempts) {
				s.logger.Warn(ctx, "verification attempts exhausted", "email", v.Email)
			}
			return "", err
		}
		s.logger.Debug(ctx, "verification code mismatch", "email", v.Email, "attempts", attempts)
		return "", common.ErrCodeMismatch
	}

	ok, err := s.repos.EmailVerifications(s.db).MarkVerified(ctx, token, s.now())
	if err != nil {
		return "", fmt.Errorf("mark verified: %w", err)
	}
	if !ok {
		// expired in the database or verified through another request
		_ = s.mirror.Delete(ctx, token)
		return "", common.ErrInvalidEmailToken
	}

	if err := s.mirror.Delete(ctx, token); err != nil {
		// the record is verified; a leftover mirror cannot verify it twice
		s.logger.Error(ctx, "deleting verification mirror failed", "error", err)
	}

	s.logger.Info(ctx, "email verified", "email", v.Email)
	return v.Email, nil
}

// Consume marks a verified token as used for email inside the caller's
// transaction. It fails with common.ErrEmailNotVerified when the token was
// never verified, is already used, or belongs to another address.
func (s *VerificationService) Consume(ctx context.Context, tx dbx.DBTX, token, email string) error {
	ok, err := s.repos.EmailVerifications(tx).Consume(ctx, token, email)
	if err != nil {
		return fmt.Errorf("consume verification: %w", err)
	}
	if !ok {
		return common.ErrEmailNotVerified
	}
	return nil
}
