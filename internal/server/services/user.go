package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// RegisterRequest creates an account for an email address that went through
// verification. EmailToken is the verification token.
type RegisterRequest struct {
	Login      string
	Email      string
	Password   string
	EmailToken string
}

// UserService covers the account side of authentication: registration gated
// by email verification, password login and logout.
type UserService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	verifications *VerificationService
	tokens        *TokenService
	hasher        *cryptox.PasswordHasher
	logger        logging.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, v *VerificationService, t *TokenService,
	h *cryptox.PasswordHasher, l logging.Logger) *UserService {
	return &UserService{
		db:            db,
		repomanager:   m,
		verifications: v,
		tokens:        t,
		hasher:        h,
		logger:        l.With("module", "user_service"),
	}
}

// Register consumes the verification and creates the user in one
// transaction, so a token is never spent without an account to show for it.
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	login := strings.TrimSpace(req.Login)
	if login == "" {
		return nil, fmt.Errorf("%w: login is required", common.ErrorValidation)
	}
	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	// hashing is slow, keep it out of the transaction
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	var user *models.User
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.verifications.Consume(ctx, tx, req.EmailToken, email); err != nil {
			return err
		}
		var err error
		user, err = s.repomanager.Users(tx).Create(ctx, &models.User{
			ID:           uuid.NewString(),
			Login:        login,
			Email:        email,
			PasswordHash: hash,
			IsActive:     true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID, "login", user.Login)
	return user, nil
}

// Login checks the password and opens a new session. Unknown logins,
// inactive accounts and wrong passwords all yield common.ErrorUnauthorized.
func (s *UserService) Login(ctx context.Context, login, password string, meta ClientMeta) (*TokenPair, error) {
	user, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// spend the same time as a real comparison
			_ = s.hasher.Compare(s.dummy(), password)
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			s.logger.Error(ctx, "password hash check failed", "user_id", user.ID, "error", err)
		}
		return nil, common.ErrorUnauthorized
	}
	if !user.IsActive {
		return nil, common.ErrorUnauthorized
	}

	return s.tokens.Issue(ctx, user.ID, meta)
}

// Logout ends a single session.
func (s *UserService) Logout(ctx context.Context, userID, sessionID string) error {
	return s.tokens.Revoke(ctx, userID, sessionID)
}

// LogoutAll ends every session of userID.
func (s *UserService) LogoutAll(ctx context.Context, userID string) (int, error) {
	return s.tokens.RevokeAll(ctx, userID)
}

func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(uuid.NewString())
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}
