package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/sessions"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
)

// SessionStore is the ephemeral session side of refresh rotation.
// *sessions.Store implements it.
type SessionStore interface {
	Get(ctx context.Context, id string) (*sessions.Entry, error)
	Put(ctx context.Context, e *sessions.Entry) error
	Replace(ctx context.Context, oldID string, e *sessions.Entry) error
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
}

// ClientMeta is recorded with every refresh token for audit.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// TokenPair is the credential triple handed to a client. The three values
// are always set and cleared together.
type TokenPair struct {
	UserID           string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
}

// RotateRequest carries what a client presents to refresh its credentials.
// AccessToken is optional; when present it is usually expired and only its
// subject is read.
type RotateRequest struct {
	SessionID    string
	RefreshToken string
	AccessToken  string
	Meta         ClientMeta
}

// errLostRace means another rotation deactivated the record first.
var errLostRace = errors.New("refresh token already rotated")

// TokenService issues credential pairs and runs the refresh rotation
// protocol. The session store answers "is this the current token of the
// session" quickly; the database keeps the audit trail and decides which of
// two concurrent rotations wins. Whenever the two disagree the session is
// revoked.
type TokenService struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	sessions SessionStore
	access   *auth.AccessTokens
	refresh  *tokens.RefreshTokens
	logger   logging.Logger
	now      func() time.Time
}

func NewTokenService(db *sql.DB, repos repomanager.RepositoryManager, store SessionStore,
	access *auth.AccessTokens, refresh *tokens.RefreshTokens, l logging.Logger) *TokenService {
	return &TokenService{
		db:       db,
		repos:    repos,
		sessions: store,
		access:   access,
		refresh:  refresh,
		logger:   l.With("module", "token_service"),
		now:      time.Now,
	}
}

// Issue creates a fresh session for userID, e.g. after a password login.
func (s *TokenService) Issue(ctx context.Context, userID string, meta ClientMeta) (*TokenPair, error) {
	rt, err := s.refresh.Create(userID)
	if err != nil {
		return nil, err
	}
	at, err := s.access.IssueCurrent(userID)
	if err != nil {
		return nil, err
	}

	if err := s.repos.RefreshTokens(s.db).Create(ctx, record(rt, meta)); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	if err := s.sessions.Put(ctx, sessionEntry(rt)); err != nil {
		s.deactivateSession(ctx, userID, rt.SessionID)
		return nil, err
	}

	s.logger.Info(ctx, "session created", "user_id", userID, "session_id", rt.SessionID)
	return pair(at, rt), nil
}

// Rotate exchanges a (session id, refresh token) pair for a new pair bound to
// a new session. Every successful call retires the presented token.
//
// Failures:
//   - common.ErrRefreshTokenNotFound: no such session, no active record, or
//     a concurrent rotation of the same token won;
//   - common.ErrInvalidRefreshToken: the token is not the session's current
//     one (replay) or the presented access token belongs to someone else;
//     the session is revoked;
//   - common.ErrExpiredRefreshToken: past expiry; the session is revoked.
func (s *TokenService) Rotate(ctx context.Context, req RotateRequest) (*TokenPair, error) {
	entry, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrRefreshTokenNotFound
		}
		return nil, err
	}

	if !s.refresh.Verify(req.RefreshToken, entry.RefreshToken) {
		s.logger.Warn(ctx, "refresh token replay detected, revoking session",
			"session_id", entry.SessionID, "user_id", entry.UserID)
		return nil, s.revoke(ctx, entry, common.ErrInvalidRefreshToken)
	}

	if req.AccessToken != "" {
		sub, err := auth.SubjectUnverified(req.AccessToken)
		if err != nil || sub != entry.UserID {
			s.logger.Warn(ctx, "access token subject does not match session, revoking",
				"session_id", entry.SessionID, "user_id", entry.UserID)
			return nil, s.revoke(ctx, entry, common.ErrInvalidRefreshToken)
		}
	}

	rec, err := s.repos.RefreshTokens(s.db).FindActive(ctx, entry.RefreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "session has no active refresh record, revoking",
				"session_id", entry.SessionID, "user_id", entry.UserID)
			return nil, s.revoke(ctx, entry, common.ErrRefreshTokenNotFound)
		}
		return nil, err
	}
	if rec.SessionID != entry.SessionID || rec.UserID != entry.UserID {
		s.logger.Warn(ctx, "refresh record does not belong to session, revoking",
			"session_id", entry.SessionID, "record_session_id", rec.SessionID)
		return nil, s.revoke(ctx, entry, common.ErrInvalidRefreshToken)
	}
	if rec.ExpiredAt(s.now()) {
		return nil, s.revoke(ctx, entry, common.ErrExpiredRefreshToken)
	}

	// everything that can fail without side effects happens before the
	// transaction
	rt, err := s.refresh.Create(entry.UserID)
	if err != nil {
		return nil, err
	}
	at, err := s.access.IssueCurrent(entry.UserID)
	if err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.RefreshTokens(tx)
		ok, err := repo.Deactivate(ctx, rec.Token)
		if err != nil {
			return err
		}
		if !ok {
			return errLostRace
		}
		return repo.Create(ctx, record(rt, req.Meta))
	})
	if err != nil {
		if errors.Is(err, errLostRace) {
			return nil, common.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	if err := s.sessions.Replace(ctx, entry.SessionID, sessionEntry(rt)); err != nil {
		// the old record is already inactive; without a session the new one
		// is useless, so close it too
		s.deactivateSession(ctx, entry.UserID, rt.SessionID)
		_ = s.sessions.Delete(ctx, entry.SessionID)
		return nil, err
	}

	s.logger.Info(ctx, "refresh token rotated",
		"user_id", entry.UserID, "old_session_id", entry.SessionID, "session_id", rt.SessionID)
	return pair(at, rt), nil
}

// revoke deletes the session and deactivates its records, then returns
// cause. Revocation failures are joined to cause so the caller still gets
// the reason for rejection.
func (s *TokenService) revoke(ctx context.Context, entry *sessions.Entry, cause error) error {
	var errs []error
	if err := s.sessions.Delete(ctx, entry.SessionID); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.repos.RefreshTokens(s.db).DeactivateSession(ctx, entry.UserID, entry.SessionID); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		s.logger.Error(ctx, "session revocation incomplete", "session_id", entry.SessionID, "error", errors.Join(errs...))
		return errors.Join(append([]error{cause}, errs...)...)
	}
	return cause
}

func (s *TokenService) deactivateSession(ctx context.Context, userID, sessionID string) {
	if _, err := s.repos.RefreshTokens(s.db).DeactivateSession(ctx, userID, sessionID); err != nil {
		s.logger.Error(ctx, "deactivating refresh records failed", "session_id", sessionID, "error", err)
	}
}

// Revoke ends one session of userID (logout). A session that is already
// gone only has its records closed; a session of another subject is
// rejected with common.ErrorUnauthorized and left untouched.
func (s *TokenService) Revoke(ctx context.Context, userID, sessionID string) error {
	entry, err := s.sessions.Get(ctx, sessionID)
	switch {
	case errors.Is(err, common.ErrorNotFound):
	case err != nil:
		return err
	case entry.UserID != userID:
		s.logger.Warn(ctx, "logout of a foreign session refused",
			"session_id", sessionID, "user_id", userID)
		return common.ErrorUnauthorized
	default:
		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			return err
		}
	}

	if _, err := s.repos.RefreshTokens(s.db).DeactivateSession(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	s.logger.Info(ctx, "session revoked", "session_id", sessionID, "user_id", userID)
	return nil
}

// RevokeAll ends every session of userID and returns how many live sessions
// were removed.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) (int, error) {
	n, err := s.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if _, err := s.repos.RefreshTokens(s.db).DeactivateUser(ctx, userID); err != nil {
		return n, fmt.Errorf("deactivate user sessions: %w", err)
	}
	s.logger.Info(ctx, "all sessions revoked", "user_id", userID, "sessions", n)
	return n, nil
}

// AuthenticateRequest is what a guarded endpoint receives: an access token
// and, optionally, the refresh credentials to use when it has expired.
type AuthenticateRequest struct {
	AccessToken  string
	SessionID    string
	RefreshToken string
	Meta         ClientMeta
}

// AuthResult carries the verified claims. Rotated is set when the access
// token had expired and the refresh credentials were exchanged; the caller
// must hand the new pair to the client.
type AuthResult struct {
	Claims  *auth.Claims
	Rotated *TokenPair
}

// Authenticate verifies an access token and, if it merely expired, runs the
// rotation protocol with the supplied refresh credentials.
func (s *TokenService) Authenticate(ctx context.Context, req AuthenticateRequest) (*AuthResult, error) {
	claims, err := s.access.Verify(ctx, req.AccessToken)
	if err == nil {
		return &AuthResult{Claims: claims}, nil
	}
	if !errors.Is(err, common.ErrTokenExpired) || req.SessionID == "" || req.RefreshToken == "" {
		return nil, err
	}

	p, err := s.Rotate(ctx, RotateRequest{
		SessionID:    req.SessionID,
		RefreshToken: req.RefreshToken,
		AccessToken:  req.AccessToken,
		Meta:         req.Meta,
	})
	if err != nil {
		return nil, err
	}
	claims, err = s.access.Verify(ctx, p.AccessToken)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Claims: claims, Rotated: p}, nil
}

// Verify checks an access token without touching refresh state.
func (s *TokenService) Verify(ctx context.Context, accessToken string) (*auth.Claims, error) {
	return s.access.Verify(ctx, accessToken)
}

func record(rt *tokens.RefreshToken, meta ClientMeta) *models.RefreshToken {
	return &models.RefreshToken{
		Token:     rt.Stored,
		UserID:    rt.UserID,
		SessionID: rt.SessionID,
		CreatedAt: rt.CreatedAt,
		ExpiresAt: rt.ExpiresAt,
		IsActive:  true,
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
	}
}

func sessionEntry(rt *tokens.RefreshToken) *sessions.Entry {
	return &sessions.Entry{
		SessionID:    rt.SessionID,
		UserID:       rt.UserID,
		RefreshToken: rt.Stored,
		ExpiresAt:    rt.ExpiresAt,
	}
}

func pair(at *auth.AccessToken, rt *tokens.RefreshToken) *TokenPair {
	return &TokenPair{
		UserID:           rt.UserID,
		AccessToken:      at.Token,
		AccessExpiresAt:  at.ExpiresAt,
		RefreshToken:     rt.Token,
		RefreshExpiresAt: rt.ExpiresAt,
		SessionID:        rt.SessionID,
	}
}
