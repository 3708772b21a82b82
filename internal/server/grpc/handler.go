package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/jwks"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"google.golang.org/grpc/metadata"
)

func seconds(until time.Time) int64 {
	d := time.Until(until)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func credentials(p *services.TokenPair) *Credentials {
	return &Credentials{
		UserID:           p.UserID,
		AccessToken:      p.AccessToken,
		AccessExpiresIn:  seconds(p.AccessExpiresAt),
		RefreshToken:     p.RefreshToken,
		RefreshExpiresIn: seconds(p.RefreshExpiresAt),
		SessionID:        p.SessionID,
	}
}

func (s *GRPCServer) RequestEmailVerification(ctx context.Context, req *RequestEmailVerificationRequest) (*RequestEmailVerificationResponse, error) {
	ticket, err := s.verifications.Request(ctx, req.Email)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	// the code goes to the mailbox only
	return &RequestEmailVerificationResponse{Token: ticket.Token, ExpiresIn: seconds(ticket.ExpiresAt)}, nil
}

func (s *GRPCServer) VerifyEmail(ctx context.Context, req *VerifyEmailRequest) (*VerifyEmailResponse, error) {
	email, err := s.verifications.Verify(ctx, req.Token, req.Code)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &VerifyEmailResponse{Email: email}, nil
}

func (s *GRPCServer) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	s.logger.Info(ctx, "Registration request", "login", req.Login)

	u, err := s.accounts.Register(ctx, services.RegisterRequest{
		Login:      req.Login,
		Email:      req.Email,
		Password:   req.Password,
		EmailToken: req.EmailToken,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Info(ctx, "Registered", "login", u.Login, "user_id", u.ID)
	return &RegisterResponse{UserID: u.ID}, nil
}

func (s *GRPCServer) Login(ctx context.Context, req *LoginRequest) (*Credentials, error) {
	p, err := s.accounts.Login(ctx, req.Login, req.Password, clientMeta(ctx))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return credentials(p), nil
}

func (s *GRPCServer) Refresh(ctx context.Context, req *RefreshRequest) (*Credentials, error) {
	p, err := s.tokens.Rotate(ctx, services.RotateRequest{
		SessionID:    req.SessionID,
		RefreshToken: req.RefreshToken,
		AccessToken:  req.AccessToken,
		Meta:         clientMeta(ctx),
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return credentials(p), nil
}

// Logout ends the given session, or the one named in session_id metadata,
// or every session of the caller when AllSessions is set. When the
// interceptor rotated the metadata session during this call, the session
// that replaced it is the one ended.
func (s *GRPCServer) Logout(ctx context.Context, req *LogoutRequest) (*LogoutResponse, error) {
	claims, ok := claimsFromContext(ctx)
	if !ok {
		return nil, s.toStatus(ctx, common.ErrInvalidToken)
	}

	if req.AllSessions {
		n, err := s.accounts.LogoutAll(ctx, claims.Subject)
		if err != nil {
			return nil, s.toStatus(ctx, err)
		}
		return &LogoutResponse{Sessions: n}, nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	current := firstValue(md, common.SessionIDHeaderName)
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = current
	}
	if p, ok := rotatedFromContext(ctx); ok && sessionID == current {
		sessionID = p.SessionID
	}
	if sessionID == "" {
		return nil, s.toStatus(ctx, fmt.Errorf("%w: session id is required", common.ErrorValidation))
	}

	if err := s.accounts.Logout(ctx, claims.Subject, sessionID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &LogoutResponse{Sessions: 1}, nil
}

func (s *GRPCServer) Introspect(ctx context.Context, _ *IntrospectRequest) (*IntrospectResponse, error) {
	claims, ok := claimsFromContext(ctx)
	if !ok {
		return nil, s.toStatus(ctx, common.ErrInvalidToken)
	}
	return &IntrospectResponse{
		Subject:   claims.Subject,
		KeyID:     claims.KeyID,
		IssuedAt:  claims.IssuedAt.Unix(),
		ExpiresAt: claims.ExpiresAt.Unix(),
	}, nil
}

func (s *GRPCServer) JWKS(ctx context.Context, _ *JWKSRequest) (*JWKSResponse, error) {
	vks, err := s.keys.VerificationKeys(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	doc, err := jwks.Marshal(vks)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &JWKSResponse{Keys: doc}, nil
}
