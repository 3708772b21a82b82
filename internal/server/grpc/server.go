package grpc

import (
	"context"
	"errors"
	"net"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/keys"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Accounts is the account side of the API (*services.UserService).
type Accounts interface {
	Register(ctx context.Context, req services.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, login, password string, meta services.ClientMeta) (*services.TokenPair, error)
	Logout(ctx context.Context, userID, sessionID string) error
	LogoutAll(ctx context.Context, userID string) (int, error)
}

// Verifications is the email verification flow (*services.VerificationService).
type Verifications interface {
	Request(ctx context.Context, email string) (*services.VerificationTicket, error)
	Verify(ctx context.Context, token, code string) (string, error)
}

// Tokens runs refresh rotation and access checks (*services.TokenService).
type Tokens interface {
	Rotate(ctx context.Context, req services.RotateRequest) (*services.TokenPair, error)
	Authenticate(ctx context.Context, req services.AuthenticateRequest) (*services.AuthResult, error)
}

// KeySet lists the public keys tokens may be verified with (*keys.Rotator).
type KeySet interface {
	VerificationKeys(ctx context.Context) ([]keys.VerificationKey, error)
}

type GRPCServer struct {
	address       string
	accounts      Accounts
	verifications Verifications
	tokens        Tokens
	keys          KeySet
	health        *health.Server
	logger        logging.Logger
}

func NewGRPCServer(address string, l logging.Logger, a Accounts, v Verifications, t Tokens, k KeySet) *GRPCServer {
	return &GRPCServer{
		address:       address,
		accounts:      a,
		verifications: v,
		tokens:        t,
		keys:          k,
		health:        health.NewServer(),
		logger:        l.With("module", "grpc_server"),
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is cancelled, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	srv.RegisterService(&AuthServiceDesc, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
