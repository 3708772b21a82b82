package grpc

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type ctxKey string

const (
	claimsKey  ctxKey = "claims"
	rotatedKey ctxKey = "rotated"
)

// guarded lists the methods that require an access token.
var guarded = map[string]bool{
	fullMethod("Logout"):     true,
	fullMethod("Introspect"): true,
}

func claimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.Claims)
	return c, ok
}

// rotatedFromContext returns the credentials the interceptor issued when it
// exchanged an expired access token during this call.
func rotatedFromContext(ctx context.Context) (*services.TokenPair, bool) {
	p, ok := ctx.Value(rotatedKey).(*services.TokenPair)
	return p, ok
}

func firstValue(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

func clientMeta(ctx context.Context) services.ClientMeta {
	var meta services.ClientMeta
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		meta.UserAgent = firstValue(md, "user-agent")
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		meta.IPAddress = p.Addr.String()
	}
	return meta
}

// accessTokenInterceptor verifies the access token of guarded calls. An
// expired token is exchanged when the caller also sent session_id and
// refresh_token metadata; the new credentials come back as response headers.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !guarded[info.FullMethod] {
		return handler(ctx, req)
	}

	md, _ := metadata.FromIncomingContext(ctx)
	accessToken := firstValue(md, common.AccessTokenHeaderName)
	if accessToken == "" {
		return nil, status.Error(codes.Unauthenticated, common.Code(common.ErrInvalidToken))
	}

	res, err := s.tokens.Authenticate(ctx, services.AuthenticateRequest{
		AccessToken:  accessToken,
		SessionID:    firstValue(md, common.SessionIDHeaderName),
		RefreshToken: firstValue(md, common.RefreshTokenHeaderName),
		Meta:         clientMeta(ctx),
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	if p := res.Rotated; p != nil {
		header := metadata.Pairs(
			common.AccessTokenHeaderName, p.AccessToken,
			common.RefreshTokenHeaderName, p.RefreshToken,
			common.SessionIDHeaderName, p.SessionID,
		)
		if err := grpc.SetHeader(ctx, header); err != nil {
			s.logger.Error(ctx, "sending rotated credentials failed", "error", err)
		}
		ctx = context.WithValue(ctx, rotatedKey, p)
	}

	return handler(context.WithValue(ctx, claimsKey, res.Claims), req)
}

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	ctx = logging.ContextWith(ctx, "method", info.FullMethod)
	resp, err := handler(ctx, req)
	s.logger.Debug(ctx, "rpc",
		"code", status.Code(err).String(),
		"duration", time.Since(start))
	return resp, err
}
