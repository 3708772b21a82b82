package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "authkeeper.AuthService"

// AuthServiceServer is implemented by *GRPCServer.
type AuthServiceServer interface {
	RequestEmailVerification(context.Context, *RequestEmailVerificationRequest) (*RequestEmailVerificationResponse, error)
	VerifyEmail(context.Context, *VerifyEmailRequest) (*VerifyEmailResponse, error)
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*Credentials, error)
	Refresh(context.Context, *RefreshRequest) (*Credentials, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	Introspect(context.Context, *IntrospectRequest) (*IntrospectResponse, error)
	JWKS(context.Context, *JWKSRequest) (*JWKSResponse, error)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(AuthServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(AuthServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// AuthServiceDesc describes authkeeper.AuthService for grpc.Server.RegisterService.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RequestEmailVerification", AuthServiceServer.RequestEmailVerification),
		unary("VerifyEmail", AuthServiceServer.VerifyEmail),
		unary("Register", AuthServiceServer.Register),
		unary("Login", AuthServiceServer.Login),
		unary("Refresh", AuthServiceServer.Refresh),
		unary("Logout", AuthServiceServer.Logout),
		unary("Introspect", AuthServiceServer.Introspect),
		unary("JWKS", AuthServiceServer.JWKS),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authkeeper/auth.json",
}

// AuthClient calls AuthService with the JSON codec.
type AuthClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthClient(cc grpc.ClientConnInterface) *AuthClient {
	return &AuthClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthClient) RequestEmailVerification(ctx context.Context, in *RequestEmailVerificationRequest, opts ...grpc.CallOption) (*RequestEmailVerificationResponse, error) {
	return invoke[RequestEmailVerificationResponse](ctx, c.cc, "RequestEmailVerification", in, opts)
}

func (c *AuthClient) VerifyEmail(ctx context.Context, in *VerifyEmailRequest, opts ...grpc.CallOption) (*VerifyEmailResponse, error) {
	return invoke[VerifyEmailResponse](ctx, c.cc, "VerifyEmail", in, opts)
}

func (c *AuthClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, "Register", in, opts)
}

func (c *AuthClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*Credentials, error) {
	return invoke[Credentials](ctx, c.cc, "Login", in, opts)
}

func (c *AuthClient) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*Credentials, error) {
	return invoke[Credentials](ctx, c.cc, "Refresh", in, opts)
}

func (c *AuthClient) Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	return invoke[LogoutResponse](ctx, c.cc, "Logout", in, opts)
}

func (c *AuthClient) Introspect(ctx context.Context, in *IntrospectRequest, opts ...grpc.CallOption) (*IntrospectResponse, error) {
	return invoke[IntrospectResponse](ctx, c.cc, "Introspect", in, opts)
}

func (c *AuthClient) JWKS(ctx context.Context, in *JWKSRequest, opts ...grpc.CallOption) (*JWKSResponse, error) {
	return invoke[JWKSResponse](ctx, c.cc, "JWKS", in, opts)
}
