package authctl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	gs "github.com/dmitrijs2005/authkeeper/internal/server/grpc"
	"github.com/dmitrijs2005/authkeeper/internal/server/keys"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/signingkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	dir := t.TempDir()
	c.PrivateKeyDir = filepath.Join(dir, "private")
	c.PublicKeyDir = filepath.Join(dir, "public")
	c.BcryptCost = bcrypt.MinCost
	return c
}

func memoryKeys(repo signingkeys.Repository, closed *bool) Option {
	return WithOpenKeys(func(context.Context, *config.Config) (signingkeys.Repository, io.Closer, error) {
		return repo, closerFunc(func() error { *closed = true; return nil }), nil
	})
}

func newTestApp(t *testing.T, c *config.Config, in string, opts ...Option) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return NewApp(c, discardLogger(), strings.NewReader(in), &out, opts...), &out
}

func TestRun_Usage(t *testing.T) {
	a, out := newTestApp(t, testConfig(t), "")

	err := a.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrUsage)
	assert.Contains(t, out.String(), "usage: authctl")

	out.Reset()
	require.NoError(t, a.Run(context.Background(), []string{"help"}))
	assert.Contains(t, out.String(), "keys list")

	tests := [][]string{
		{"frobnicate"},
		{"keys"},
		{"keys", "shred"},
		{"verify-token"},
		{"introspect"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			require.ErrorIs(t, a.Run(context.Background(), args), ErrUsage)
		})
	}
}

func TestKeys_RotateListPrune(t *testing.T) {
	c := testConfig(t)
	repo := signingkeys.NewMemoryRepository()
	closed := false
	a, out := newTestApp(t, c, "", memoryKeys(repo, &closed))
	ctx := context.Background()

	require.NoError(t, a.Run(ctx, []string{"keys", "rotate"}))
	assert.True(t, closed)
	assert.Contains(t, out.String(), "rotated: ")
	require.Equal(t, 1, repo.Len())

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.FileExists(t, latest.PrivateKeyPath)
	assert.FileExists(t, latest.PublicKeyPath)

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"keys", "list"}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "VERIFY UNTIL")
	assert.Contains(t, lines[1], latest.KeyID)
	assert.Contains(t, lines[1], "active")

	out.Reset()
	require.NoError(t, a.Run(ctx, []string{"keys", "prune"}))
	assert.Equal(t, "pruned 0 key(s)\n", out.String())
	assert.Equal(t, 1, repo.Len())
}

func TestKeys_OpenFails(t *testing.T) {
	boom := errors.New("db down")
	a, _ := newTestApp(t, testConfig(t), "", WithOpenKeys(func(context.Context, *config.Config) (signingkeys.Repository, io.Closer, error) {
		return nil, nil, boom
	}))

	require.ErrorIs(t, a.Run(context.Background(), []string{"keys", "list"}), boom)
}

func TestKeyStatus(t *testing.T) {
	now := time.Now()
	active := models.SigningKey{KeyID: "a", ExpiresAt: now.Add(time.Hour), VerifyUntil: now.Add(2 * time.Hour)}
	retired := models.SigningKey{KeyID: "r", ExpiresAt: now.Add(-time.Minute), VerifyUntil: now.Add(time.Hour)}
	assert.Equal(t, "active", keyStatus(active, now))
	assert.Equal(t, "retired", keyStatus(retired, now))
}

func TestVerifyToken(t *testing.T) {
	c := testConfig(t)
	repo := signingkeys.NewMemoryRepository()
	closed := false
	ctx := context.Background()

	files := keys.NewFileStore(c.PrivateKeyDir, c.PublicKeyDir, nil)
	r := keys.NewRotator(repo, files, discardLogger(), c.KeyRotationPeriod, c.AccessTokenValidityDuration, keys.WithKeyBits(1024))
	require.NoError(t, r.Load(ctx))
	at, err := auth.NewAccessTokens(r, c.AccessTokenValidityDuration).IssueCurrent("user-1")
	require.NoError(t, err)

	a, out := newTestApp(t, c, "", memoryKeys(repo, &closed))
	require.NoError(t, a.Run(ctx, []string{"verify-token", at.Token}))
	assert.Contains(t, out.String(), "sub: user-1")
	assert.Contains(t, out.String(), "kid: "+at.KeyID)

	err = a.Run(ctx, []string{"verify-token", "not-a-jwt"})
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestHashPassword(t *testing.T) {
	old := readPassword
	t.Cleanup(func() { readPassword = old })

	a, out := newTestApp(t, testConfig(t), "")

	readPassword = func(int) ([]byte, error) { return []byte("Str0ng!pass"), nil }
	require.NoError(t, a.Run(context.Background(), []string{"hash-password"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	hash := lines[len(lines)-1]
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("Str0ng!pass")))

	readPassword = func(int) ([]byte, error) { return []byte("weak"), nil }
	err := a.Run(context.Background(), []string{"hash-password"})
	require.ErrorIs(t, err, common.ErrorValidation)
}

// ---- remote commands ----

type stubAuth struct {
	gs.AuthServiceServer
	login      *gs.LoginRequest
	introToken string
}

func (s *stubAuth) Login(_ context.Context, req *gs.LoginRequest) (*gs.Credentials, error) {
	s.login = req
	if req.Password != "Str0ng!pass" {
		return nil, status.Error(codes.Unauthenticated, common.Code(common.ErrorUnauthorized))
	}
	return &gs.Credentials{UserID: "u1", AccessToken: "at", RefreshToken: "rt", SessionID: "s1"}, nil
}

func (s *stubAuth) Introspect(ctx context.Context, _ *gs.IntrospectRequest) (*gs.IntrospectResponse, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if v := md.Get(common.AccessTokenHeaderName); len(v) > 0 {
		s.introToken = v[0]
	}
	return &gs.IntrospectResponse{Subject: "u1", KeyID: "k1"}, nil
}

func (s *stubAuth) JWKS(context.Context, *gs.JWKSRequest) (*gs.JWKSResponse, error) {
	return &gs.JWKSResponse{Keys: []byte(`{"keys":[{"kid":"k1","kty":"RSA"}]}`)}, nil
}

func withStubServer(t *testing.T, stub *stubAuth) Option {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&gs.AuthServiceDesc, stub)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return WithDial(func(string) (*grpc.ClientConn, error) {
		return grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
			grpc.WithTransportCredentials(insecure.NewCredentials()))
	})
}

func TestJWKS(t *testing.T) {
	a, out := newTestApp(t, testConfig(t), "", withStubServer(t, &stubAuth{}))

	require.NoError(t, a.Run(context.Background(), []string{"jwks"}))
	assert.JSONEq(t, `{"keys":[{"kid":"k1","kty":"RSA"}]}`, out.String())
}

func TestLogin(t *testing.T) {
	old := readPassword
	t.Cleanup(func() { readPassword = old })
	readPassword = func(int) ([]byte, error) { return []byte("Str0ng!pass"), nil }

	stub := &stubAuth{}
	a, out := newTestApp(t, testConfig(t), "alice\n", withStubServer(t, stub))

	require.NoError(t, a.Run(context.Background(), []string{"login"}))
	require.NotNil(t, stub.login)
	assert.Equal(t, "alice", stub.login.Login)
	assert.Contains(t, out.String(), `"session_id": "s1"`)
}

func TestLogin_Rejected(t *testing.T) {
	old := readPassword
	t.Cleanup(func() { readPassword = old })
	readPassword = func(int) ([]byte, error) { return []byte("wrong"), nil }

	a, _ := newTestApp(t, testConfig(t), "", withStubServer(t, &stubAuth{}))

	err := a.Run(context.Background(), []string{"login", "bob"})
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestIntrospect(t *testing.T) {
	stub := &stubAuth{}
	a, out := newTestApp(t, testConfig(t), "", withStubServer(t, stub))

	require.NoError(t, a.Run(context.Background(), []string{"introspect", "tok"}))
	assert.Equal(t, "tok", stub.introToken)
	assert.Contains(t, out.String(), `"sub": "u1"`)
}

func TestRemote_DialFails(t *testing.T) {
	boom := errors.New("no route")
	a, _ := newTestApp(t, testConfig(t), "", WithDial(func(string) (*grpc.ClientConn, error) { return nil, boom }))

	require.ErrorIs(t, a.Run(context.Background(), []string{"jwks"}), boom)
}
