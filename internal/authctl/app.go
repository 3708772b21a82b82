package authctl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/signingkeys"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var ErrUsage = errors.New("usage error")

const usage = `usage: authctl [flags] <command>

commands:
  keys list | keys rotate | keys prune
  verify-token <access token>
  hash-password
  jwks
  login <login>
  introspect <access token>
  help`

// OpenKeys opens the signing key repository. The returned closer releases
// whatever the repository holds.
type OpenKeys func(ctx context.Context, c *config.Config) (signingkeys.Repository, io.Closer, error)

// Dial connects to a running server.
type Dial func(target string) (*grpc.ClientConn, error)

type App struct {
	config   *config.Config
	logger   logging.Logger
	in       *bufio.Reader
	out      io.Writer
	openKeys OpenKeys
	dial     Dial
}

type Option func(*App)

func WithOpenKeys(f OpenKeys) Option { return func(a *App) { a.openKeys = f } }
func WithDial(f Dial) Option         { return func(a *App) { a.dial = f } }

func NewApp(c *config.Config, l logging.Logger, in io.Reader, out io.Writer, opts ...Option) *App {
	a := &App{
		config:   c,
		logger:   l,
		in:       bufio.NewReader(in),
		out:      out,
		openKeys: openPostgresKeys,
		dial:     dialInsecure,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func openPostgresKeys(ctx context.Context, c *config.Config) (signingkeys.Repository, io.Closer, error) {
	db, err := repomanager.OpenDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("db init error: %w", err)
	}
	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return rm.SigningKeys(db), db, nil
}

func dialInsecure(target string) (*grpc.ClientConn, error) {
	return grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// Run executes the command named by args.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(a.out, usage)
		return ErrUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "help":
		fmt.Fprintln(a.out, usage)
		return nil
	case "keys":
		if len(rest) != 1 {
			return fmt.Errorf("%w: keys needs one of list, rotate, prune", ErrUsage)
		}
		switch rest[0] {
		case "list":
			return a.keysList(ctx)
		case "rotate":
			return a.keysRotate(ctx)
		case "prune":
			return a.keysPrune(ctx)
		}
		return fmt.Errorf("%w: unknown keys command %q", ErrUsage, rest[0])
	case "verify-token":
		if len(rest) != 1 {
			return fmt.Errorf("%w: verify-token needs a token", ErrUsage)
		}
		return a.verifyToken(ctx, rest[0])
	case "hash-password":
		return a.hashPassword()
	case "jwks":
		return a.jwks(ctx)
	case "login":
		login := ""
		if len(rest) > 0 {
			login = rest[0]
		}
		return a.login(ctx, login)
	case "introspect":
		if len(rest) != 1 {
			return fmt.Errorf("%w: introspect needs a token", ErrUsage)
		}
		return a.introspect(ctx, rest[0])
	}

	fmt.Fprintln(a.out, usage)
	return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
}
