// Package server wires the credential engine together: PostgreSQL and Redis
// stores, the signing key rotator, the token and verification services and
// the gRPC endpoint. It also prunes discarded signing keys and handles
// graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/jwks"
	"github.com/dmitrijs2005/authkeeper/internal/server/keys"
	"github.com/dmitrijs2005/authkeeper/internal/server/mail"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/dmitrijs2005/authkeeper/internal/server/sessions"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"

	gs "github.com/dmitrijs2005/authkeeper/internal/server/grpc"
)

const pruneInterval = time.Hour

type App struct {
	config        *config.Config
	logger        logging.Logger
	db            *sql.DB
	rotator       *keys.Rotator
	tokens        *services.TokenService
	verifications *services.VerificationService
	users         *services.UserService
	closers       []io.Closer
}

// NewApp connects to the stores and builds every service. Nothing runs in
// the background until Run.
func NewApp(ctx context.Context, c *config.Config) (app *App, err error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(c.LogBackend, c.LogLevel)
	if err != nil {
		return nil, err
	}

	app = &App{config: c, logger: logger}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	app.db, err = repomanager.OpenDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.closers = append(app.closers, app.db)

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, app.db); err != nil {
		return nil, err
	}

	rdb, err := sessions.Connect(ctx, c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis init error: %w", err)
	}
	app.closers = append(app.closers, rdb)

	var opts []keys.Option
	if c.S3Bucket != "" {
		pub, err := jwks.DialS3Publisher(ctx, S3ConfigFrom(c), logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, keys.WithPublisher(pub))
	}

	files := keys.NewFileStore(c.PrivateKeyDir, c.PublicKeyDir, []byte(c.KeyEncryptionSecret))
	app.rotator = keys.NewRotator(rm.SigningKeys(app.db), files, logger,
		c.KeyRotationPeriod, c.AccessTokenValidityDuration, opts...)

	refresh, err := tokens.NewRefreshTokens(c.RefreshTokenByteLength, c.RefreshTokenValidityDuration, c.RefreshTokenStoreHashed)
	if err != nil {
		return nil, err
	}

	var sender mail.Sender
	if c.AMQPURL != "" {
		amqpSender, err := mail.DialAMQP(c.AMQPURL, c.MailQueue)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, amqpSender)
		sender = amqpSender
	} else {
		logger.Warn(ctx, "no AMQP URL configured, verification codes are only logged")
		sender = mail.NewLogSender(logger)
	}

	access := auth.NewAccessTokens(app.rotator, c.AccessTokenValidityDuration)
	app.tokens = services.NewTokenService(app.db, rm, sessions.NewStore(rdb), access, refresh, logger)
	app.verifications = services.NewVerificationService(app.db, rm,
		sessions.NewVerificationCache(rdb, c.EmailMaxAttempts), sender,
		c.EmailTokenValidityDuration, c.EmailCodeLength, logger)
	app.users = services.NewUserService(app.db, rm, app.verifications, app.tokens,
		cryptox.NewPasswordHasher(c.BcryptCost), logger)

	return app, nil
}

// S3ConfigFrom extracts the JWKS publishing target from c.
func S3ConfigFrom(c *config.Config) jwks.S3Config {
	return jwks.S3Config{
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
		AccessKey:    c.S3AccessKey,
		SecretKey:    c.S3SecretKey,
		Prefix:       c.S3Prefix,
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.users, app.verifications, app.tokens, app.rotator)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "gRPC server failed", "error", err)
		cancelFunc()
	}
}

// runKeyPruning drops signing keys past their verification window once per
// interval. Verification records are audit rows and are never deleted.
func (app *App) runKeyPruning(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.rotator.Prune(ctx); err != nil {
				app.logger.Warn(ctx, "signing key pruning failed", "error", err)
			}
		}
	}
}

// Run starts key rotation, the gRPC server and the pruning loop, and blocks
// until a signal arrives or the server fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.close()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	if err := app.rotator.Start(ctx); err != nil {
		return fmt.Errorf("start key rotation: %w", err)
	}

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.runKeyPruning(ctx, pruneInterval)
	}()

	wg.Wait()
	cancelFunc()
	<-app.rotator.Done()

	app.logger.Info(ctx, "App stopped")
	return nil
}

func (app *App) close() {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	if err := errors.Join(errs...); err != nil {
		app.logger.Warn(context.Background(), "closing resources failed", "error", err)
	}
}
