package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/timex"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by parseEnv.
const EnvPrefix = "AUTHKEEPER_"

// dotenvFile is loaded before reading the environment. Variables already set
// in the process environment win over the file.
var dotenvFile = ".env"

// parseEnv overlays AUTHKEEPER_* environment variables onto config.
//
//	AUTHKEEPER_GRPC_ADDR, AUTHKEEPER_DATABASE_DSN, AUTHKEEPER_REDIS_URL,
//	AUTHKEEPER_ACCESS_TTL, AUTHKEEPER_REFRESH_TTL, AUTHKEEPER_REFRESH_BYTES,
//	AUTHKEEPER_REFRESH_HASHED, AUTHKEEPER_KEY_ROTATION_PERIOD,
//	AUTHKEEPER_PRIVATE_KEY_DIR, AUTHKEEPER_PUBLIC_KEY_DIR,
//	AUTHKEEPER_KEY_ENCRYPTION_SECRET, AUTHKEEPER_EMAIL_TTL,
//	AUTHKEEPER_EMAIL_CODE_LENGTH, AUTHKEEPER_EMAIL_MAX_ATTEMPTS,
//	AUTHKEEPER_BCRYPT_COST, AUTHKEEPER_AMQP_URL, AUTHKEEPER_MAIL_QUEUE,
//	AUTHKEEPER_S3_BUCKET, AUTHKEEPER_S3_REGION, AUTHKEEPER_S3_ENDPOINT,
//	AUTHKEEPER_S3_ACCESS_KEY, AUTHKEEPER_S3_SECRET_KEY, AUTHKEEPER_S3_PREFIX,
//	AUTHKEEPER_LOG_BACKEND, AUTHKEEPER_LOG_LEVEL
func parseEnv(config *Config) {
	if err := godotenv.Load(dotenvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(fmt.Errorf("load %s: %w", dotenvFile, err))
	}
	if err := applyEnv(config, os.LookupEnv); err != nil {
		panic(err)
	}
}

type lookupFunc func(string) (string, bool)

func applyEnv(c *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("GRPC_ADDR", &c.EndpointAddrGRPC)
	e.str("DATABASE_DSN", &c.DatabaseDSN)
	e.str("REDIS_URL", &c.RedisURL)
	e.duration("ACCESS_TTL", &c.AccessTokenValidityDuration)
	e.duration("REFRESH_TTL", &c.RefreshTokenValidityDuration)
	e.int("REFRESH_BYTES", &c.RefreshTokenByteLength)
	e.bool("REFRESH_HASHED", &c.RefreshTokenStoreHashed)
	e.duration("KEY_ROTATION_PERIOD", &c.KeyRotationPeriod)
	e.str("PRIVATE_KEY_DIR", &c.PrivateKeyDir)
	e.str("PUBLIC_KEY_DIR", &c.PublicKeyDir)
	e.str("KEY_ENCRYPTION_SECRET", &c.KeyEncryptionSecret)
	e.duration("EMAIL_TTL", &c.EmailTokenValidityDuration)
	e.int("EMAIL_CODE_LENGTH", &c.EmailCodeLength)
	e.int("EMAIL_MAX_ATTEMPTS", &c.EmailMaxAttempts)
	e.int("BCRYPT_COST", &c.BcryptCost)
	e.str("AMQP_URL", &c.AMQPURL)
	e.str("MAIL_QUEUE", &c.MailQueue)
	e.str("S3_BUCKET", &c.S3Bucket)
	e.str("S3_REGION", &c.S3Region)
	e.str("S3_ENDPOINT", &c.S3BaseEndpoint)
	e.str("S3_ACCESS_KEY", &c.S3AccessKey)
	e.str("S3_SECRET_KEY", &c.S3SecretKey)
	e.str("S3_PREFIX", &c.S3Prefix)
	e.str("LOG_BACKEND", &c.LogBackend)
	e.str("LOG_LEVEL", &c.LogLevel)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) int(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = n
}

func (e *envReader) bool(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = b
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := timex.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = d
}
