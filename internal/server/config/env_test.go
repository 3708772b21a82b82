package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	c := defaults()
	err := applyEnv(&c, mapLookup(map[string]string{
		"AUTHKEEPER_DATABASE_DSN":       "postgres://u:p@db/auth",
		"AUTHKEEPER_REFRESH_TTL":        "3d",
		"AUTHKEEPER_REFRESH_HASHED":     "false",
		"AUTHKEEPER_EMAIL_MAX_ATTEMPTS": "0",
		"AUTHKEEPER_LOG_BACKEND":        "slog",
		"AUTHKEEPER_S3_BUCKET":          "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db/auth", c.DatabaseDSN)
	assert.Equal(t, 72*time.Hour, c.RefreshTokenValidityDuration)
	assert.False(t, c.RefreshTokenStoreHashed)
	assert.Equal(t, 0, c.EmailMaxAttempts)
	assert.Equal(t, "slog", c.LogBackend)
	assert.Empty(t, c.S3Bucket)
}

func TestApplyEnv_CollectsErrors(t *testing.T) {
	c := defaults()
	err := applyEnv(&c, mapLookup(map[string]string{
		"AUTHKEEPER_BCRYPT_COST":    "twelve",
		"AUTHKEEPER_ACCESS_TTL":     "later",
		"AUTHKEEPER_REFRESH_HASHED": "maybe",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHKEEPER_BCRYPT_COST")
	assert.Contains(t, err.Error(), "AUTHKEEPER_ACCESS_TTL")
	assert.Contains(t, err.Error(), "AUTHKEEPER_REFRESH_HASHED")
	assert.Equal(t, 12, c.BcryptCost)
}

func TestParseEnv_LoadsDotenvWithoutOverridingProcessEnv(t *testing.T) {
	orig := dotenvFile
	t.Cleanup(func() { dotenvFile = orig })
	dotenvFile = writeTemp(t, ".env", "AUTHKEEPER_MAIL_QUEUE=from-dotenv\nAUTHKEEPER_LOG_LEVEL=debug\n")

	t.Setenv("AUTHKEEPER_LOG_LEVEL", "warn")
	// registered so the value godotenv sets is removed after the test
	t.Setenv("AUTHKEEPER_MAIL_QUEUE", "")
	require.NoError(t, os.Unsetenv("AUTHKEEPER_MAIL_QUEUE"))

	c := defaults()
	parseEnv(&c)

	assert.Equal(t, "from-dotenv", c.MailQueue)
	assert.Equal(t, "warn", c.LogLevel)
}

func TestParseEnv_MissingDotenvIsIgnored(t *testing.T) {
	orig := dotenvFile
	t.Cleanup(func() { dotenvFile = orig })
	dotenvFile = filepath.Join(t.TempDir(), "absent.env")

	c := defaults()
	assert.NotPanics(t, func() { parseEnv(&c) })
}
