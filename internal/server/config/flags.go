package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

var serverFlags = []string{"-a", "-d", "-r", "-t", "-R", "-k", "-p", "-P", "-m", "-b", "-l"}

// ValueFlags lists every flag LoadConfig reads that takes a value, the
// config file flags included.
func ValueFlags() []string {
	return append([]string{"-c", "-config"}, serverFlags...)
}

// parseFlags overlays short command-line flags onto config.
//
//	-a string   gRPC bind address (e.g. ":50051")
//	-d string   PostgreSQL DSN
//	-r string   Redis URL
//	-t duration access token validity (e.g. "15m")
//	-R duration refresh token validity (e.g. "7d")
//	-k duration signing key rotation period (e.g. "30d")
//	-p string   private key directory
//	-P string   public key directory
//	-m string   AMQP URL for verification mail
//	-b string   S3 bucket for JWKS publishing
//	-l string   log level
//
// os.Args is filtered through flagx.FilterArgs first so that -c/-config and
// flags owned by other components do not cause parse errors.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("authkeeper", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisURL, "r", config.RedisURL, "redis URL")
	durationVar(fs, &config.AccessTokenValidityDuration, "t", "access token validity")
	durationVar(fs, &config.RefreshTokenValidityDuration, "R", "refresh token validity")
	durationVar(fs, &config.KeyRotationPeriod, "k", "signing key rotation period")
	fs.StringVar(&config.PrivateKeyDir, "p", config.PrivateKeyDir, "private key directory")
	fs.StringVar(&config.PublicKeyDir, "P", config.PublicKeyDir, "public key directory")
	fs.StringVar(&config.AMQPURL, "m", config.AMQPURL, "AMQP URL for verification mail")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket for JWKS")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}

func durationVar(fs *flag.FlagSet, dst *time.Duration, name, usage string) {
	fs.Func(name, usage+` (e.g. "15m", "7d")`, func(s string) error {
		d, err := timex.ParseDuration(s)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	})
}
