package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
	"github.com/dmitrijs2005/authkeeper/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the config file. Durations accept
// strings such as "15m" or "7d". Only fields present in the file override
// the current values.
type FileConfig struct {
	EndpointAddrGRPC             *string         `json:"endpoint_addr_grpc" yaml:"endpoint_addr_grpc"`
	DatabaseDSN                  *string         `json:"database_dsn" yaml:"database_dsn"`
	RedisURL                     *string         `json:"redis_url" yaml:"redis_url"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration" yaml:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration" yaml:"refresh_token_validity_duration"`
	RefreshTokenByteLength       *int            `json:"refresh_token_byte_length" yaml:"refresh_token_byte_length"`
	RefreshTokenStoreHashed      *bool           `json:"refresh_token_store_hashed" yaml:"refresh_token_store_hashed"`
	KeyRotationPeriod            *timex.Duration `json:"key_rotation_period" yaml:"key_rotation_period"`
	PrivateKeyDir                *string         `json:"private_key_dir" yaml:"private_key_dir"`
	PublicKeyDir                 *string         `json:"public_key_dir" yaml:"public_key_dir"`
	KeyEncryptionSecret          *string         `json:"key_encryption_secret" yaml:"key_encryption_secret"`
	EmailTokenValidityDuration   *timex.Duration `json:"email_token_validity_duration" yaml:"email_token_validity_duration"`
	EmailCodeLength              *int            `json:"email_code_length" yaml:"email_code_length"`
	EmailMaxAttempts             *int            `json:"email_max_attempts" yaml:"email_max_attempts"`
	BcryptCost                   *int            `json:"bcrypt_cost" yaml:"bcrypt_cost"`
	AMQPURL                      *string         `json:"amqp_url" yaml:"amqp_url"`
	MailQueue                    *string         `json:"mail_queue" yaml:"mail_queue"`
	S3Bucket                     *string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region                     *string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint               *string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	S3AccessKey                  *string         `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey                  *string         `json:"s3_secret_key" yaml:"s3_secret_key"`
	S3Prefix                     *string         `json:"s3_prefix" yaml:"s3_prefix"`
	LogBackend                   *string         `json:"log_backend" yaml:"log_backend"`
	LogLevel                     *string         `json:"log_level" yaml:"log_level"`
}

// parseFile overlays the file named by -c/-config (or $AUTHKEEPER_CONFIG)
// onto config. The format is chosen by extension: .yaml/.yml or JSON.
func parseFile(config *Config) {
	path := flagx.ConfigFile()
	if path == "" {
		return
	}

	fc, err := readFile(path)
	if err != nil {
		panic(err)
	}
	fc.apply(config)
}

func readFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}

func (f *FileConfig) apply(c *Config) {
	set(&c.EndpointAddrGRPC, f.EndpointAddrGRPC)
	set(&c.DatabaseDSN, f.DatabaseDSN)
	set(&c.RedisURL, f.RedisURL)
	setDuration(&c.AccessTokenValidityDuration, f.AccessTokenValidityDuration)
	setDuration(&c.RefreshTokenValidityDuration, f.RefreshTokenValidityDuration)
	set(&c.RefreshTokenByteLength, f.RefreshTokenByteLength)
	set(&c.RefreshTokenStoreHashed, f.RefreshTokenStoreHashed)
	setDuration(&c.KeyRotationPeriod, f.KeyRotationPeriod)
	set(&c.PrivateKeyDir, f.PrivateKeyDir)
	set(&c.PublicKeyDir, f.PublicKeyDir)
	set(&c.KeyEncryptionSecret, f.KeyEncryptionSecret)
	setDuration(&c.EmailTokenValidityDuration, f.EmailTokenValidityDuration)
	set(&c.EmailCodeLength, f.EmailCodeLength)
	set(&c.EmailMaxAttempts, f.EmailMaxAttempts)
	set(&c.BcryptCost, f.BcryptCost)
	set(&c.AMQPURL, f.AMQPURL)
	set(&c.MailQueue, f.MailQueue)
	set(&c.S3Bucket, f.S3Bucket)
	set(&c.S3Region, f.S3Region)
	set(&c.S3BaseEndpoint, f.S3BaseEndpoint)
	set(&c.S3AccessKey, f.S3AccessKey)
	set(&c.S3SecretKey, f.S3SecretKey)
	set(&c.S3Prefix, f.S3Prefix)
	set(&c.LogBackend, f.LogBackend)
	set(&c.LogLevel, f.LogLevel)
}
