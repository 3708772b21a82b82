package jwks

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/keys"
)

const (
	jwksObject   = "jwks.json"
	cacheControl = "public, max-age=300"
)

// S3Config points at an S3-compatible bucket (AWS or MinIO).
type S3Config struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
	Prefix       string
}

// PutObjectAPI is the part of *s3.Client the publisher needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// loadAWSConfig is a seam for tests.
var loadAWSConfig = config.LoadDefaultConfig

// NewS3Client builds a client with static credentials. A BaseEndpoint
// switches to path-style addressing, which MinIO needs.
func NewS3Client(ctx context.Context, c S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")))
	}

	cfg, err := loadAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Publisher uploads <prefix>jwks.json and one <prefix><kid>.pem per
// verification key. It implements keys.Publisher.
type S3Publisher struct {
	client PutObjectAPI
	bucket string
	prefix string
	logger logging.Logger
}

func NewS3Publisher(client PutObjectAPI, bucket, prefix string, l logging.Logger) *S3Publisher {
	return &S3Publisher{client: client, bucket: bucket, prefix: prefix, logger: l.With("module", "jwks_publisher")}
}

// DialS3Publisher builds the client for c and a publisher on top of it.
func DialS3Publisher(ctx context.Context, c S3Config, l logging.Logger) (*S3Publisher, error) {
	client, err := NewS3Client(ctx, c)
	if err != nil {
		return nil, err
	}
	return NewS3Publisher(client, c.Bucket, c.Prefix, l), nil
}

func (p *S3Publisher) Publish(ctx context.Context, vks []keys.VerificationKey) error {
	var errs []error
	// PEMs first so a consumer following jwks.json never sees a missing file
	for _, vk := range vks {
		if err := p.put(ctx, vk.KeyID+".pem", "application/x-pem-file", vk.PublicPEM); err != nil {
			errs = append(errs, err)
		}
	}

	doc, err := Marshal(vks)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	if err := p.put(ctx, jwksObject, "application/json", doc); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		p.logger.Info(ctx, "verification keys published", "bucket", p.bucket, "keys", len(vks))
	}
	return errors.Join(errs...)
}

func (p *S3Publisher) put(ctx context.Context, name, contentType string, body []byte) error {
	key := p.prefix + name
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(cacheControl),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", p.bucket, key, err)
	}
	return nil
}
