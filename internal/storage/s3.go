// Package storage provides the S3 bucket holding the docs site and the
// packaged dbt project.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/tatenmitdaten/dbt-lambda/internal/awsenv"
	"github.com/tatenmitdaten/dbt-lambda/internal/models"
)

// BucketEnv names the environment variable holding the bucket name.
const BucketEnv = "DBT_DOCS_BUCKET"

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// API is the subset of the S3 client the bucket uses.
type API interface {
	PutObject(ctx context.Context, in *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
}

// Bucket reads and writes objects in a single S3 bucket.
type Bucket struct {
	client API
	name   string
}

// Config holds S3 bucket configuration.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string
	// Endpoint is a custom S3-compatible endpoint (e.g. MinIO or LocalStack).
	Endpoint string
	// ForcePathStyle forces path-style URLs instead of virtual-hosted-style.
	ForcePathStyle bool
	// AWS configures region and credentials.
	AWS awsenv.Options
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return models.NewPreconditionError(BucketEnv)
	}
	return c.AWS.Validate()
}

// NewBucket creates an S3-backed bucket from cfg.
func NewBucket(ctx context.Context, cfg Config) (*Bucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := awsenv.Load(ctx, cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	var s3Opts []func(*awss3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewBucketWithClient(awss3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket), nil
}

// BucketFunc resolves the bucket when it is needed.
type BucketFunc func(ctx context.Context) (*Bucket, error)

// FromEnv returns a BucketFunc that reads the bucket name from
// DBT_DOCS_BUCKET on every call. Clients are cached per bucket name.
func FromEnv(cfg Config) BucketFunc {
	var mu sync.Mutex
	cache := make(map[string]*Bucket)

	return func(ctx context.Context) (*Bucket, error) {
		name := os.Getenv(BucketEnv)
		if name == "" {
			return nil, models.NewPreconditionError(BucketEnv)
		}

		mu.Lock()
		defer mu.Unlock()
		if b, ok := cache[name]; ok {
			return b, nil
		}
		c := cfg
		c.Bucket = name
		b, err := NewBucket(ctx, c)
		if err != nil {
			return nil, err
		}
		cache[name] = b
		return b, nil
	}
}

// Static returns a BucketFunc that always yields b.
func Static(b *Bucket) BucketFunc {
	return func(context.Context) (*Bucket, error) {
		return b, nil
	}
}

// NewBucketWithClient wraps an existing client.
func NewBucketWithClient(client API, name string) *Bucket {
	return &Bucket{client: client, name: name}
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

// URI returns the s3:// URI of key.
func (b *Bucket) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", b.name, key)
}

// Upload writes data from reader to key.
func (b *Bucket) Upload(ctx context.Context, key string, reader io.Reader, contentType string) error {
	in := &awss3.PutObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
		Body:   reader,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := b.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("storage: s3 upload %s: %w", b.URI(key), err)
	}
	return nil
}

// Download returns a reader for key. A missing object yields ErrNotFound.
func (b *Bucket) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, b.URI(key))
		}
		return nil, fmt.Errorf("storage: s3 download %s: %w", b.URI(key), err)
	}
	return out.Body, nil
}

// Delete removes key. Deleting a missing object is not an error.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("storage: s3 delete %s: %w", b.URI(key), err)
	}
	return nil
}

// Exists checks whether key exists.
func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage: s3 head %s: %w", b.URI(key), err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}
