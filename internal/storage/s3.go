package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"

	genoerrors "github.com/genostore/genostore/internal/errors"
)

// S3Config holds configuration for S3 storage.
type S3Config struct {
	// Region is the AWS region for the S3 bucket.
	Region string `yaml:"region" envconfig:"S3_REGION"`
	// Endpoint is an optional custom endpoint (MinIO, LocalStack).
	Endpoint string `yaml:"endpoint" envconfig:"S3_ENDPOINT"`
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool `yaml:"use_path_style" envconfig:"S3_USE_PATH_STYLE"`
	// MaxRetries bounds retries of a single request.
	MaxRetries int `yaml:"max_retries" envconfig:"S3_MAX_RETRIES"`
	// Prefix is prepended to every object path. Open fills it from the URL.
	Prefix string `yaml:"-" ignored:"true"`
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{Region: "us-east-1", MaxRetries: 3}
}

// S3Storage implements ObjectStorage for AWS S3 and compatible stores.
type S3Storage struct {
	client *s3.Client
	bucket string
	config S3Config
}

// NewS3Storage creates an S3 client from the default AWS credential chain.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, genoerrors.NewValidationError(genoerrors.CodeInvalidConfig, "storage: failed to load AWS config: "+err.Error())
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StorageWithClient(client, bucket, cfg), nil
}

// NewS3StorageWithClient wraps a pre-configured client.
func NewS3StorageWithClient(client *s3.Client, bucket string, cfg S3Config) *S3Storage {
	return &S3Storage{client: client, bucket: bucket, config: cfg}
}

// Upload puts the local file at objectPath.
func (s *S3Storage) Upload(ctx context.Context, localPath, objectPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return uploadError(objectPath, err)
	}
	defer file.Close()

	err = s.retry(ctx, func() error {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(objectPath)),
			Body:   file,
		})
		return err
	})
	if err != nil {
		return uploadError(objectPath, err)
	}
	return nil
}

// Download streams objectPath into localPath.
func (s *S3Storage) Download(ctx context.Context, objectPath, localPath string) error {
	err := s.retry(ctx, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(objectPath)),
		})
		if err != nil {
			var noSuchKey *types.NoSuchKey
			if errors.As(err, &noSuchKey) {
				return backoff.Permanent(ErrObjectNotFound)
			}
			return err
		}
		defer resp.Body.Close()

		file, err := os.Create(localPath)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := io.Copy(file, resp.Body); err != nil {
			file.Close()
			return err
		}
		return file.Close()
	})
	if errors.Is(err, ErrObjectNotFound) {
		return ErrObjectNotFound
	}
	if err != nil {
		return downloadError(objectPath, err)
	}
	return nil
}

// Delete removes objectPath.
func (s *S3Storage) Delete(ctx context.Context, objectPath string) error {
	err := s.retry(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(objectPath)),
		})
		return err
	})
	if err != nil {
		return genoerrors.NewStorageError(genoerrors.CodeIOFailed, "storage: delete of "+objectPath+" failed", err)
	}
	return nil
}

// Exists issues a HEAD request for objectPath.
func (s *S3Storage) Exists(ctx context.Context, objectPath string) (bool, error) {
	var exists bool
	err := s.retry(ctx, func() error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(objectPath)),
		})
		if err != nil {
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				exists = false
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// ListObjects pages through the keys under prefix.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var objects []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, genoerrors.NewStorageError(genoerrors.CodeIOFailed, "storage: list failed", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, s.relative(aws.ToString(obj.Key)))
		}
	}
	return objects, nil
}

func (s *S3Storage) key(objectPath string) string {
	if s.config.Prefix == "" {
		return objectPath
	}
	return path.Join(s.config.Prefix, objectPath)
}

func (s *S3Storage) relative(key string) string {
	if s.config.Prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, s.config.Prefix), "/")
}

// retry runs op with exponential backoff. Errors wrapped with
// backoff.Permanent stop immediately.
func (s *S3Storage) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.config.MaxRetries)), ctx))
}
