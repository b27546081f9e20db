package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/voxoff/pipeline/internal/config"
	"github.com/voxoff/pipeline/internal/model"
)

// ArtifactStore defines the song artifact operations the stage workers need
type ArtifactStore interface {
	Exists(ctx context.Context, songID string, a model.Artifact) (bool, error)
	Upload(ctx context.Context, songID string, a model.Artifact, localPath string) error
	Download(ctx context.Context, songID string, a model.Artifact, localPath string) error
}

// S3ArtifactStore implements ArtifactStore for S3 compatible storage,
// Cloudflare R2 included
type S3ArtifactStore struct {
	s3Client *s3.Client
	bucket   string
}

// NewS3ArtifactStore creates a new artifact store client
func NewS3ArtifactStore(ctx context.Context, cfg *config.StorageConfig) (*S3ArtifactStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage configuration incomplete: bucket is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" && cfg.AccountID != "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3ArtifactStore{
		s3Client: s3Client,
		bucket:   cfg.Bucket,
	}, nil
}

// Exists reports whether the artifact is already stored for the song
func (c *S3ArtifactStore) Exists(ctx context.Context, songID string, a model.Artifact) (bool, error) {
	key := model.ArtifactKey(songID, a)
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	wrapped := c.wrapError("Head", key, err)
	if errors.Is(wrapped, ErrNotFound) {
		return false, nil
	}
	return false, wrapped
}

// Upload stores a local file as the song's artifact
func (c *S3ArtifactStore) Upload(ctx context.Context, songID string, a model.Artifact, localPath string) error {
	key := model.ArtifactKey(songID, a)
	f, err := os.Open(localPath)
	if err != nil {
		return &ArtifactError{Op: "Put", Bucket: c.bucket, Key: key, Err: err}
	}
	defer f.Close()

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(a.ContentType()),
	})
	if err != nil {
		return c.wrapError("Put", key, err)
	}
	return nil
}

// Download writes the song's artifact to a local file
func (c *S3ArtifactStore) Download(ctx context.Context, songID string, a model.Artifact, localPath string) error {
	key := model.ArtifactKey(songID, a)
	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return c.wrapError("Get", key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return &ArtifactError{Op: "Get", Bucket: c.bucket, Key: key, Err: err}
	}
	f, err := os.Create(localPath)
	if err != nil {
		return &ArtifactError{Op: "Get", Bucket: c.bucket, Key: key, Err: err}
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		return &ArtifactError{Op: "Get", Bucket: c.bucket, Key: key, Err: err}
	}
	if err := f.Close(); err != nil {
		return &ArtifactError{Op: "Get", Bucket: c.bucket, Key: key, Err: err}
	}
	return nil
}

// wrapError converts S3 errors to artifact errors with sentinel causes
func (c *S3ArtifactStore) wrapError(op, key string, err error) error {
	wrapped := &ArtifactError{Op: op, Bucket: c.bucket, Key: key, Err: err}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		wrapped.Err = ErrNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = ErrNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = fmt.Errorf("%w: %v", ErrAccessDenied, err)
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = fmt.Errorf("%w: %v", ErrThrottled, err)
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return wrapped
}
