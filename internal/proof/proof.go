// Package proof stores photo proofs in S3-compatible object storage and
// hands back retrievable URLs. Uploads may be orphaned when a submission
// loses its conditional write; that is accepted, the objects are never
// load-bearing once the task row does not reference them.
package proof

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sethvargo/go-retry"
)

// ErrNotConfigured is returned when no bucket credentials were provided.
var ErrNotConfigured = errors.New("proof storage not configured")

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds S3-compatible storage configuration.
type Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string

	// PublicBaseURL, when set, is used to build retrievable URLs (e.g. a
	// CDN in front of the bucket). Otherwise a path-style endpoint URL is
	// derived.
	PublicBaseURL string
}

func (c Config) enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Store uploads photo proofs.
type Store struct {
	cfg    Config
	client s3Client
}

func NewStore(cfg Config) *Store {
	s := &Store{cfg: cfg}
	if cfg.enabled() {
		s.client = newS3Client(cfg)
	}
	return s
}

func newS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether uploads can succeed.
func (s *Store) Enabled() bool {
	return s.client != nil
}

// Upload stores the object and returns its public URL. Transient failures
// are retried with exponential backoff; task-lifecycle writes are never
// retried, only this network hop is.
func (s *Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s.client == nil {
		return "", ErrNotConfigured
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", key, err)
	}

	return s.PublicURL(key), nil
}

// PublicURL derives the retrievable URL for a stored key.
func (s *Store) PublicURL(key string) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key
	}
	endpoint := strings.TrimRight(s.cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", s.cfg.Region)
	}
	return fmt.Sprintf("%s/%s/%s", endpoint, s.cfg.Bucket, key)
}

// Delete removes an object. Best-effort cleanup only; callers may ignore the
// error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.client == nil {
		return ErrNotConfigured
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}
