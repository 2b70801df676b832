package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Region         string
	Endpoint       string // optional, for S3-compatible backends
	ForcePathStyle bool
}

// Client is a thin wrapper around the S3 API providing a single durable put.
type Client struct {
	logger zerolog.Logger
	api    *s3.Client
}

func New(ctx context.Context, config Config) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
		o.UsePathStyle = config.ForcePathStyle
	})

	return &Client{
		logger: log.With().Str("module", "storage").Logger(),
		api:    api,
	}, nil
}

// Put stores a single object. Errors that are worth retrying (connection
// failures, 5xx, throttling) are wrapped so that IsTransient reports true.
func (c *Client) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("bucket", bucket).Str("key", key).Msg("put object failed")
		return Classify(fmt.Errorf("put s3://%s/%s: %w", bucket, key, err))
	}

	c.logger.Debug().Str("bucket", bucket).Str("key", key).Msg("put object")
	return nil
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks the error as retryable.
func (e *transientError) Transient() bool { return true }

// Classify wraps err as transient when a retry has a chance of succeeding.
// A response with a definitive 4xx status is permanent; 5xx, throttling and
// plain transport failures (no response at all) are transient. Cancelled
// contexts are never retried.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		status := re.HTTPStatusCode()
		if status == 429 || status >= 500 {
			return &transientError{err: err}
		}
		return err
	}

	// no HTTP response received, assume a network level failure
	return &transientError{err: err}
}
