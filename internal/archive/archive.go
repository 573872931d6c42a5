package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"crypto-etl/internal/config"
	"crypto-etl/internal/market"
)

const keyTimeLayout = "20060102150405"

// Archiver stores payloads produced by a cycle. Archival is best effort: callers log
// errors and carry on.
type Archiver interface {
	// ArchiveRaw stores the unparsed API body. The returned key is empty when skipped.
	ArchiveRaw(ctx context.Context, at time.Time, body []byte) (string, error)
	// ArchiveTransformed stores the transformed batch as CSV.
	ArchiveTransformed(ctx context.Context, at time.Time, batch market.Batch) (string, error)
}

// Nop discards every payload.
type Nop struct{}

var _ Archiver = Nop{}

// ArchiveRaw implements Archiver.
func (Nop) ArchiveRaw(context.Context, time.Time, []byte) (string, error) { return "", nil }

// ArchiveTransformed implements Archiver.
func (Nop) ArchiveTransformed(context.Context, time.Time, market.Batch) (string, error) {
	return "", nil
}

// RawKey names the raw payload object for a fetch at the given instant.
func RawKey(prefix string, at time.Time) string {
	return path.Join(prefix, fmt.Sprintf("raw_crypto_data_%s.json", at.UTC().Format(keyTimeLayout)))
}

// TransformedKey names the transformed CSV object for a cycle at the given instant.
func TransformedKey(prefix string, at time.Time) string {
	return path.Join(prefix, fmt.Sprintf("transformed_crypto_data_%s.csv", at.UTC().Format(keyTimeLayout)))
}

// ObjectPutter is the subset of the S3 client used for archival.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options selects destination buckets.
type Options struct {
	RawBucket         string
	RawPrefix         string
	TransformedBucket string
	TransformedPrefix string
	Timeout           time.Duration
}

// S3 archives payloads to S3-compatible object storage.
type S3 struct {
	client ObjectPutter
	opts   Options
	logger zerolog.Logger
}

var _ Archiver = (*S3)(nil)

// NewS3 builds an archiver around an S3 client.
func NewS3(client ObjectPutter, opts Options, logger zerolog.Logger) *S3 {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &S3{
		client: client,
		opts:   opts,
		logger: logger.With().Str("component", "archive").Logger(),
	}
}

// New returns Nop when archival is disabled, otherwise an S3 archiver configured from cfg.
func New(ctx context.Context, cfg config.ArchiveConfig, logger zerolog.Logger) (Archiver, error) {
	if !cfg.ArchiveEnabled() {
		return Nop{}, nil
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewS3(client, Options{
		RawBucket:         cfg.RawBucket,
		RawPrefix:         cfg.RawPrefix,
		TransformedBucket: cfg.TransformedBucket,
		TransformedPrefix: cfg.TransformedPrefix,
		Timeout:           cfg.Timeout,
	}, logger), nil
}

// NewS3Client loads AWS configuration. Static keys win over the default credential chain.
func NewS3Client(ctx context.Context, cfg config.ArchiveConfig) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// ArchiveRaw implements Archiver.
func (a *S3) ArchiveRaw(ctx context.Context, at time.Time, body []byte) (string, error) {
	if a.opts.RawBucket == "" {
		return "", nil
	}
	key := RawKey(a.opts.RawPrefix, at)
	if err := a.put(ctx, a.opts.RawBucket, key, "application/json", body); err != nil {
		return "", err
	}
	return key, nil
}

// ArchiveTransformed implements Archiver.
func (a *S3) ArchiveTransformed(ctx context.Context, at time.Time, batch market.Batch) (string, error) {
	if a.opts.TransformedBucket == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := market.WriteCSV(&buf, batch); err != nil {
		return "", fmt.Errorf("encode csv: %w", err)
	}
	key := TransformedKey(a.opts.TransformedPrefix, at)
	if err := a.put(ctx, a.opts.TransformedBucket, key, "text/csv", buf.Bytes()); err != nil {
		return "", err
	}
	return key, nil
}

func (a *S3) put(ctx context.Context, bucket, key, contentType string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}

	a.logger.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("bytes", len(body)).
		Msg("payload archived")
	return nil
}
