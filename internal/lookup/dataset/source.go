// Package dataset fetches the three classifications the lookup engine is
// built from. A Source hands out raw JSON documents by name (local files or
// S3 objects); JSONLoader decodes them concurrently; PostgresLoader reads
// the same records from tables instead.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/medcode-lookup/pkg/resilience"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Source opens a named dataset document. Errors that retrying cannot fix
// come back wrapped with resilience.Permanent.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// FileSource reads datasets from a directory. Absolute names bypass Dir.
type FileSource struct {
	Dir string
}

func (s FileSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.Dir, name)
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, resilience.Permanent(fmt.Errorf("opening %s: %w", path, err))
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

// S3API is the subset of the S3 client S3Source uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads datasets as objects in one bucket; names are object keys.
type S3Source struct {
	client S3API
	bucket string
}

// NewS3Source builds an S3 client from the default AWS credential chain.
// A custom endpoint (MinIO, LocalStack) is honoured along with path-style
// addressing.
func NewS3Source(ctx context.Context, cfg config.S3Config) (*S3Source, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 source: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3SourceWithClient(client, cfg.Bucket), nil
}

// NewS3SourceWithClient wraps an existing client.
func NewS3SourceWithClient(client S3API, bucket string) *S3Source {
	return &S3Source{client: client, bucket: bucket}
}

func (s *S3Source) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var noBucket *types.NoSuchBucket
		if errors.As(err, &noKey) || errors.As(err, &noBucket) {
			return nil, resilience.Permanent(fmt.Errorf("s3://%s/%s: %w", s.bucket, key, err))
		}
		return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, err)
	}
	return out.Body, nil
}
