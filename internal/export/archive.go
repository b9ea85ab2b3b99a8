package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"pagepress/internal/config"
)

// ErrBucketRequired is returned when the s3 backend has no bucket.
var ErrBucketRequired = errors.New("export: s3 bucket is required")

// Archiver stores a rendered PDF under name and reports where it went.
type Archiver interface {
	Store(ctx context.Context, name string, pdf []byte) (string, error)
}

// NewArchiver builds the archiver selected by cfg.Backend.
func NewArchiver(ctx context.Context, cfg config.StorageConfig) (Archiver, error) {
	switch cfg.Backend {
	case "", "local":
		return &LocalArchiver{Dir: cfg.Dir}, nil
	case "s3":
		a, err := NewS3Archiver(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("export: unknown storage backend %q", cfg.Backend)
	}
}

// LocalArchiver writes PDFs into Dir with SaveLocal.
type LocalArchiver struct {
	Dir string
}

func (a *LocalArchiver) Store(_ context.Context, name string, pdf []byte) (string, error) {
	dir := a.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: create %s: %w", dir, err)
	}
	target := filepath.Join(dir, filepath.Base(name))
	if err := SaveLocal(pdf, target); err != nil {
		return "", err
	}
	return target, nil
}

// PutObjectAPI is the part of *s3.Client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads PDFs to an S3 compatible bucket.
type S3Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Archiver loads AWS configuration and returns an archiver for cfg.S3.
func NewS3Archiver(ctx context.Context, cfg config.StorageConfig) (*S3Archiver, error) {
	sc := cfg.S3
	if sc.Bucket == "" {
		return nil, ErrBucketRequired
	}

	var opts []func(*awsconfig.LoadOptions) error
	if sc.Region != "" {
		opts = append(opts, awsconfig.WithRegion(sc.Region))
	}
	if sc.AccessKeyID != "" && sc.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.AccessKeyID, sc.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("export: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
		}
		o.UsePathStyle = sc.UsePathStyle
	})
	return NewS3ArchiverWithClient(client, sc.Bucket, sc.Prefix), nil
}

// NewS3ArchiverWithClient wires an archiver around an existing client.
func NewS3ArchiverWithClient(client PutObjectAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

func (a *S3Archiver) Store(ctx context.Context, name string, pdf []byte) (string, error) {
	key := path.Join(a.prefix, path.Base(name))
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(pdf),
		ContentType:   aws.String("application/pdf"),
		ContentLength: aws.Int64(int64(len(pdf))),
	})
	if err != nil {
		return "", fmt.Errorf("export: upload %s: %w", key, err)
	}
	return "s3://" + a.bucket + "/" + key, nil
}
