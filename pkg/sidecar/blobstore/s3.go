package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/shelffs/shelf/pkg/shelferr"
)

// S3Config configures the optional S3-compatible replica backend (§4.H's
// addressing contract plus DOMAIN-3's supplemental cloud replica). Grounded
// on the teacher's pkg/store/content/s3.S3ContentStoreConfig shape, trimmed
// to what a sidecar replica needs: it mirrors one shard tree, not a
// general-purpose content store with multipart uploads and buffered
// deletion.
type S3Config struct {
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string
	AccessKeyID    string
	SecretAccessKey string
	UsePathStyle   bool
}

// S3Backend mirrors sidecar artifacts into an S3-compatible bucket, keyed
// by the same relative path the fs backend uses, under an optional prefix.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Backend builds a client from cfg and verifies bucket access, the
// same sequence as the teacher's NewS3ContentStore (HeadBucket before
// returning, so a misconfigured bucket fails fast at startup rather than on
// the first sidecar write).
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, shelferr.Invalidf("s3 sidecar backend requires a bucket")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, shelferr.Wrap(shelferr.Fatal, "load aws config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, shelferr.Wrap(shelferr.Transient, "verify s3 bucket access", err)
	}

	return &S3Backend{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (b *S3Backend) key(relPath string) string {
	if b.prefix == "" {
		return relPath
	}
	return strings.TrimSuffix(b.prefix, "/") + "/" + relPath
}

func (b *S3Backend) Write(ctx context.Context, relPath string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(relPath)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return shelferr.Wrap(shelferr.Transient, "put sidecar object", err)
	}
	return nil
}

func (b *S3Backend) Exists(ctx context.Context, relPath string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(relPath)),
	})
	if err == nil {
		return true, nil
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, shelferr.Wrap(shelferr.Transient, "head sidecar object", err)
}

func (b *S3Backend) Read(ctx context.Context, relPath string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(relPath)),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, shelferr.NotFoundf("sidecar %q not found in s3", relPath)
		}
		return nil, shelferr.Wrap(shelferr.Transient, "get sidecar object", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, shelferr.Wrap(shelferr.Transient, "read sidecar object body", err)
	}
	return data, nil
}

func (b *S3Backend) Delete(ctx context.Context, relPath string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(relPath)),
	})
	if err != nil {
		return shelferr.Wrap(shelferr.Transient, "delete sidecar object", err)
	}
	return nil
}

func (b *S3Backend) Walk(ctx context.Context, root string, fn func(relPath string) error) error {
	prefix := b.key(root)
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return shelferr.Wrap(shelferr.Transient, "list sidecar objects", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			rel := *obj.Key
			if b.prefix != "" {
				rel = strings.TrimPrefix(rel, strings.TrimSuffix(b.prefix, "/")+"/")
			}
			if err := fn(rel); err != nil {
				return err
			}
		}
	}
	return nil
}
