package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Options configures the S3-backed adapter. Endpoint and path-style are
// needed for S3-compatible services (MinIO, R2); leave Endpoint empty for AWS.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Client implements Client on top of an S3-compatible bucket.
// Object URLs are "s3://bucket/key" and are only meaningful to this adapter.
type S3Client struct {
	client *s3.Client
	bucket string
}

// NewS3Client builds the adapter and verifies the bucket is reachable.
func NewS3Client(ctx context.Context, opts S3Options) (*S3Client, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	c := &S3Client{client: client, bucket: opts.Bucket}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(opts.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to reach bucket %s: %w", opts.Bucket, err)
	}

	return c, nil
}

// Put writes body under key.
func (c *S3Client) Put(ctx context.Context, key string, body []byte) (Object, error) {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return Object{}, fmt.Errorf("failed to put object %s: %w", key, err)
	}

	return Object{
		Key:        key,
		URL:        c.urlFor(key),
		Size:       int64(len(body)),
		UploadedAt: time.Now().UTC(),
	}, nil
}

// List returns every object under prefix, following pagination.
func (c *S3Client) List(ctx context.Context, prefix string) ([]Object, error) {
	params := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var objects []Object
	pg := s3.NewListObjectsV2Paginator(c.client, params)
	for pg.HasMorePages() {
		page, err := pg.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list prefix %s: %w", prefix, err)
		}
		for _, item := range page.Contents {
			obj := Object{
				Key: aws.ToString(item.Key),
				URL: c.urlFor(aws.ToString(item.Key)),
			}
			if item.Size != nil {
				obj.Size = *item.Size
			}
			if item.LastModified != nil {
				obj.UploadedAt = *item.LastModified
			}
			objects = append(objects, obj)
		}
	}
	return objects, nil
}

// Fetch reads the full body of the object at url.
func (c *S3Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	key, err := c.keyFor(url)
	if err != nil {
		return nil, err
	}

	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nk *types.NoSuchKey
		if errors.As(err, &nk) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body %s: %w", key, err)
	}
	return body, nil
}

// Delete removes the object at url. S3 treats deleting a missing key as
// success, which matches the adapter contract.
func (c *S3Client) Delete(ctx context.Context, url string) error {
	key, err := c.keyFor(url)
	if err != nil {
		return err
	}

	_, err = c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (c *S3Client) urlFor(key string) string {
	return fmt.Sprintf("s3://%s/%s", c.bucket, key)
}

func (c *S3Client) keyFor(url string) (string, error) {
	want := "s3://" + c.bucket + "/"
	if !strings.HasPrefix(url, want) {
		return "", fmt.Errorf("url %q does not belong to bucket %s", url, c.bucket)
	}
	return strings.TrimPrefix(url, want), nil
}
