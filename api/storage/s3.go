package storage

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"appcore/api/logger"
)

var log = logger.NewLogger("appcore.storage")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Client wraps an S3-compatible object store. Function sources and backup
// artifacts live here.
type Client struct {
	mc     *minio.Client
	config Config
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &Client{mc: mc, config: cfg}, nil
}

// EnsureBucket creates the bucket unless it already exists.
func (c *Client) EnsureBucket(ctx context.Context, name string) error {
	exists, err := c.mc.BucketExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", name, err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", name, err)
	}
	log.Infof("created bucket %s", name)
	return nil
}

func (c *Client) BucketExists(ctx context.Context, name string) (bool, error) {
	return c.mc.BucketExists(ctx, name)
}

func (c *Client) DeleteBucket(ctx context.Context, name string) error {
	return c.mc.RemoveBucket(ctx, name)
}

func (c *Client) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	_, err := c.mc.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (c *Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return obj, nil
}

func (c *Client) RemoveObject(ctx context.Context, bucket, key string) error {
	if err := c.mc.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.mc.ListBuckets(ctx)
	return err
}

func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

// FunctionSourceKey is where the source of one function version is stored.
func FunctionSourceKey(appName string, version int) string {
	return fmt.Sprintf("functions/%s/v%d/source.tar.gz", appName, version)
}

var bucketUnsafe = regexp.MustCompile(`[^a-z0-9-]+`)

// BucketName derives a valid S3 bucket name (3-63 chars, lowercase,
// alphanumerics and hyphens) from a prefix and an identifier.
func BucketName(prefix, id string) string {
	name := bucketUnsafe.ReplaceAllString(strings.ToLower(prefix+"-"+id), "-")
	name = strings.Trim(name, "-")
	if len(name) > 63 {
		name = strings.TrimRight(name[:63], "-")
	}
	for len(name) < 3 {
		name += "0"
	}
	return name
}
