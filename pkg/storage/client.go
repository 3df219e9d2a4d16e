package storage

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tveebot/tracker/pkg/errors"
)

// Client downloads s3://bucket/key links with anonymous credentials.
type Client struct {
	s3Client *s3.Client
	logger   *slog.Logger
}

var _ Fetcher = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	endpoint string
	logger   *slog.Logger
}

// WithEndpoint points the client at an S3 compatible endpoint, using path
// style addressing.
func WithEndpoint(endpoint string) ClientOption {
	return func(o *clientOptions) { o.endpoint = endpoint }
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = logger }
}

// NewClient creates a new S3 client for anonymous access
func NewClient(ctx context.Context, region string, opts ...ClientOption) (*Client, error) {
	o := clientOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger.Info("s3_client_init", "region", region, "endpoint", o.endpoint)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		o.logger.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	s3Client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
			so.UsePathStyle = true
		}
	})

	return &Client{s3Client: s3Client, logger: o.logger}, nil
}

// ParseS3Link splits an s3://bucket/key link.
func ParseS3Link(link string) (bucket, key string, err error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", "", errors.Wrapf(err, "invalid link %q", link)
	}
	if u.Scheme != "s3" {
		return "", "", errors.Wrapf(ErrUnsupportedLink, "not an s3 link %q", link)
	}

	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", errors.Wrapf(ErrUnsupportedLink, "s3 link %q needs a bucket and a key", link)
	}
	return u.Host, key, nil
}

// Download fetches the object behind link into localPath.
func (c *Client) Download(ctx context.Context, link, localPath string) (*DownloadResult, error) {
	bucket, key, err := ParseS3Link(link)
	if err != nil {
		return nil, err
	}
	c.logger.Info("s3_download_start", "bucket", bucket, "s3_key", key)

	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		c.logger.Error("s3_get_object_failed", "bucket", bucket, "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	res, err := writeFile(localPath, result.Body)
	if err != nil {
		c.logger.Error("s3_download_failed", "s3_key", key, "error", err)
		return nil, err
	}

	c.logger.Info("s3_download_complete",
		"s3_key", key,
		"size_mb", res.Size/1024/1024,
		"local_path", localPath,
		"sha256", res.SHA256[:16]+"...",
	)
	return res, nil
}
