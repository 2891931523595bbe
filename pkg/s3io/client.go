// Package s3io stages s3:// inputs onto local disk and uploads outputs back
// to S3.
package s3io

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client provides the S3 transfers used by a run.
type Client struct {
	s3Client   *s3.Client
	downloader *Downloader
	uploader   *Uploader
}

// NewClient creates a new S3 client using default AWS configuration.
// region overrides the configured region when non-empty.
func NewClient(ctx context.Context, region string) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewClientWithConfig(cfg), nil
}

// NewClientWithConfig creates a new S3 client with a custom AWS config.
func NewClientWithConfig(cfg aws.Config) *Client {
	c := s3.NewFromConfig(cfg)
	return &Client{
		s3Client:   c,
		downloader: NewDownloader(c, DefaultDownloaderConfig()),
		uploader:   NewUploader(c, DefaultUploaderConfig()),
	}
}

// DownloadToFile downloads s3://bucket/key to destPath.
func (c *Client) DownloadToFile(ctx context.Context, bucket, key, destPath string) (*TransferResult, error) {
	return c.downloader.DownloadToFile(ctx, bucket, key, destPath)
}

// UploadFile uploads srcPath to s3://bucket/key.
func (c *Client) UploadFile(ctx context.Context, srcPath, bucket, key string) (*TransferResult, error) {
	return c.uploader.UploadFile(ctx, srcPath, bucket, key)
}
