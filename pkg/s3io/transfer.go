package s3io

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DownloaderConfig configures the S3 Download Manager.
type DownloaderConfig struct {
	// Concurrency is the number of concurrent download parts.
	// Default: max(4, NumCPU), capped at 16.
	Concurrency int

	// PartSize is the size of each download part in bytes.
	// Default: 16MB. Higher values use more memory but may improve throughput.
	PartSize int64
}

// DefaultDownloaderConfig returns sensible defaults based on the current machine.
func DefaultDownloaderConfig() DownloaderConfig {
	return DownloaderConfig{
		Concurrency: defaultConcurrency(),
		PartSize:    16 * 1024 * 1024, // 16MB
	}
}

func defaultConcurrency() int {
	return min(max(runtime.NumCPU(), 4), 16)
}

// TransferResult contains information about a completed transfer.
type TransferResult struct {
	// Bytes is the number of bytes moved.
	Bytes int64

	// Duration is how long the transfer took.
	Duration time.Duration
}

// Downloader wraps the AWS S3 Download Manager for parallel range downloads.
type Downloader struct {
	manager *manager.Downloader
	config  DownloaderConfig
}

// NewDownloader creates an S3 Downloader from an existing S3 client.
func NewDownloader(s3Client *s3.Client, cfg DownloaderConfig) *Downloader {
	def := DefaultDownloaderConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = def.PartSize
	}

	mgr := manager.NewDownloader(s3Client, func(d *manager.Downloader) {
		d.Concurrency = cfg.Concurrency
		d.PartSize = cfg.PartSize
		d.BufferProvider = manager.NewPooledBufferedWriterReadFromProvider(int(cfg.PartSize))
	})

	return &Downloader{manager: mgr, config: cfg}
}

// DownloadToFile downloads an S3 object to a specified file path.
// A failed download leaves no file behind.
func (d *Downloader) DownloadToFile(ctx context.Context, bucket, key, destPath string) (*TransferResult, error) {
	startTime := time.Now()

	file, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("create destination file: %w", err)
	}
	defer file.Close()

	n, err := d.manager.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		file.Close()
		os.Remove(destPath)
		return nil, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}

	return &TransferResult{Bytes: n, Duration: time.Since(startTime)}, nil
}

// Config returns the downloader configuration.
func (d *Downloader) Config() DownloaderConfig {
	return d.config
}

// UploaderConfig configures the S3 Upload Manager.
type UploaderConfig struct {
	// Concurrency is the number of concurrent upload parts.
	Concurrency int

	// PartSize is the multipart part size in bytes. Default: 16MB.
	PartSize int64
}

// DefaultUploaderConfig returns sensible defaults based on the current machine.
func DefaultUploaderConfig() UploaderConfig {
	return UploaderConfig{
		Concurrency: defaultConcurrency(),
		PartSize:    16 * 1024 * 1024,
	}
}

// Uploader wraps the AWS S3 Upload Manager.
type Uploader struct {
	manager *manager.Uploader
	config  UploaderConfig
}

// NewUploader creates an S3 Uploader from an existing S3 client.
func NewUploader(s3Client *s3.Client, cfg UploaderConfig) *Uploader {
	def := DefaultUploaderConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PartSize < manager.MinUploadPartSize {
		cfg.PartSize = def.PartSize
	}

	mgr := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		u.Concurrency = cfg.Concurrency
		u.PartSize = cfg.PartSize
	})
	return &Uploader{manager: mgr, config: cfg}
}

// UploadFile uploads the file at srcPath to s3://bucket/key.
func (u *Uploader) UploadFile(ctx context.Context, srcPath, bucket, key string) (*TransferResult, error) {
	startTime := time.Now()

	file, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open upload source: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat upload source: %w", err)
	}

	if _, err := u.manager.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   file,
	}); err != nil {
		return nil, fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}

	return &TransferResult{Bytes: info.Size(), Duration: time.Since(startTime)}, nil
}

// Config returns the uploader configuration.
func (u *Uploader) Config() UploaderConfig {
	return u.config
}
