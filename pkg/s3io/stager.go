package s3io

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/eunmann/zonal-extract/pkg/logging"
)

// Transferrer moves objects between S3 and local disk.
type Transferrer interface {
	DownloadToFile(ctx context.Context, bucket, key, destPath string) (*TransferResult, error)
	UploadFile(ctx context.Context, srcPath, bucket, key string) (*TransferResult, error)
}

// sidecars lists the companion objects a format needs next to its main file.
var sidecars = map[string][]string{
	".shp": {".shx", ".dbf"},
}

// StageConfig configures input staging.
type StageConfig struct {
	// Dir is the local directory staged objects are written to. Empty means
	// a fresh directory under os.TempDir().
	Dir string
	// Concurrency is the number of parallel downloads (default: 4).
	Concurrency int
	// KeepFiles if true, don't delete staged files on Cleanup.
	KeepFiles bool
}

// Stager downloads s3:// inputs so the local readers can open them.
type Stager struct {
	client Transferrer
	cfg    StageConfig
}

// NewStager creates a new stager.
func NewStager(client Transferrer, cfg StageConfig) *Stager {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Stager{client: client, cfg: cfg}
}

type stageItem struct {
	bucket, key string
	dest        string
}

// Stage returns a local path for each input, in order. Local paths are
// returned unchanged; s3:// URIs are downloaded, together with any sidecar
// objects their format needs, into a per-input subdirectory.
func (s *Stager) Stage(ctx context.Context, inputs ...string) ([]string, error) {
	out := make([]string, len(inputs))
	var items []stageItem

	for i, in := range inputs {
		if !IsS3URI(in) {
			out[i] = in
			continue
		}
		bucket, key, err := ParseObjectURI(in)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", in, err)
		}
		if err := s.ensureDir(); err != nil {
			return nil, err
		}

		dir := filepath.Join(s.cfg.Dir, strconv.Itoa(i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create staging dir: %w", err)
		}
		out[i] = filepath.Join(dir, path.Base(key))
		items = append(items, stageItem{bucket: bucket, key: key, dest: out[i]})

		ext := path.Ext(key)
		for _, side := range sidecars[strings.ToLower(ext)] {
			sideKey := strings.TrimSuffix(key, ext) + side
			items = append(items, stageItem{
				bucket: bucket,
				key:    sideKey,
				dest:   filepath.Join(dir, path.Base(sideKey)),
			})
		}
	}

	if err := s.download(ctx, items); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Stager) ensureDir() error {
	if s.cfg.Dir != "" {
		return os.MkdirAll(s.cfg.Dir, 0o755)
	}
	dir, err := os.MkdirTemp("", "zonal-stage-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	s.cfg.Dir = dir
	return nil
}

func (s *Stager) download(ctx context.Context, items []stageItem) error {
	log := logging.WithPhase("stage")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, it := range items {
		g.Go(func() error {
			res, err := s.client.DownloadToFile(ctx, it.bucket, it.key, it.dest)
			if err != nil {
				return err
			}
			logging.TransferComplete(log, "stage", res.Duration).
				Str("uri", "s3://"+it.bucket+"/"+it.key).
				Str("path", it.dest).
				Bytes("bytes", res.Bytes).
				Throughput(res.Bytes).
				Log("object staged")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("stage inputs: %w", err)
	}
	return nil
}

// Dir returns the staging directory, or "" if nothing was staged.
func (s *Stager) Dir() string {
	return s.cfg.Dir
}

// Cleanup removes staged files.
func (s *Stager) Cleanup() error {
	if s.cfg.KeepFiles || s.cfg.Dir == "" {
		return nil
	}
	return os.RemoveAll(s.cfg.Dir)
}

// Publish uploads the local file at src to the S3 URI dst.
func Publish(ctx context.Context, client Transferrer, src, dst string) error {
	bucket, key, err := ParseObjectURI(dst)
	if err != nil {
		return fmt.Errorf("publish %s: %w", dst, err)
	}
	res, err := client.UploadFile(ctx, src, bucket, key)
	if err != nil {
		return err
	}
	logging.TransferComplete(logging.WithPhase("publish"), "publish", res.Duration).
		Str("uri", dst).
		Bytes("bytes", res.Bytes).
		Throughput(res.Bytes).
		Log("output uploaded")
	return nil
}
