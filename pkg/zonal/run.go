// Package zonal runs the streaming extraction pipeline: it opens a feature
// dataset and a raster, computes zonal statistics or point values per
// feature, and writes the selected fields in bounded batches.
//
// The vector and raster inputs are assumed to share a coordinate reference
// system. Nothing checks this; a mismatch yields a successful run with wrong
// values.
package zonal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/eunmann/zonal-extract/internal/logctx"
	"github.com/eunmann/zonal-extract/pkg/batchwrite"
	"github.com/eunmann/zonal-extract/pkg/container"
	"github.com/eunmann/zonal-extract/pkg/extract"
	"github.com/eunmann/zonal-extract/pkg/logging"
	"github.com/eunmann/zonal-extract/pkg/memdiag"
	"github.com/eunmann/zonal-extract/pkg/progress"
	"github.com/eunmann/zonal-extract/pkg/project"
	"github.com/eunmann/zonal-extract/pkg/raster"
	"github.com/eunmann/zonal-extract/pkg/rasterstats"
	"github.com/eunmann/zonal-extract/pkg/s3io"
	"github.com/eunmann/zonal-extract/pkg/sysmem"
	"github.com/eunmann/zonal-extract/pkg/vector"
)

// Option customizes a run.
type Option func(*runOptions)

type runOptions struct {
	observer    progress.Observer
	progressOut io.Writer
	transferrer s3io.Transferrer
}

// WithProgressObserver replaces the default progress observer.
func WithProgressObserver(obs progress.Observer) Option {
	return func(o *runOptions) { o.observer = obs }
}

// WithProgressOutput sets where bare progress counts are written
// (default: os.Stderr).
func WithProgressOutput(w io.Writer) Option {
	return func(o *runOptions) { o.progressOut = w }
}

// WithTransferrer sets the S3 client used for s3:// paths. Without it a
// client is built from the default AWS configuration when needed.
func WithTransferrer(t s3io.Transferrer) Option {
	return func(o *runOptions) { o.transferrer = t }
}

// Run executes one extraction and returns the output file path, or the
// output URI when the output folder is on S3. On failure no path is
// returned; batches flushed before the failure stay in the output file.
func Run(ctx context.Context, cfg Config, opts ...Option) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid config: %w", err)
	}
	o := runOptions{progressOut: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, _ = logctx.WithRunID(ctx)
	log := logctx.FromContext(ctx).With().Str("mode", cfg.Mode().String()).Logger()
	start := time.Now()

	mode := cfg.Mode()
	var stats []rasterstats.Stat
	if mode == extract.Zonal {
		var err error
		if stats, err = rasterstats.ParseStats(cfg.Stats); err != nil {
			return "", err
		}
	}
	constants, err := cfg.Constants()
	if err != nil {
		return "", err
	}
	spec, err := project.NewFieldSpec(mode, statNames(stats), cfg.KeepFields, constantNames(constants))
	if err != nil {
		return "", err
	}

	client := o.transferrer
	remoteOut := s3io.IsS3URI(cfg.OutputFolder)
	if client == nil && (remoteOut || s3io.IsS3URI(cfg.Features) || s3io.IsS3URI(cfg.Raster)) {
		c, err := s3io.NewClient(ctx, cfg.S3.Region)
		if err != nil {
			return "", err
		}
		client = c
	}

	openSpec := container.Resolve(cfg.Features)
	stager := s3io.NewStager(client, s3io.StageConfig{
		Dir:         cfg.S3.StageDir,
		Concurrency: cfg.S3.Concurrency,
		KeepFiles:   cfg.S3.KeepStaged,
	})
	defer func() {
		if err := stager.Cleanup(); err != nil {
			log.Warn().Err(err).Str("dir", stager.Dir()).Msg("failed to remove staged inputs")
		}
	}()
	local, err := stager.Stage(ctx, openSpec.Path(), cfg.Raster)
	if err != nil {
		return "", err
	}
	openSpec = openSpec.WithPath(local[0])

	features, err := vector.Open(openSpec, vector.Options{Where: cfg.Where})
	if err != nil {
		return "", err
	}
	defer features.Close()

	cacheBytes := sysmem.Budget(cfg.CacheMemFraction)
	log.Debug().
		Str("memory_source", string(sysmem.Total().Source)).
		Uint64("cache_max_bytes", cacheBytes).
		Msg("raster cache budget")
	grid, err := raster.Open(local[1], raster.Options{
		CacheBlocks:   cfg.BlockCache,
		MaxCacheBytes: cacheBytes,
	})
	if err != nil {
		return "", err
	}
	defer grid.Close()

	total, _ := featureCount(features)
	logOpened(log, openSpec, local[1], grid, total)
	log.Warn().Msg("vector and raster coordinate reference systems are not compared")

	outDir := cfg.OutputFolder
	if remoteOut {
		dir, err := os.MkdirTemp("", "zonal-out-*")
		if err != nil {
			return "", fmt.Errorf("create output staging dir: %w", err)
		}
		defer os.RemoveAll(dir)
		outDir = dir
	} else if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output folder: %w", err)
	}
	outPath := filepath.Join(outDir, cfg.OutputName())

	sink, err := createSink(cfg, outPath)
	if err != nil {
		return "", err
	}

	mem := memdiag.NewTracker(cfg.MemDebug, log)
	mem.SetPhase("extract")
	writeLog := log.With().Str("phase", "write").Logger()
	writer, err := batchwrite.New(sink, spec, cfg.WriteBatchSize, batchwrite.WithFlushHook(func(fi batchwrite.FlushInfo) {
		logging.BatchComplete(writeLog, "write", fi.Elapsed).
			Int("batch", fi.Batch).
			Int("rows", fi.Rows).
			Count("total_rows", fi.TotalRows).
			LogDebug("batch flushed")
		mem.Snapshot("flush", fi.TotalRows)
	}))
	if err != nil {
		sink.Close()
		return "", err
	}

	reporter := progress.NewReporter(cfg.ReportThreshold, o.progressObserver(cfg, log, total))
	gen := extract.New(features, grid, extract.Config{
		Mode:  mode,
		Stats: stats,
		Sampling: rasterstats.Options{
			NoData:     cfg.NoData,
			AllTouched: cfg.AllTouched,
		},
		Constants: constants,
	})
	proj := project.New(spec)

	if err := pump(ctx, gen, proj, writer, reporter); err != nil {
		if abortErr := writer.Abort(); abortErr != nil {
			log.Warn().Err(abortErr).Msg("failed to close output after error")
		}
		return "", err
	}

	pending := writer.Pending() > 0
	if err := writer.Close(); err != nil {
		return "", err
	}
	reporter.Done(pending)

	size := int64(0)
	if st, err := os.Stat(outPath); err == nil {
		size = st.Size()
	}
	logging.FileCreated(log, "write", time.Since(start)).
		Str("path", outPath).
		Count("rows", writer.Rows()).
		Int("batches", writer.Flushes()).
		Bytes("size", size).
		Log("output written")

	result := outPath
	if remoteOut {
		result = s3io.Join(cfg.OutputFolder, cfg.OutputName())
		if err := s3io.Publish(ctx, client, outPath, result); err != nil {
			return "", err
		}
	}

	mem.Snapshot("done", writer.Rows())
	logging.PhaseComplete(log, "run", time.Since(start)).
		Str("output", result).
		Count("features", gen.Pulled()).
		Rate(gen.Pulled()).
		Log("run complete")
	return result, nil
}

// pump drives the pull loop: one feature is extracted, projected and
// buffered at a time.
func pump(ctx context.Context, gen *extract.Generator, proj *project.Projector, w *batchwrite.Writer, rep *progress.Reporter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := gen.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		row, err := proj.Project(res)
		if err != nil {
			return err
		}
		if err := w.Add(row); err != nil {
			return err
		}
		rep.Tick()
	}
}

func (o *runOptions) progressObserver(cfg Config, log zerolog.Logger, total int64) progress.Observer {
	switch {
	case o.observer != nil:
		return o.observer
	case cfg.LogProgress:
		return progress.NewLogObserver(log, "extract", total)
	default:
		return progress.WriterObserver(o.progressOut)
	}
}

func createSink(cfg Config, path string) (batchwrite.Sink, error) {
	if cfg.Format == FormatParquet {
		return batchwrite.CreateParquet(path)
	}
	term, err := batchwrite.ParseLineTerminator(cfg.LineTerminator)
	if err != nil {
		return nil, err
	}
	return batchwrite.CreateCSV(path, term)
}

func featureCount(r vector.Reader) (int64, bool) {
	if c, ok := r.(vector.Counter); ok {
		return c.Count()
	}
	return 0, false
}

func logOpened(log zerolog.Logger, spec container.OpenSpec, rasterPath string, g raster.Grid, total int64) {
	blocks, blockBytes := g.CacheCapacity()
	e := log.Info().
		Str("features", spec.String()).
		Str("raster", rasterPath).
		Int("width", g.Width()).
		Int("height", g.Height()).
		Int("cache_blocks", blocks).
		Int64("cache_block_bytes", blockBytes)
	if nodata, ok := g.NoData(); ok {
		e = e.Float64("raster_nodata", nodata)
	}
	if total > 0 {
		e = e.Int64("feature_count", total)
	}
	e.Msg("inputs opened")
}

func statNames(stats []rasterstats.Stat) []string {
	names := make([]string, len(stats))
	for i, s := range stats {
		names[i] = s.Name
	}
	return names
}

func constantNames(cs []extract.Constant) []string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Name
	}
	return names
}
