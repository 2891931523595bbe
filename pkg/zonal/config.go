package zonal

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/eunmann/zonal-extract/pkg/batchwrite"
	"github.com/eunmann/zonal-extract/pkg/extract"
	"github.com/eunmann/zonal-extract/pkg/raster"
	"github.com/eunmann/zonal-extract/pkg/rasterstats"
	"github.com/eunmann/zonal-extract/pkg/record"
	"github.com/eunmann/zonal-extract/pkg/s3io"
)

// Output formats.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// DefaultKeepFields are the pass-through attributes copied to every row.
var DefaultKeepFields = []string{"UniqueID", "CLASS2"}

// Config holds the settings for a single extraction run.
type Config struct {
	// Features is the vector dataset: a file, a container.gpkg/layer path,
	// or an s3:// URI to either.
	Features string `mapstructure:"features"`
	// Raster is the GeoTIFF or ASCII grid to sample, local or s3://.
	Raster string `mapstructure:"raster"`
	// OutputFolder receives {Filename}_{suffix}.{ext}. An s3:// prefix is
	// written locally first and uploaded once the run succeeds.
	OutputFolder string   `mapstructure:"output_folder"`
	Filename     string   `mapstructure:"filename"`
	KeepFields   []string `mapstructure:"keep_fields"`
	// Stats are ignored when UsePoints is set.
	Stats []string `mapstructure:"stats"`
	// ReportThreshold is the progress interval in features. 0 disables it.
	ReportThreshold int  `mapstructure:"report_threshold"`
	WriteBatchSize  int  `mapstructure:"write_batch_size"`
	UsePoints       bool `mapstructure:"use_points"`

	NoData     float64 `mapstructure:"nodata"`
	AllTouched bool    `mapstructure:"all_touched"`
	// Where filters GeoPackage layers with an SQL expression.
	Where string `mapstructure:"where"`
	// InjectConstants are name=value pairs added as trailing columns.
	InjectConstants []string `mapstructure:"inject_constants"`
	Format          string   `mapstructure:"format"`
	LineTerminator  string   `mapstructure:"line_terminator"`

	// BlockCache bounds the decoded raster blocks kept in memory.
	BlockCache int `mapstructure:"block_cache"`
	// CacheMemFraction caps the block cache at this share of system memory.
	CacheMemFraction float64 `mapstructure:"cache_mem_fraction"`
	MemDebug         bool    `mapstructure:"mem_debug"`
	// LogProgress reports progress as structured log events instead of
	// bare counts on stderr.
	LogProgress bool `mapstructure:"log_progress"`

	S3 S3Config `mapstructure:"s3"`
}

// S3Config configures remote inputs and outputs.
type S3Config struct {
	Region      string `mapstructure:"region"`
	StageDir    string `mapstructure:"stage_dir"`
	KeepStaged  bool   `mapstructure:"keep_staged"`
	Concurrency int    `mapstructure:"concurrency"`
}

// DefaultConfig returns a Config with every optional setting at its default.
func DefaultConfig() Config {
	return Config{
		KeepFields:       slices.Clone(DefaultKeepFields),
		Stats:            slices.Clone(rasterstats.DefaultStats),
		ReportThreshold:  1000,
		WriteBatchSize:   batchwrite.DefaultBatchSize,
		NoData:           rasterstats.DefaultNoData,
		Format:           FormatCSV,
		LineTerminator:   string(batchwrite.CRLF),
		BlockCache:       raster.DefaultCacheBlocks,
		CacheMemFraction: 0.25,
		S3: S3Config{
			Region:      "us-east-1",
			Concurrency: 4,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Features == "" {
		return errors.New("features path is required")
	}
	if c.Raster == "" {
		return errors.New("raster path is required")
	}
	if c.OutputFolder == "" {
		return errors.New("output folder is required")
	}
	if c.Filename == "" {
		return errors.New("filename is required")
	}
	if strings.ContainsAny(c.Filename, `/\`) {
		return fmt.Errorf("filename %q must not contain path separators", c.Filename)
	}
	if c.WriteBatchSize <= 0 {
		return fmt.Errorf("write_batch_size must be positive, got %d", c.WriteBatchSize)
	}
	if c.ReportThreshold < 0 {
		return fmt.Errorf("report_threshold must be >= 0, got %d", c.ReportThreshold)
	}
	if c.BlockCache < 0 {
		return fmt.Errorf("block_cache must be >= 0, got %d", c.BlockCache)
	}
	if c.CacheMemFraction < 0 || c.CacheMemFraction > 1 {
		return fmt.Errorf("cache_mem_fraction must be in [0, 1], got %g", c.CacheMemFraction)
	}
	if c.Format != FormatCSV && c.Format != FormatParquet {
		return fmt.Errorf("format must be %q or %q, got %q", FormatCSV, FormatParquet, c.Format)
	}
	if _, err := batchwrite.ParseLineTerminator(c.LineTerminator); err != nil {
		return err
	}
	if !c.UsePoints {
		if _, err := rasterstats.ParseStats(c.Stats); err != nil {
			return err
		}
	}
	if _, err := c.Constants(); err != nil {
		return err
	}
	for _, in := range []string{c.Features, c.Raster} {
		if s3io.IsS3URI(in) {
			if _, _, err := s3io.ParseObjectURI(in); err != nil {
				return err
			}
		}
	}
	return nil
}

// Mode returns the extraction mode selected by UsePoints.
func (c *Config) Mode() extract.Mode {
	if c.UsePoints {
		return extract.Point
	}
	return extract.Zonal
}

// OutputName returns the output file's base name.
func (c *Config) OutputName() string {
	ext := ".csv"
	if c.Format == FormatParquet {
		ext = ".parquet"
	}
	return c.Filename + "_" + c.Mode().Suffix() + ext
}

// Constants parses InjectConstants, keeping their order. Values that parse
// as integers or floats are typed as such; anything else is text.
func (c *Config) Constants() ([]extract.Constant, error) {
	out := make([]extract.Constant, 0, len(c.InjectConstants))
	for _, kv := range c.InjectConstants {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("inject constant %q: want name=value", kv)
		}
		out = append(out, extract.Constant{Name: name, Value: parseConstant(value)})
	}
	return out, nil
}

func parseConstant(s string) record.Value {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return record.IntValue(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && strings.ContainsAny(s, "0123456789") {
		return record.FloatValue(f)
	}
	return record.TextValue(s)
}
