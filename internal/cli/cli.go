// Package cli implements the command-line interface for zonal-extract.
//
// Settings come from flags, a config file (--config, YAML/TOML/JSON) and
// ZONAL_* environment variables. Nested keys use underscores in the
// environment: s3.region is read from ZONAL_S3_REGION.
package cli

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/eunmann/zonal-extract/internal/logctx"
	"github.com/eunmann/zonal-extract/pkg/logging"
	"github.com/eunmann/zonal-extract/pkg/zonal"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// EnvPrefix prefixes every environment variable the CLI reads.
const EnvPrefix = "ZONAL"

// ErrUsage marks errors caused by missing or invalid settings.
var ErrUsage = errors.New("usage")

// Run executes the CLI with the given arguments.
func Run(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "zonal-extract",
		Short:         "Zonal statistics and point queries from rasters to CSV",
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("debug", false, "enable debug logging")
	root.PersistentFlags().Bool("human", false, "human-readable console logs")

	root.AddCommand(newRunCommand(), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(Version)
		},
	}
}

func newRunCommand() *cobra.Command {
	def := zonal.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract raster values for every feature and write them in batches",
		Long: `Computes zonal statistics (or, with --use-points, nearest-cell values)
for every feature of a vector dataset and writes
{output-folder}/{filename}_zonal_stats.csv (or _point_query.csv).

A layer inside a GeoPackage or File Geodatabase is addressed as
container.gpkg/layer. Inputs and the output folder may be s3:// URIs.`,
		Args: cobra.NoArgs,
		RunE: runExtract,
	}

	f := cmd.Flags()
	f.String("config", "", "config file (yaml, toml or json)")
	f.String("features", "", "vector dataset path or s3:// URI")
	f.String("raster", "", "raster path or s3:// URI")
	f.String("output-folder", "", "output folder or s3:// prefix")
	f.String("filename", "", "output file name stem")
	f.StringSlice("keep-fields", def.KeepFields, "feature attributes copied to every row")
	f.StringSlice("stats", def.Stats, "statistics to compute (zonal mode)")
	f.Int("report-threshold", def.ReportThreshold, "report progress every N features (0 disables)")
	f.Int("write-batch-size", def.WriteBatchSize, "rows buffered per write")
	f.Bool("use-points", def.UsePoints, "sample the cell under each point instead of zonal stats")
	f.Float64("nodata", def.NoData, "nodata value excluded from statistics")
	f.Bool("all-touched", def.AllTouched, "include every cell touched by a polygon")
	f.String("where", def.Where, "SQL filter for GeoPackage layers")
	f.StringSlice("inject-constants", def.InjectConstants, "name=value columns added to every row")
	f.String("format", def.Format, "output format: csv or parquet")
	f.String("line-terminator", def.LineTerminator, "CSV line terminator: crlf or lf")
	f.Int("block-cache", def.BlockCache, "decoded raster blocks kept in memory")
	f.Float64("cache-mem-fraction", def.CacheMemFraction, "cap the block cache at this share of system memory (0 disables)")
	f.Bool("mem-debug", def.MemDebug, "log heap statistics after every batch")
	f.Bool("log-progress", def.LogProgress, "report progress as log events instead of bare counts")
	f.String("s3-region", def.S3.Region, "AWS region for s3:// paths")
	f.String("s3-stage-dir", def.S3.StageDir, "directory for staged s3:// inputs (default: a temp dir)")
	f.Bool("s3-keep-staged", def.S3.KeepStaged, "keep staged inputs after the run")
	f.Int("s3-concurrency", def.S3.Concurrency, "parallel downloads when staging")
	return cmd
}

func runExtract(cmd *cobra.Command, _ []string) error {
	debug, _ := cmd.Flags().GetBool("debug")
	human, _ := cmd.Flags().GetBool("human")
	logging.Init(debug, human)

	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	cmd.SilenceUsage = true

	ctx := logctx.WithLogger(cmd.Context(), *logging.L())
	out, err := zonal.Run(ctx, cfg)
	if err != nil {
		return err
	}
	cmd.Println(out)
	return nil
}

// loadConfig layers defaults, the config file, the environment and flags,
// in increasing precedence.
func loadConfig(flags *pflag.FlagSet) (zonal.Config, error) {
	// Defaults live in viper, not in cfg: decoding a list into a non-empty
	// slice overwrites only its leading elements.
	var cfg zonal.Config

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, zonal.DefaultConfig())

	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(configKey(f.Name), f)
	})
	if bindErr != nil {
		return cfg, bindErr
	}

	if path, _ := flags.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// configKey maps a flag name to its config key: output-folder becomes
// output_folder and s3-region becomes s3.region.
func configKey(flag string) string {
	key := strings.ReplaceAll(flag, "-", "_")
	if rest, ok := strings.CutPrefix(key, "s3_"); ok {
		return "s3." + rest
	}
	return key
}

// bindDefaults registers every key in cfg with its value as the default, so
// that viper looks up the matching environment variable when unmarshalling.
func bindDefaults(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(slices.Clone(parts), tag)
		if f.Type.Kind() == reflect.Struct {
			bindDefaults(v, val.Field(i).Interface(), key...)
			continue
		}
		name := strings.Join(key, ".")
		v.SetDefault(name, val.Field(i).Interface())
		_ = v.BindEnv(name)
	}
}
