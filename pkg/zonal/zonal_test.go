package zonal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eunmann/zonal-extract/pkg/geoerr"
	"github.com/eunmann/zonal-extract/pkg/progress"
	"github.com/eunmann/zonal-extract/pkg/s3io"
)

// grid4 covers (0,0)-(4,4) with cells 1..16 in row-major order from the top.
const grid4 = `ncols 4
nrows 4
xllcorner 0
yllcorner 0
cellsize 1
NODATA_value -9999
1 2 3 4
5 6 7 8
9 10 11 12
13 14 15 16
`

const twoSquares = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "properties": {"UniqueID": 1, "CLASS2": "G", "min": "shadowed"},
   "geometry": {"type": "Polygon", "coordinates": [[[0,0],[2,0],[2,2],[0,2],[0,0]]]}},
  {"type": "Feature", "properties": {"UniqueID": 2, "CLASS2": "P"},
   "geometry": {"type": "Polygon", "coordinates": [[[2,2],[4,2],[4,4],[2,4],[2,2]]]}}
]}`

const twoPoints = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "properties": {"UniqueID": 7, "CLASS2": "A"},
   "geometry": {"type": "Point", "coordinates": [0.5, 3.5]}},
  {"type": "Feature", "properties": {"UniqueID": 8, "CLASS2": "B"},
   "geometry": {"type": "Point", "coordinates": [3.5, 0.5]}}
]}`

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// squares returns a collection of n unit squares along the bottom row of
// grid4, wrapping every four features.
func squares(n int) string {
	var b strings.Builder
	b.WriteString(`{"type": "FeatureCollection", "features": [`)
	for i := range n {
		if i > 0 {
			b.WriteString(",")
		}
		x := i % 4
		fmt.Fprintf(&b, `{"type": "Feature", "properties": {"UniqueID": %d, "CLASS2": "c%d"},
"geometry": {"type": "Polygon", "coordinates": [[[%d,0],[%d,0],[%d,1],[%d,1],[%d,0]]]}}`,
			i, i, x, x+1, x+1, x, x)
	}
	b.WriteString("]}")
	return b.String()
}

func baseConfig(t *testing.T, features string) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Features = writeInput(t, dir, "parcels.geojson", features)
	cfg.Raster = writeInput(t, dir, "et.asc", grid4)
	cfg.OutputFolder = filepath.Join(dir, "out")
	cfg.Filename = "et_2020"
	cfg.LineTerminator = "lf"
	return cfg
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func collect() (progress.Observer, *[]int64) {
	var counts []int64
	return progress.ObserverFunc(func(n int64) { counts = append(counts, n) }), &counts
}

func TestRun_Zonal(t *testing.T) {
	cfg := baseConfig(t, twoSquares)
	obs, counts := collect()

	out, err := Run(context.Background(), cfg, WithProgressObserver(obs))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.OutputFolder, "et_2020_zonal_stats.csv"), out)

	assert.Equal(t, []string{
		"min,max,mean,median,std,count,percentile_10,percentile_90,UniqueID,CLASS2",
		"9.00000,14.00000,11.50000,11.50000,2.06155,4,9.30000,13.70000,1,G",
		"3.00000,8.00000,5.50000,5.50000,2.06155,4,3.30000,7.70000,2,P",
	}, readLines(t, out))
	// Below the 1000 threshold only the final partial batch is reported.
	assert.Equal(t, []int64{2}, *counts)
}

func TestRun_DefaultLineTerminatorIsCRLF(t *testing.T) {
	cfg := baseConfig(t, twoSquares)
	cfg.LineTerminator = ""
	cfg.Stats = []string{"count"}

	out, err := Run(context.Background(), cfg, WithProgressObserver(progress.ObserverFunc(func(int64) {})))
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "count,UniqueID,CLASS2\r\n4,1,G\r\n4,2,P\r\n", string(data))
}

func TestRun_RowsFollowFeatureOrderAcrossBatches(t *testing.T) {
	cfg := baseConfig(t, squares(5))
	cfg.Stats = []string{"max"}
	cfg.WriteBatchSize = 2
	cfg.ReportThreshold = 2
	obs, counts := collect()

	out, err := Run(context.Background(), cfg, WithProgressObserver(obs))
	require.NoError(t, err)

	lines := readLines(t, out)
	require.Len(t, lines, 6)
	assert.Equal(t, "max,UniqueID,CLASS2", lines[0])
	bottom := []string{"13.00000", "14.00000", "15.00000", "16.00000", "13.00000"}
	for i, line := range lines[1:] {
		assert.Equal(t, fmt.Sprintf("%s,%d,c%d", bottom[i], i, i), line)
	}
	// Batches of 2, 2, 1: the partial last batch adds a final count.
	assert.Equal(t, []int64{2, 4, 5}, *counts)
}

func TestRun_NoFinalCountWithoutPartialBatch(t *testing.T) {
	cfg := baseConfig(t, squares(4))
	cfg.Stats = []string{"count"}
	cfg.WriteBatchSize = 2
	cfg.ReportThreshold = 2
	obs, counts := collect()

	_, err := Run(context.Background(), cfg, WithProgressObserver(obs))
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, *counts)
}

func TestRun_ProgressWrittenAsBareCounts(t *testing.T) {
	cfg := baseConfig(t, squares(3))
	cfg.Stats = []string{"count"}
	cfg.ReportThreshold = 1
	var buf strings.Builder

	_, err := Run(context.Background(), cfg, WithProgressOutput(&buf))
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n3\n", buf.String())
}

func TestRun_MissingKeepFieldWritesNoRow(t *testing.T) {
	cfg := baseConfig(t, twoSquares)
	cfg.KeepFields = []string{"UniqueID", "Acres"}

	out, err := Run(context.Background(), cfg, WithProgressObserver(progress.ObserverFunc(func(int64) {})))
	require.Error(t, err)
	assert.Empty(t, out)

	var missing *geoerr.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "Acres", missing.Field)
	assert.Equal(t, int64(0), missing.Feature)

	lines := readLines(t, filepath.Join(cfg.OutputFolder, "et_2020_zonal_stats.csv"))
	assert.Equal(t, []string{"min,max,mean,median,std,count,percentile_10,percentile_90,UniqueID,Acres"}, lines)
}

func TestRun_PointModeIgnoresStats(t *testing.T) {
	cfg := baseConfig(t, twoPoints)
	cfg.UsePoints = true
	cfg.Stats = []string{"not_a_stat"}

	out, err := Run(context.Background(), cfg, WithProgressObserver(progress.ObserverFunc(func(int64) {})))
	require.NoError(t, err)
	assert.Equal(t, "et_2020_point_query.csv", filepath.Base(out))
	assert.Equal(t, []string{"value,UniqueID,CLASS2", "1,7,A", "16,8,B"}, readLines(t, out))
}

func TestRun_PointModeRejectsPolygons(t *testing.T) {
	cfg := baseConfig(t, twoSquares)
	cfg.UsePoints = true

	out, err := Run(context.Background(), cfg, WithProgressObserver(progress.ObserverFunc(func(int64) {})))
	assert.Empty(t, out)
	assert.ErrorIs(t, err, geoerr.ErrNonPointGeometry)
}

func TestRun_ConstantsAndNoData(t *testing.T) {
	cfg := baseConfig(t, twoSquares)
	cfg.Stats = []string{"min", "count"}
	cfg.NoData = 9
	cfg.InjectConstants = []string{"year=2020", "scale=0.5", "source=landsat"}

	out, err := Run(context.Background(), cfg, WithProgressObserver(progress.ObserverFunc(func(int64) {})))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"min,count,UniqueID,CLASS2,year,scale,source",
		"10.00000,3,1,G,2020,0.50000,landsat",
		"3.00000,4,2,P,2020,0.50000,landsat",
	}, readLines(t, out))
}

func TestRun_OpenErrors(t *testing.T) {
	cfg := baseConfig(t, twoSquares)
	cfg.Features = filepath.Join(t.TempDir(), "missing.gpkg", "fields")

	_, err := Run(context.Background(), cfg)
	var openErr *geoerr.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, geoerr.Vector, openErr.Resource)
	assert.Equal(t, "fields", openErr.Layer)

	cfg = baseConfig(t, twoSquares)
	cfg.Raster = filepath.Join(t.TempDir(), "missing.tif")
	_, err = Run(context.Background(), cfg)
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, geoerr.Raster, openErr.Resource)
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := baseConfig(t, twoSquares)
	cfg.WriteBatchSize = 0

	_, err := Run(context.Background(), cfg)
	require.ErrorContains(t, err, "write_batch_size")
	_, statErr := os.Stat(cfg.OutputFolder)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_Canceled(t *testing.T) {
	cfg := baseConfig(t, twoSquares)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := Run(ctx, cfg, WithProgressObserver(progress.ObserverFunc(func(int64) {})))
	assert.Empty(t, out)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_Parquet(t *testing.T) {
	cfg := baseConfig(t, twoSquares)
	cfg.Format = FormatParquet
	cfg.Stats = []string{"mean"}
	cfg.WriteBatchSize = 1

	out, err := Run(context.Background(), cfg, WithProgressObserver(progress.ObserverFunc(func(int64) {})))
	require.NoError(t, err)
	assert.Equal(t, "et_2020_zonal_stats.parquet", filepath.Base(out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	st, err := f.Stat()
	require.NoError(t, err)
	pf, err := parquet.OpenFile(f, st.Size())
	require.NoError(t, err)
	assert.Equal(t, int64(2), pf.NumRows())
	assert.Len(t, pf.RowGroups(), 2)
}

// memStore is an in-memory S3.
type memStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	uploaded map[string][]byte
}

func (m *memStore) DownloadToFile(_ context.Context, bucket, key, dest string) (*s3io.TransferResult, error) {
	m.mu.Lock()
	body, ok := m.objects[bucket+"/"+key]
	m.mu.Unlock()
	if !ok {
		return nil, errors.New("NoSuchKey: " + key)
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return nil, err
	}
	return &s3io.TransferResult{Bytes: int64(len(body)), Duration: time.Millisecond}, nil
}

func (m *memStore) UploadFile(_ context.Context, src, bucket, key string) (*s3io.TransferResult, error) {
	body, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploaded[bucket+"/"+key] = body
	return &s3io.TransferResult{Bytes: int64(len(body)), Duration: time.Millisecond}, nil
}

func TestRun_RemoteInputsAndOutput(t *testing.T) {
	store := &memStore{
		objects: map[string][]byte{
			"bucket/in/parcels.geojson": []byte(twoSquares),
			"bucket/in/et.asc":          []byte(grid4),
		},
		uploaded: map[string][]byte{},
	}
	stageDir := filepath.Join(t.TempDir(), "stage")

	cfg := DefaultConfig()
	cfg.Features = "s3://bucket/in/parcels.geojson"
	cfg.Raster = "s3://bucket/in/et.asc"
	cfg.OutputFolder = "s3://bucket/results/"
	cfg.Filename = "et"
	cfg.Stats = []string{"count"}
	cfg.LineTerminator = "lf"
	cfg.S3.StageDir = stageDir

	out, err := Run(context.Background(), cfg,
		WithTransferrer(store),
		WithProgressObserver(progress.ObserverFunc(func(int64) {})))
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/results/et_zonal_stats.csv", out)
	assert.Equal(t, "count,UniqueID,CLASS2\n4,1,G\n4,2,P\n", string(store.uploaded["bucket/results/et_zonal_stats.csv"]))

	_, statErr := os.Stat(stageDir)
	assert.True(t, os.IsNotExist(statErr), "staged inputs are removed")
}
