package s3io

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{
			uri:        "s3://my-bucket/rasters/et_2023.tif",
			wantBucket: "my-bucket",
			wantKey:    "rasters/et_2023.tif",
		},
		{
			uri:        "s3://bucket/key",
			wantBucket: "bucket",
			wantKey:    "key",
		},
		{
			uri:        "s3://bucket-only/",
			wantBucket: "bucket-only",
			wantKey:    "",
		},
		{
			uri:     "https://bucket/key",
			wantErr: true,
		},
		{
			uri:     "s3:///key",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseS3URI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.wantBucket {
				t.Errorf("bucket = %q, want %q", bucket, tt.wantBucket)
			}
			if key != tt.wantKey {
				t.Errorf("key = %q, want %q", key, tt.wantKey)
			}
		})
	}
}

func TestParseObjectURI(t *testing.T) {
	for _, uri := range []string{"s3://bucket", "s3://bucket/", "s3://bucket/prefix/"} {
		if _, _, err := ParseObjectURI(uri); err == nil {
			t.Errorf("ParseObjectURI(%q): expected error", uri)
		}
	}
	if _, key, err := ParseObjectURI("s3://b/out/run_zonal_stats.csv"); err != nil || key != "out/run_zonal_stats.csv" {
		t.Errorf("unexpected key %q, err %v", key, err)
	}
}

func TestJoin(t *testing.T) {
	if got := Join("s3://b/out/", "x.csv"); got != "s3://b/out/x.csv" {
		t.Errorf("Join = %q", got)
	}
	if got := Join("s3://b", "x.csv"); got != "s3://b/x.csv" {
		t.Errorf("Join = %q", got)
	}
}

func TestDefaultConfigs(t *testing.T) {
	d := DefaultDownloaderConfig()
	if d.Concurrency < 4 || d.Concurrency > 16 {
		t.Errorf("Concurrency = %d, want 4..16", d.Concurrency)
	}
	if d.PartSize != 16*1024*1024 {
		t.Errorf("PartSize = %d, want 16MB", d.PartSize)
	}
	if u := DefaultUploaderConfig(); u.Concurrency != d.Concurrency {
		t.Errorf("uploader Concurrency = %d, want %d", u.Concurrency, d.Concurrency)
	}
}

// fakeStore serves objects from memory.
type fakeStore struct {
	mu       sync.Mutex
	objects  map[string]string
	gets     []string
	uploaded map[string]string
}

func (f *fakeStore) DownloadToFile(_ context.Context, bucket, key, dest string) (*TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, bucket+"/"+key)
	body, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey: " + key)
	}
	if err := os.WriteFile(dest, []byte(body), 0o644); err != nil {
		return nil, err
	}
	return &TransferResult{Bytes: int64(len(body)), Duration: time.Millisecond}, nil
}

func (f *fakeStore) UploadFile(_ context.Context, src, bucket, key string) (*TransferResult, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploaded == nil {
		f.uploaded = map[string]string{}
	}
	f.uploaded[bucket+"/"+key] = string(data)
	return &TransferResult{Bytes: int64(len(data)), Duration: time.Millisecond}, nil
}

func TestStager_Stage(t *testing.T) {
	store := &fakeStore{objects: map[string]string{
		"b/fields/parcels.shp": "shp",
		"b/fields/parcels.shx": "shx",
		"b/fields/parcels.dbf": "dbf",
		"b/et.tif":             "tif",
	}}
	dir := t.TempDir()
	s := NewStager(store, StageConfig{Dir: dir, KeepFiles: true})

	local, err := s.Stage(context.Background(), "s3://b/fields/parcels.shp", "/data/et.tif", "s3://b/et.tif")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if local[1] != "/data/et.tif" {
		t.Errorf("local input rewritten to %q", local[1])
	}
	if want := filepath.Join(dir, "0", "parcels.shp"); local[0] != want {
		t.Errorf("staged shp = %q, want %q", local[0], want)
	}
	for _, side := range []string{"parcels.shx", "parcels.dbf"} {
		if _, err := os.Stat(filepath.Join(dir, "0", side)); err != nil {
			t.Errorf("sidecar %s not staged: %v", side, err)
		}
	}
	data, err := os.ReadFile(local[2])
	if err != nil || string(data) != "tif" {
		t.Errorf("staged raster = %q, %v", data, err)
	}

	slices.Sort(store.gets)
	want := []string{"b/et.tif", "b/fields/parcels.dbf", "b/fields/parcels.shp", "b/fields/parcels.shx"}
	if !slices.Equal(store.gets, want) {
		t.Errorf("gets = %v, want %v", store.gets, want)
	}
}

func TestStager_MissingObject(t *testing.T) {
	s := NewStager(&fakeStore{objects: map[string]string{}}, StageConfig{Dir: t.TempDir()})
	if _, err := s.Stage(context.Background(), "s3://b/missing.tif"); err == nil {
		t.Fatal("expected error for missing object")
	}
}

func TestStager_TempDirCleanup(t *testing.T) {
	store := &fakeStore{objects: map[string]string{"b/x.geojson": "{}"}}
	s := NewStager(store, StageConfig{})

	if _, err := s.Stage(context.Background(), "s3://b/x.geojson"); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	dir := s.Dir()
	if dir == "" {
		t.Fatal("expected a staging dir")
	}
	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("staging dir still exists: %v", err)
	}
}

func TestStager_NothingToStage(t *testing.T) {
	s := NewStager(&fakeStore{}, StageConfig{})
	local, err := s.Stage(context.Background(), "a.gpkg", "b.asc")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if !slices.Equal(local, []string{"a.gpkg", "b.asc"}) {
		t.Errorf("local = %v", local)
	}
	if s.Dir() != "" {
		t.Errorf("unexpected staging dir %q", s.Dir())
	}
}

func TestPublish(t *testing.T) {
	src := filepath.Join(t.TempDir(), "out.csv")
	if err := os.WriteFile(src, []byte("a,b\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := &fakeStore{}
	if err := Publish(context.Background(), store, src, "s3://results/2023/out.csv"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := store.uploaded["results/2023/out.csv"]; got != "a,b\r\n" {
		t.Errorf("uploaded = %q", got)
	}
	if err := Publish(context.Background(), store, src, "s3://results/"); err == nil {
		t.Error("expected error for prefix destination")
	}
}
