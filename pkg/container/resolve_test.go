package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantPath  string
		wantLayer string
		hasLayer  bool
	}{
		{"gdb layer", "data.gdb/layer1", "data.gdb", "layer1", true},
		{"plain shapefile", "data.shp", "data.shp", "", false},
		{"dotted leaf disqualifies", "data.gpkg/layer.with.dot", "data.gpkg/layer.with.dot", "", false},
		{"gpkg layer nested", "/srv/in/fields.gpkg/fields_2019", "/srv/in/fields.gpkg", "fields_2019", true},
		{"gpkg file itself", "/srv/in/fields.gpkg", "/srv/in/fields.gpkg", "", false},
		{"unrelated parent", "/srv/in/layer1", "/srv/in/layer1", "", false},
		{"s3 container", "s3://bucket/zones.gpkg/zones", "s3://bucket/zones.gpkg", "zones", true},
		{"doubled separator", "data.gdb//layer1", "data.gdb", "layer1", true},
		{"trailing separator", "data.gdb/", "data.gdb/", "", false},
		{"suffix is case sensitive", "DATA.GDB/layer1", "DATA.GDB/layer1", "", false},
		{"bare name", "layer1", "layer1", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := Resolve(tt.path)
			assert.Equal(t, tt.wantPath, spec.Path())
			layer, ok := spec.Layer()
			assert.Equal(t, tt.hasLayer, ok)
			assert.Equal(t, tt.wantLayer, layer)
		})
	}
}

func TestOpenSpec_WithPathKeepsLayer(t *testing.T) {
	spec := Resolve("s3://bucket/zones.gpkg/zones")
	local := spec.WithPath("/tmp/stage/zones.gpkg")

	assert.Equal(t, "s3://bucket/zones.gpkg", spec.Path(), "original must not change")
	assert.Equal(t, "/tmp/stage/zones.gpkg", local.Path())
	layer, ok := local.Layer()
	assert.True(t, ok)
	assert.Equal(t, "zones", layer)
	assert.Equal(t, "/tmp/stage/zones.gpkg (layer zones)", local.String())
}

func TestNewOpenSpec(t *testing.T) {
	_, ok := NewOpenSpec("a.geojson", "").Layer()
	assert.False(t, ok)
	layer, ok := NewOpenSpec("a.gpkg", "roads").Layer()
	assert.True(t, ok)
	assert.Equal(t, "roads", layer)
}
