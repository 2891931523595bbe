package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"
)

// TIFF and GeoTIFF tag numbers.
const (
	tagImageWidth         = 256
	tagImageLength        = 257
	tagBitsPerSample      = 258
	tagCompression        = 259
	tagStripOffsets       = 273
	tagSamplesPerPixel    = 277
	tagRowsPerStrip       = 278
	tagStripByteCounts    = 279
	tagPlanarConfig       = 284
	tagPredictor          = 317
	tagTileWidth          = 322
	tagTileLength         = 323
	tagTileOffsets        = 324
	tagTileByteCounts     = 325
	tagSampleFormat       = 339
	tagModelPixelScale    = 33550
	tagModelTiepoint      = 33922
	tagModelTransform     = 34264
	tagGeoKeyDirectory    = 34735
	tagGDALNoData         = 42113
	geoKeyRasterType      = 1025
	rasterPixelIsPoint    = 2
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946
	predictorNone         = 1
	predictorHorizontal   = 2
	predictorFloat        = 3
	sampleUint            = 1
	sampleInt             = 2
	sampleFloat           = 3
)

// TIFF field types and their sizes in bytes.
var fieldTypeSize = map[uint16]int{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

var errNotTIFF = errors.New("not a classic TIFF file")

type ifdEntry struct {
	typ   uint16
	count uint32
	data  []byte
}

// geoTIFF decodes band 1 of a classic (non-Big) TIFF.
type geoTIFF struct {
	file  *os.File
	order binary.ByteOrder

	width, height   int
	bitsPerSample   int
	sampleFormat    int
	samplesPerPixel int
	planar          int
	compression     int
	predictor       int

	tiled          bool
	blockW, blockH int
	blocksAcross   int
	offsets        []uint64
	byteCounts     []uint64

	transform Transform
	nodata    float64
	hasNoData bool

	grid *blockedGrid
}

func openGeoTIFF(path string, opts Options) (*geoTIFF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	t, err := parseGeoTIFF(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	t.grid = newBlockedGrid(t, t.width, t.height, opts)
	return t, nil
}

func parseGeoTIFF(f *os.File) (*geoTIFF, error) {
	var hdr [8]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &geoTIFF{file: f}
	switch string(hdr[:2]) {
	case "II":
		t.order = binary.LittleEndian
	case "MM":
		t.order = binary.BigEndian
	default:
		return nil, errNotTIFF
	}
	switch t.order.Uint16(hdr[2:4]) {
	case 42:
	case 43:
		return nil, errors.New("BigTIFF is not supported")
	default:
		return nil, errNotTIFF
	}

	entries, err := t.readIFD(int64(t.order.Uint32(hdr[4:8])))
	if err != nil {
		return nil, err
	}
	if err := t.configure(entries); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *geoTIFF) readIFD(offset int64) (map[uint16]ifdEntry, error) {
	var cnt [2]byte
	if _, err := t.file.ReadAt(cnt[:], offset); err != nil {
		return nil, fmt.Errorf("read IFD: %w", err)
	}
	n := int(t.order.Uint16(cnt[:]))

	buf := make([]byte, n*12)
	if _, err := t.file.ReadAt(buf, offset+2); err != nil {
		return nil, fmt.Errorf("read IFD entries: %w", err)
	}

	entries := make(map[uint16]ifdEntry, n)
	for i := 0; i < n; i++ {
		e := buf[i*12 : (i+1)*12]
		tag := t.order.Uint16(e[0:2])
		typ := t.order.Uint16(e[2:4])
		count := t.order.Uint32(e[4:8])

		size, ok := fieldTypeSize[typ]
		if !ok {
			continue
		}
		total := int(count) * size
		var data []byte
		if total <= 4 {
			data = append([]byte(nil), e[8:8+total]...)
		} else {
			data = make([]byte, total)
			if _, err := t.file.ReadAt(data, int64(t.order.Uint32(e[8:12]))); err != nil {
				return nil, fmt.Errorf("read tag %d: %w", tag, err)
			}
		}
		entries[tag] = ifdEntry{typ: typ, count: count, data: data}
	}
	return entries, nil
}

func (t *geoTIFF) uints(e ifdEntry) []uint64 {
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case 1, 6, 7:
			out[i] = uint64(e.data[i])
		case 3, 8:
			out[i] = uint64(t.order.Uint16(e.data[i*2:]))
		case 4, 9:
			out[i] = uint64(t.order.Uint32(e.data[i*4:]))
		}
	}
	return out
}

func (t *geoTIFF) floats(e ifdEntry) []float64 {
	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case 12:
			out[i] = math.Float64frombits(t.order.Uint64(e.data[i*8:]))
		case 11:
			out[i] = float64(math.Float32frombits(t.order.Uint32(e.data[i*4:])))
		}
	}
	return out
}

func (t *geoTIFF) first(entries map[uint16]ifdEntry, tag uint16, def int) int {
	e, ok := entries[tag]
	if !ok || e.count == 0 {
		return def
	}
	return int(t.uints(e)[0])
}

func (t *geoTIFF) configure(entries map[uint16]ifdEntry) error {
	t.width = t.first(entries, tagImageWidth, 0)
	t.height = t.first(entries, tagImageLength, 0)
	if t.width <= 0 || t.height <= 0 {
		return errors.New("missing image dimensions")
	}
	t.bitsPerSample = t.first(entries, tagBitsPerSample, 1)
	t.sampleFormat = t.first(entries, tagSampleFormat, sampleUint)
	t.samplesPerPixel = t.first(entries, tagSamplesPerPixel, 1)
	t.planar = t.first(entries, tagPlanarConfig, 1)
	t.compression = t.first(entries, tagCompression, compressionNone)
	t.predictor = t.first(entries, tagPredictor, predictorNone)

	switch t.bitsPerSample {
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("%d bits per sample not supported", t.bitsPerSample)
	}
	switch t.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return fmt.Errorf("compression %d not supported", t.compression)
	}

	if _, ok := entries[tagTileWidth]; ok {
		t.tiled = true
		t.blockW = t.first(entries, tagTileWidth, 0)
		t.blockH = t.first(entries, tagTileLength, 0)
		t.offsets = t.uints(entries[tagTileOffsets])
		t.byteCounts = t.uints(entries[tagTileByteCounts])
	} else {
		t.blockW = t.width
		t.blockH = min(t.first(entries, tagRowsPerStrip, t.height), t.height)
		t.offsets = t.uints(entries[tagStripOffsets])
		t.byteCounts = t.uints(entries[tagStripByteCounts])
	}
	if t.blockW <= 0 || t.blockH <= 0 {
		return errors.New("invalid block size")
	}
	t.blocksAcross = (t.width + t.blockW - 1) / t.blockW
	blocksDown := (t.height + t.blockH - 1) / t.blockH
	if len(t.offsets) < t.blocksAcross*blocksDown || len(t.byteCounts) < len(t.offsets) {
		return fmt.Errorf("expected %d blocks, file lists %d", t.blocksAcross*blocksDown, len(t.offsets))
	}

	if e, ok := entries[tagGDALNoData]; ok {
		s := strings.Trim(string(e.data), "\x00 ")
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			t.nodata, t.hasNoData = v, true
		}
	}

	return t.georeference(entries)
}

func (t *geoTIFF) georeference(entries map[uint16]ifdEntry) error {
	if e, ok := entries[tagModelTransform]; ok && e.count >= 16 {
		m := t.floats(e)
		t.transform = Transform{m[3], m[0], m[1], m[7], m[4], m[5]}
	} else {
		scale, okScale := entries[tagModelPixelScale]
		tie, okTie := entries[tagModelTiepoint]
		if !okScale || !okTie || scale.count < 2 || tie.count < 6 {
			return errors.New("raster has no georeferencing")
		}
		s := t.floats(scale)
		p := t.floats(tie)
		t.transform = Transform{p[3] - p[0]*s[0], s[0], 0, p[4] + p[1]*s[1], 0, -s[1]}
	}

	if e, ok := entries[tagGeoKeyDirectory]; ok && t.geoKey(t.uints(e), geoKeyRasterType) == rasterPixelIsPoint {
		t.transform[0] -= 0.5 * t.transform[1]
		t.transform[3] -= 0.5 * t.transform[5]
	}
	return nil
}

// geoKey looks up a SHORT-valued key in the GeoKeyDirectory.
func (t *geoTIFF) geoKey(dir []uint64, key uint64) uint64 {
	if len(dir) < 4 {
		return 0
	}
	n := int(dir[3])
	for i := 0; i < n && 4+i*4+3 < len(dir); i++ {
		k := dir[4+i*4:]
		if k[0] == key && k[1] == 0 {
			return k[3]
		}
	}
	return 0
}

func (t *geoTIFF) blockSize() (int, int)            { return t.blockW, t.blockH }

func (t *geoTIFF) decodeBlock(bx, by int) ([]float64, error) {
	out := make([]float64, t.blockW*t.blockH)
	idx := by*t.blocksAcross + bx
	if t.byteCounts[idx] == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out, nil
	}

	raw := make([]byte, t.byteCounts[idx])
	if _, err := t.file.ReadAt(raw, int64(t.offsets[idx])); err != nil {
		return nil, fmt.Errorf("read block: %w", err)
	}
	data, err := t.decompress(raw)
	if err != nil {
		return nil, err
	}

	spp := t.samplesPerPixel
	if t.planar == 2 {
		spp = 1
	}
	bps := t.bitsPerSample / 8
	rowBytes := t.blockW * spp * bps
	rows := min(len(data)/rowBytes, t.blockH)

	order := t.order
	for r := 0; r < rows; r++ {
		row := data[r*rowBytes : (r+1)*rowBytes]
		switch t.predictor {
		case predictorHorizontal:
			undoHorizontal(row, spp, bps, t.order)
		case predictorFloat:
			undoFloatPredictor(row, spp, bps)
			order = binary.BigEndian
		}
	}

	for r := 0; r < t.blockH; r++ {
		for c := 0; c < t.blockW; c++ {
			i := r*t.blockW + c
			if r >= rows {
				out[i] = math.NaN()
				continue
			}
			off := i * spp * bps
			out[i] = t.sample(data[off:off+bps], order)
		}
	}
	return out, nil
}

func (t *geoTIFF) decompress(raw []byte) ([]byte, error) {
	switch t.compression {
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil && len(data) == 0 {
			return nil, fmt.Errorf("lzw: %w", err)
		}
		return data, nil
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return data, nil
	default:
		return raw, nil
	}
}

func (t *geoTIFF) sample(b []byte, order binary.ByteOrder) float64 {
	switch t.sampleFormat {
	case sampleFloat:
		if len(b) == 4 {
			return float64(math.Float32frombits(order.Uint32(b)))
		}
		return math.Float64frombits(order.Uint64(b))
	case sampleInt:
		switch len(b) {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(order.Uint16(b)))
		case 4:
			return float64(int32(order.Uint32(b)))
		default:
			return float64(int64(order.Uint64(b)))
		}
	default:
		switch len(b) {
		case 1:
			return float64(b[0])
		case 2:
			return float64(order.Uint16(b))
		case 4:
			return float64(order.Uint32(b))
		default:
			return float64(order.Uint64(b))
		}
	}
}

// undoHorizontal reverses predictor 2: each sample is stored as the
// difference from the sample one pixel to its left.
func undoHorizontal(row []byte, spp, bps int, order binary.ByteOrder) {
	n := len(row) / bps
	for i := spp; i < n; i++ {
		cur, prev := row[i*bps:], row[(i-spp)*bps:]
		switch bps {
		case 1:
			cur[0] += prev[0]
		case 2:
			order.PutUint16(cur, order.Uint16(cur)+order.Uint16(prev))
		case 4:
			order.PutUint32(cur, order.Uint32(cur)+order.Uint32(prev))
		case 8:
			order.PutUint64(cur, order.Uint64(cur)+order.Uint64(prev))
		}
	}
}

// undoFloatPredictor reverses predictor 3. The row holds byte-wise
// differences of the samples' bytes, grouped most significant byte first.
// The result is big-endian regardless of the file byte order.
func undoFloatPredictor(row []byte, spp, bps int) {
	for i := spp; i < len(row); i++ {
		row[i] += row[i-spp]
	}
	n := len(row) / bps
	tmp := append([]byte(nil), row...)
	for i := 0; i < n; i++ {
		for b := 0; b < bps; b++ {
			row[i*bps+b] = tmp[b*n+i]
		}
	}
}

func (t *geoTIFF) Width() int                       { return t.width }
func (t *geoTIFF) Height() int                      { return t.height }
func (t *geoTIFF) Transform() Transform             { return t.transform }
func (t *geoTIFF) NoData() (float64, bool)          { return t.nodata, t.hasNoData }
func (t *geoTIFF) Integer() bool                    { return t.sampleFormat != sampleFloat }
func (t *geoTIFF) Read(w Window) ([]float64, error) { return t.grid.read(w) }

func (t *geoTIFF) CacheCapacity() (int, int64) { return t.grid.cacheCapacity() }

func (t *geoTIFF) Close() error {
	t.grid.close()
	return t.file.Close()
}
